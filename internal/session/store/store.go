package store

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/memberkit/internal/session"
)

// EventKind identifies a session lifecycle broadcast.
type EventKind int

const (
	// EventUpdated fires after a session record is written.
	EventUpdated EventKind = iota + 1
	// EventCleared fires after the session is removed.
	EventCleared
)

// Event is an intra-process session lifecycle notification. Record is only
// populated for EventUpdated.
type Event struct {
	Kind   EventKind
	Record session.Record
}

// subscriberBuffer bounds the per-subscriber event queue. A subscriber that
// falls this far behind starts losing the oldest unread events.
const subscriberBuffer = 16

// Store coordinates the two session tiers and broadcasts lifecycle events.
// Writes complete before their event is delivered, and events for one
// subscriber arrive in write order.
type Store struct {
	process Tier
	durable Tier
	now     func() time.Time

	mu        sync.Mutex
	subs      map[int]chan Event
	nextSubID int
	lastWrite string
}

// New builds a Store over the given tiers. durable may be nil for callers
// that never remember sessions across restarts.
func New(process, durable Tier, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		process: process,
		durable: durable,
		now:     now,
		subs:    make(map[int]chan Event),
	}
}

// Persist writes the record to the process tier unconditionally and to the
// durable tier only when remember is set. An EventUpdated broadcast follows
// the completed write. Expired records are accepted here; Read purges them.
func (s *Store) Persist(ctx context.Context, rec session.Record, remember bool) error {
	if rec.Token == "" {
		return session.ErrEmptyToken
	}

	if err := s.process.Put(ctx, rec); err != nil {
		return fmt.Errorf("persist process tier: %w", err)
	}
	if remember && s.durable != nil {
		if err := s.durable.Put(ctx, rec); err != nil {
			return fmt.Errorf("persist durable tier: %w", err)
		}
		s.setLastWrite(fingerprint(rec, true))
	}

	s.broadcast(Event{Kind: EventUpdated, Record: rec})
	return nil
}

// Read returns the current session, preferring the process tier and falling
// back to the durable tier. A durable hit is mirrored into the process tier
// so subsequent reads stay process-local. Records that fail validation are
// purged from both tiers with an EventCleared broadcast, and Read reports no
// session.
func (s *Store) Read(ctx context.Context) (*session.Record, error) {
	rec, ok, err := s.process.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("read process tier: %w", err)
	}

	fromDurable := false
	if !ok && s.durable != nil {
		rec, ok, err = s.durable.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("read durable tier: %w", err)
		}
		fromDurable = ok
	}
	if !ok {
		return nil, nil
	}

	if err := rec.Validate(s.now); err != nil {
		if clearErr := s.Clear(ctx); clearErr != nil {
			return nil, clearErr
		}
		return nil, nil
	}

	if fromDurable {
		if err := s.process.Put(ctx, rec); err != nil {
			return nil, fmt.Errorf("mirror into process tier: %w", err)
		}
	}
	return &rec, nil
}

// Peek returns the stored record without validation or purging, preferring
// the process tier. The refresh path needs the refresh token of a session
// whose access token already expired, which Read would purge.
func (s *Store) Peek(ctx context.Context) (*session.Record, error) {
	rec, ok, err := s.process.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("read process tier: %w", err)
	}
	if !ok && s.durable != nil {
		rec, ok, err = s.durable.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("read durable tier: %w", err)
		}
	}
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Rotate replaces the stored record after a token refresh, writing to
// whichever tiers currently hold data so a remembered session stays
// remembered and a process-only session stays process-only.
func (s *Store) Rotate(ctx context.Context, rec session.Record) error {
	if rec.Token == "" {
		return session.ErrEmptyToken
	}

	durOK := false
	if s.durable != nil {
		_, ok, err := s.durable.Get(ctx)
		if err != nil {
			return fmt.Errorf("read durable tier: %w", err)
		}
		durOK = ok
	}

	if err := s.process.Put(ctx, rec); err != nil {
		return fmt.Errorf("persist process tier: %w", err)
	}
	if durOK {
		if err := s.durable.Put(ctx, rec); err != nil {
			return fmt.Errorf("persist durable tier: %w", err)
		}
		s.setLastWrite(fingerprint(rec, true))
	}

	s.broadcast(Event{Kind: EventUpdated, Record: rec})
	return nil
}

// Clear removes the session from both tiers and always broadcasts
// EventCleared, whether or not a record existed.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.process.Delete(ctx); err != nil {
		return fmt.Errorf("clear process tier: %w", err)
	}
	if s.durable != nil {
		if err := s.durable.Delete(ctx); err != nil {
			return fmt.Errorf("clear durable tier: %w", err)
		}
		s.setLastWrite("")
	}

	s.broadcast(Event{Kind: EventCleared})
	return nil
}

// UpdateUser merges the patch into the stored record's user snapshot and
// re-persists to whichever tiers currently hold data. It returns the merged
// record, or nil when no session is stored.
func (s *Store) UpdateUser(ctx context.Context, patch session.UserPatch) (*session.Record, error) {
	procRec, procOK, err := s.process.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("read process tier: %w", err)
	}

	var (
		durRec session.Record
		durOK  bool
	)
	if s.durable != nil {
		durRec, durOK, err = s.durable.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("read durable tier: %w", err)
		}
	}
	if !procOK && !durOK {
		return nil, nil
	}

	base := procRec
	if !procOK {
		base = durRec
	}
	merged := base.MergeUser(patch)

	if procOK {
		if err := s.process.Put(ctx, merged); err != nil {
			return nil, fmt.Errorf("persist process tier: %w", err)
		}
	}
	if durOK {
		if err := s.durable.Put(ctx, merged); err != nil {
			return nil, fmt.Errorf("persist durable tier: %w", err)
		}
		s.setLastWrite(fingerprint(merged, true))
	}

	s.broadcast(Event{Kind: EventUpdated, Record: merged})
	return &merged, nil
}

// Subscribe registers an intra-process listener for lifecycle events. The
// cancel function must be called on teardown so handlers do not accumulate
// across restarts of a consumer.
func (s *Store) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan Event, subscriberBuffer)
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existing, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Watch polls the durable tier and rebroadcasts writes made by other
// processes as local events. The store's own durable writes are skipped,
// mirroring platform storage notifications that never fire in the writing
// context. Watch blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, interval time.Duration) error {
	if s.durable == nil {
		<-ctx.Done()
		return nil
	}

	last, err := s.durableFingerprint(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fp, err := s.durableFingerprint(ctx)
			if err != nil {
				log.Printf("session watch: %v", err)
				continue
			}
			if fp == last {
				continue
			}
			last = fp
			if fp == s.getLastWrite() {
				continue
			}

			if fp == "" {
				if err := s.process.Delete(ctx); err != nil {
					log.Printf("session watch: clear process tier: %v", err)
				}
				s.broadcast(Event{Kind: EventCleared})
				continue
			}

			rec, ok, err := s.durable.Get(ctx)
			if err != nil || !ok {
				continue
			}
			if err := s.process.Put(ctx, rec); err != nil {
				log.Printf("session watch: mirror process tier: %v", err)
			}
			s.broadcast(Event{Kind: EventUpdated, Record: rec})
		}
	}
}

func (s *Store) durableFingerprint(ctx context.Context) (string, error) {
	rec, ok, err := s.durable.Get(ctx)
	if err != nil {
		return "", err
	}
	return fingerprint(rec, ok), nil
}

func (s *Store) broadcast(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber queue is full; shed the oldest event to keep the
			// newest state visible.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

func (s *Store) setLastWrite(fp string) {
	s.mu.Lock()
	s.lastWrite = fp
	s.mu.Unlock()
}

func (s *Store) getLastWrite() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastWrite
}

// fingerprint summarizes durable state for change detection. Every field a
// write can touch participates, so a user-snapshot-only update is as visible
// to other processes as a token rotation.
func fingerprint(rec session.Record, present bool) string {
	if !present {
		return ""
	}
	return strings.Join([]string{
		rec.Token,
		rec.RefreshToken,
		strconv.FormatInt(rec.StoredAt.UnixMilli(), 10),
		rec.User.UserID,
		rec.User.Email,
		rec.User.DisplayName,
	}, "|")
}
