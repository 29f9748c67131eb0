// Package bootstrap restores a stored session at process startup and seeds
// the auth state machine from it.
//
// Reads are retried a small bounded number of times: another process may have
// written the durable tier moments before this one started, and a single read
// racing that write would produce a false "not authenticated" state. After a
// record is obtained and validated the machine transitions to authenticated
// from the cached snapshot immediately, and a background profile fetch
// replaces the snapshot unless the token is about to expire anyway. A fetch
// that resolves after cancellation, or after a newer Hydrate superseded it,
// is discarded.
package bootstrap

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/louisbranch/memberkit/internal/authstate"
	"github.com/louisbranch/memberkit/internal/platform/timeouts"
	"github.com/louisbranch/memberkit/internal/session"
	"github.com/louisbranch/memberkit/internal/session/store"
	"github.com/louisbranch/memberkit/internal/token"
)

// ProfileFetcher fetches the authoritative user snapshot for a bearer token.
type ProfileFetcher interface {
	Profile(ctx context.Context, bearer string) (session.User, error)
}

// Bootstrapper hydrates the auth state machine from the session store.
type Bootstrapper struct {
	store    *store.Store
	machine  *authstate.Machine
	profiles ProfileFetcher

	logger      *log.Logger
	now         func() time.Time
	maxAttempts int
	retryDelay  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Option configures a Bootstrapper.
type Option func(*Bootstrapper)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Bootstrapper) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLogger overrides the logger used for swallowed background failures.
func WithLogger(l *log.Logger) Option {
	return func(b *Bootstrapper) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithRetry overrides the read retry policy.
func WithRetry(maxAttempts int, delay time.Duration) Option {
	return func(b *Bootstrapper) {
		if maxAttempts > 0 {
			b.maxAttempts = maxAttempts
		}
		if delay > 0 {
			b.retryDelay = delay
		}
	}
}

// New returns a Bootstrapper over the given store and machine. profiles may
// be nil, in which case the background snapshot refresh is skipped.
func New(s *store.Store, m *authstate.Machine, profiles ProfileFetcher, opts ...Option) *Bootstrapper {
	b := &Bootstrapper{
		store:       s,
		machine:     m,
		profiles:    profiles,
		logger:      log.Default(),
		now:         time.Now,
		maxAttempts: 3,
		retryDelay:  timeouts.BootstrapRetryDelay,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ReadWithRetry reads the stored session, retrying with a short fixed delay
// when no record is found. It returns nil without error once the attempts
// are exhausted.
func (b *Bootstrapper) ReadWithRetry(ctx context.Context) (*session.Record, error) {
	var lastErr error
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		rec, err := b.store.Read(ctx)
		if err == nil && rec != nil {
			return rec, nil
		}
		lastErr = err
		if attempt == b.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.retryDelay):
		}
	}
	return nil, lastErr
}

// Hydrate drives one full bootstrap: loading, read with retry, then either
// authenticated from the cached snapshot or unauthenticated. Calling Hydrate
// again cancels any background snapshot refresh still in flight from the
// previous call.
func (b *Bootstrapper) Hydrate(ctx context.Context) *session.Record {
	b.machine.InitStart()

	rec, err := b.ReadWithRetry(ctx)
	if err != nil {
		b.logger.Printf("bootstrap: session read failed: %v", err)
	}
	if rec == nil {
		b.machine.InitFail()
		return nil
	}

	b.machine.InitSuccess(rec.User, rec.Token)

	if b.profiles == nil || token.WillExpireSoon(rec.Token, timeouts.ExpirySoonWindow, b.now) {
		return rec
	}
	go b.refreshSnapshot(b.beginRefresh(ctx), rec.Token)
	return rec
}

// Close cancels any background snapshot refresh still in flight.
func (b *Bootstrapper) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

func (b *Bootstrapper) beginRefresh(parent context.Context) context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	b.cancel = cancel
	return ctx
}

// refreshSnapshot replaces the cached user snapshot with a freshly fetched
// one. Failures never downgrade an already-authenticated state. A result
// arriving after the context was cancelled is discarded.
func (b *Bootstrapper) refreshSnapshot(ctx context.Context, bearer string) {
	user, err := b.profiles.Profile(ctx, bearer)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			b.logger.Printf("bootstrap: profile refresh failed: %v", err)
		}
		return
	}
	if ctx.Err() != nil {
		return
	}

	patch := session.UserPatch{Email: &user.Email, DisplayName: &user.DisplayName}
	if _, err := b.store.UpdateUser(ctx, patch); err != nil {
		b.logger.Printf("bootstrap: snapshot persist failed: %v", err)
	}
	b.machine.SetUser(user)
}
