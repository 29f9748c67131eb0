package guard

import (
	"context"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"github.com/louisbranch/memberkit/internal/authstate"
	"github.com/louisbranch/memberkit/internal/session"
	"github.com/louisbranch/memberkit/internal/session/bootstrap"
	"github.com/louisbranch/memberkit/internal/session/store"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func validRecord(now time.Time) session.Record {
	return session.Record{
		Token:     "access-1",
		ExpiresAt: now.Add(time.Hour),
		User:      session.User{UserID: "u-1", Email: "ada@example.com"},
		StoredAt:  now,
	}
}

func waitForStatus(t *testing.T, m *authstate.Machine, want authstate.Status) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if m.State().Status == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("status = %v, want %v", m.State().Status, want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func newGuard(t *testing.T, s *store.Store, m *authstate.Machine, logout LogoutFunc, opts ...Option) *Guard {
	t.Helper()
	if logout == nil {
		logout = func(ctx context.Context) error {
			if err := s.Clear(ctx); err != nil {
				return err
			}
			m.Logout()
			return nil
		}
	}
	boot := bootstrap.New(s, m, nil, bootstrap.WithRetry(1, time.Millisecond), bootstrap.WithLogger(quietLogger()))
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(s, m, boot, logout, opts...)
}

func TestProtectAfterBootstrapWithSession(t *testing.T) {
	now := time.Now().UTC()
	s := store.New(store.NewMemoryTier(), store.NewMemoryTier(), time.Now)
	if err := s.Persist(context.Background(), validRecord(now), true); err != nil {
		t.Fatalf("seed: %v", err)
	}

	m := authstate.New()
	g := newGuard(t, s, m, nil, WithWatchInterval(0), WithInactivityTimeout(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	protectCtx, protectCancel := context.WithTimeout(ctx, 2*time.Second)
	defer protectCancel()
	if err := g.Protect(protectCtx); err != nil {
		t.Fatalf("protect: %v", err)
	}
	if m.State().Status != authstate.StatusAuthenticated {
		t.Fatalf("status = %v", m.State().Status)
	}
}

func TestProtectWithoutSession(t *testing.T) {
	s := store.New(store.NewMemoryTier(), store.NewMemoryTier(), time.Now)
	m := authstate.New()
	g := newGuard(t, s, m, nil, WithWatchInterval(0), WithInactivityTimeout(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	protectCtx, protectCancel := context.WithTimeout(ctx, 2*time.Second)
	defer protectCancel()
	if err := g.Protect(protectCtx); err == nil {
		t.Fatal("protect must fail without a session")
	}
}

func TestStoreClearedForcesLogout(t *testing.T) {
	now := time.Now().UTC()
	s := store.New(store.NewMemoryTier(), store.NewMemoryTier(), time.Now)
	if err := s.Persist(context.Background(), validRecord(now), true); err != nil {
		t.Fatalf("seed: %v", err)
	}

	m := authstate.New()
	g := newGuard(t, s, m, nil, WithWatchInterval(0), WithInactivityTimeout(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)
	waitForStatus(t, m, authstate.StatusAuthenticated)

	if err := s.Clear(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	waitForStatus(t, m, authstate.StatusUnauthenticated)
}

func TestCrossProcessLoginObservedThroughWatch(t *testing.T) {
	// Two stores sharing one durable tier stand in for two processes
	// sharing the on-disk database.
	durable := store.NewMemoryTier()
	local := store.New(store.NewMemoryTier(), durable, time.Now)
	remote := store.New(store.NewMemoryTier(), durable, time.Now)

	m := authstate.New()
	g := newGuard(t, local, m, nil,
		WithWatchInterval(10*time.Millisecond),
		WithInactivityTimeout(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)
	waitForStatus(t, m, authstate.StatusUnauthenticated)

	now := time.Now().UTC()
	if err := remote.Persist(context.Background(), validRecord(now), true); err != nil {
		t.Fatalf("remote persist: %v", err)
	}
	waitForStatus(t, m, authstate.StatusAuthenticated)
}

func TestInactivityLogsOutExactlyOnce(t *testing.T) {
	now := time.Now().UTC()
	s := store.New(store.NewMemoryTier(), store.NewMemoryTier(), time.Now)
	if err := s.Persist(context.Background(), validRecord(now), true); err != nil {
		t.Fatalf("seed: %v", err)
	}

	m := authstate.New()
	var logouts atomic.Int32
	logout := func(ctx context.Context) error {
		logouts.Add(1)
		if err := s.Clear(ctx); err != nil {
			return err
		}
		m.Logout()
		return nil
	}
	g := newGuard(t, s, m, logout, WithWatchInterval(0), WithInactivityTimeout(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)
	waitForStatus(t, m, authstate.StatusAuthenticated)

	waitForStatus(t, m, authstate.StatusUnauthenticated)
	// Let several more timer periods elapse; the logout must not repeat.
	time.Sleep(200 * time.Millisecond)
	if got := logouts.Load(); got != 1 {
		t.Fatalf("logout invocations = %d, want exactly 1", got)
	}
}

func TestTouchDefersInactivityLogout(t *testing.T) {
	now := time.Now().UTC()
	s := store.New(store.NewMemoryTier(), store.NewMemoryTier(), time.Now)
	if err := s.Persist(context.Background(), validRecord(now), true); err != nil {
		t.Fatalf("seed: %v", err)
	}

	m := authstate.New()
	var logouts atomic.Int32
	logout := func(ctx context.Context) error {
		logouts.Add(1)
		m.Logout()
		return nil
	}
	g := newGuard(t, s, m, logout, WithWatchInterval(0), WithInactivityTimeout(200*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)
	waitForStatus(t, m, authstate.StatusAuthenticated)

	for i := 0; i < 4; i++ {
		time.Sleep(50 * time.Millisecond)
		g.Touch()
	}
	if got := logouts.Load(); got != 0 {
		t.Fatalf("logout fired despite activity: %d", got)
	}
	if m.State().Status != authstate.StatusAuthenticated {
		t.Fatalf("status = %v, want authenticated while active", m.State().Status)
	}
}
