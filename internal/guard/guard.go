// Package guard supervises an authenticated session for a running process.
//
// Run bootstraps the auth state machine from the stored session and then
// keeps the machine reconciled with the session store: store broadcasts from
// this process, durable-tier changes made by other processes, token
// expiry and member inactivity. Protect gates an operation on the outcome of
// that supervision.
package guard

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/louisbranch/memberkit/internal/authstate"
	apperrors "github.com/louisbranch/memberkit/internal/platform/errors"
	"github.com/louisbranch/memberkit/internal/session/bootstrap"
	"github.com/louisbranch/memberkit/internal/session/store"
)

// LogoutFunc tears down the session when the guard decides the member is
// gone. It must clear the store and transition the machine.
type LogoutFunc func(ctx context.Context) error

// Guard composes bootstrap, store supervision and the inactivity timeout.
type Guard struct {
	store   *store.Store
	machine *authstate.Machine
	boot    *bootstrap.Bootstrapper
	logout  LogoutFunc

	logger            *log.Logger
	now               func() time.Time
	inactivityTimeout time.Duration
	watchInterval     time.Duration

	activity chan struct{}

	mu             sync.Mutex
	inactivityDone bool
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger overrides the supervision logger.
func WithLogger(l *log.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithInactivityTimeout overrides how long the member may be idle before a
// forced logout. Zero disables the inactivity timer.
func WithInactivityTimeout(d time.Duration) Option {
	return func(g *Guard) { g.inactivityTimeout = d }
}

// WithWatchInterval overrides the durable-tier polling cadence. Zero
// disables cross-process watching.
func WithWatchInterval(d time.Duration) Option {
	return func(g *Guard) { g.watchInterval = d }
}

// New builds a Guard. logout is invoked at most once per Run when the
// inactivity timeout elapses.
func New(s *store.Store, m *authstate.Machine, boot *bootstrap.Bootstrapper, logout LogoutFunc, opts ...Option) *Guard {
	g := &Guard{
		store:             s,
		machine:           m,
		boot:              boot,
		logout:            logout,
		logger:            log.Default(),
		now:               time.Now,
		inactivityTimeout: 30 * time.Minute,
		watchInterval:     2 * time.Second,
		activity:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Touch reports member activity and resets the inactivity timer. Safe to
// call from any goroutine; calls while no Run is active are dropped.
func (g *Guard) Touch() {
	select {
	case g.activity <- struct{}{}:
	default:
	}
}

// Run bootstraps the session and supervises it until ctx is cancelled.
// All timers and subscriptions are torn down on return.
func (g *Guard) Run(ctx context.Context) error {
	g.mu.Lock()
	g.inactivityDone = false
	g.mu.Unlock()

	g.boot.Hydrate(ctx)
	defer g.boot.Close()

	events, unsubscribe := g.store.Subscribe()
	defer unsubscribe()

	if g.watchInterval > 0 {
		go func() {
			if err := g.store.Watch(ctx, g.watchInterval); err != nil {
				g.logger.Printf("guard: durable watch stopped: %v", err)
			}
		}()
	}

	idle := newIdleTimer(g.inactivityTimeout)
	defer idle.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			g.reconcile(ev)
		case <-g.activity:
			idle.reset()
		case <-idle.c():
			g.onInactivity(ctx)
			idle.reset()
		}
	}
}

// reconcile folds a store broadcast into the machine snapshot.
func (g *Guard) reconcile(ev store.Event) {
	switch ev.Kind {
	case store.EventCleared:
		if g.machine.State().Status != authstate.StatusUnauthenticated {
			g.machine.Logout()
		}
	case store.EventUpdated:
		if ev.Record.Validate(g.now) != nil {
			return
		}
		if g.machine.State().Status == authstate.StatusAuthenticated {
			g.machine.SetUser(ev.Record.User)
			g.machine.SetToken(ev.Record.Token)
			return
		}
		// Another process logged in; this one follows.
		g.machine.AuthSuccess(ev.Record.User, ev.Record.Token)
	}
}

// onInactivity forces a logout at most once per Run.
func (g *Guard) onInactivity(ctx context.Context) {
	if g.machine.State().Status != authstate.StatusAuthenticated {
		return
	}
	g.mu.Lock()
	done := g.inactivityDone
	g.inactivityDone = true
	g.mu.Unlock()
	if done {
		return
	}

	g.logger.Printf("guard: inactivity timeout, logging out")
	if err := g.logout(ctx); err != nil {
		g.logger.Printf("guard: inactivity logout failed: %v", err)
	}
}

// Protect blocks until the machine reaches a terminal status. It returns nil
// when authenticated and a session error otherwise.
func (g *Guard) Protect(ctx context.Context) error {
	states, unsubscribe := g.machine.Subscribe()
	defer unsubscribe()

	state := g.machine.State()
	for {
		switch state.Status {
		case authstate.StatusAuthenticated:
			return nil
		case authstate.StatusUnauthenticated:
			if state.Err != nil {
				return state.Err
			}
			return apperrors.New(apperrors.CodeSessionMissing, "not authenticated")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case state = <-states:
		}
	}
}

// idleTimer wraps time.Timer with a disabled mode for a zero timeout.
type idleTimer struct {
	timer   *time.Timer
	timeout time.Duration
}

func newIdleTimer(timeout time.Duration) *idleTimer {
	it := &idleTimer{timeout: timeout}
	if timeout > 0 {
		it.timer = time.NewTimer(timeout)
	}
	return it
}

func (it *idleTimer) c() <-chan time.Time {
	if it.timer == nil {
		return nil
	}
	return it.timer.C
}

func (it *idleTimer) reset() {
	if it.timer == nil {
		return
	}
	if !it.timer.Stop() {
		select {
		case <-it.timer.C:
		default:
		}
	}
	it.timer.Reset(it.timeout)
}

func (it *idleTimer) stop() {
	if it.timer != nil {
		it.timer.Stop()
	}
}
