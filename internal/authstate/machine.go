// Package authstate is the single source of truth for the client's
// authentication status. Consumers read snapshots or subscribe; every
// transition goes through the machine so status, user snapshot, token, and
// error always change together.
package authstate

import (
	"sync"

	"github.com/louisbranch/memberkit/internal/session"
)

// Status describes the lifecycle state of client authentication.
type Status int

const (
	// StatusIdle is the initial pre-bootstrap state.
	StatusIdle Status = iota
	// StatusLoading indicates a bootstrap, login, or signup in flight.
	StatusLoading
	// StatusAuthenticated indicates a valid token and user are present.
	StatusAuthenticated
	// StatusUnauthenticated indicates no valid session.
	StatusUnauthenticated
)

// String implements fmt.Stringer for logs and CLI output.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// State is an immutable snapshot of the machine.
type State struct {
	Status Status
	User   session.User
	Token  string
	Err    error
}

// subscriberBuffer bounds the per-subscriber state queue.
const subscriberBuffer = 16

// Machine holds the authoritative auth state. The zero status is idle.
type Machine struct {
	mu     sync.Mutex
	state  State
	subs   map[int]chan State
	nextID int
}

// New returns a machine in the idle state.
func New() *Machine {
	return &Machine{
		state: State{Status: StatusIdle},
		subs:  make(map[int]chan State),
	}
}

// State returns the current snapshot.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a listener for state changes. The cancel function must
// be called on teardown.
func (m *Machine) Subscribe() (<-chan State, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan State, subscriberBuffer)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existing, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

// InitStart marks a bootstrap or credential exchange as in flight.
func (m *Machine) InitStart() {
	m.apply(func(s State) State {
		s.Status = StatusLoading
		return s
	})
}

// InitSuccess completes a bootstrap with a hydrated session.
func (m *Machine) InitSuccess(user session.User, token string) {
	m.apply(func(s State) State {
		return State{Status: StatusAuthenticated, User: user, Token: token}
	})
}

// InitFail completes a bootstrap without a session. Finding no stored
// session is the expected cold-start outcome, so no error is recorded.
func (m *Machine) InitFail() {
	m.apply(func(State) State {
		return State{Status: StatusUnauthenticated}
	})
}

// AuthSuccess completes a login or signup.
func (m *Machine) AuthSuccess(user session.User, token string) {
	m.apply(func(s State) State {
		return State{Status: StatusAuthenticated, User: user, Token: token}
	})
}

// AuthFail records a credential failure for the UI to surface.
func (m *Machine) AuthFail(err error) {
	m.apply(func(State) State {
		return State{Status: StatusUnauthenticated, Err: err}
	})
}

// Logout unconditionally drops to unauthenticated, clearing user, token,
// and error.
func (m *Machine) Logout() {
	m.apply(func(State) State {
		return State{Status: StatusUnauthenticated}
	})
}

// UpdateUser merges a patch into the user snapshot. It is a no-op unless
// authenticated.
func (m *Machine) UpdateUser(patch session.UserPatch) {
	m.apply(func(s State) State {
		if s.Status != StatusAuthenticated {
			return s
		}
		s.User = patch.Apply(s.User)
		return s
	})
}

// SetUser replaces the user snapshot wholesale, used when a fresh profile
// fetch supersedes the cached copy. No-op unless authenticated.
func (m *Machine) SetUser(user session.User) {
	m.apply(func(s State) State {
		if s.Status != StatusAuthenticated {
			return s
		}
		s.User = user
		return s
	})
}

// SetToken swaps the token after a refresh rotated it, keeping status and
// user untouched. No-op unless authenticated.
func (m *Machine) SetToken(tok string) {
	m.apply(func(s State) State {
		if s.Status != StatusAuthenticated {
			return s
		}
		s.Token = tok
		return s
	})
}

// ClearError drops the recorded error without changing status.
func (m *Machine) ClearError() {
	m.apply(func(s State) State {
		s.Err = nil
		return s
	})
}

// apply runs the transition under the lock and notifies subscribers when the
// state changed. Transitions are processed in call order with no reordering.
func (m *Machine) apply(transition func(State) State) {
	m.mu.Lock()
	before := m.state
	after := transition(before)
	m.state = after
	if after == before {
		m.mu.Unlock()
		return
	}
	for _, ch := range m.subs {
		select {
		case ch <- after:
		default:
			// Shed the oldest snapshot; only the latest state matters to a
			// lagging subscriber.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- after:
			default:
			}
		}
	}
	m.mu.Unlock()
}
