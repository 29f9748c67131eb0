// Package member orchestrates the side effects around the auth state
// machine: credential exchange, session persistence, server-side revocation
// and the periodic expiry check. The machine itself stays a pure reducer;
// everything that talks to the network or the store lives here.
package member

import (
	"context"
	"log"
	"time"

	"github.com/louisbranch/memberkit/internal/api"
	"github.com/louisbranch/memberkit/internal/authstate"
	apperrors "github.com/louisbranch/memberkit/internal/platform/errors"
	"github.com/louisbranch/memberkit/internal/platform/timeouts"
	"github.com/louisbranch/memberkit/internal/session"
	"github.com/louisbranch/memberkit/internal/session/store"
)

// Manager composes the API client, the session store and the auth state
// machine into the login/logout/profile flows.
type Manager struct {
	client  *api.Client
	store   *store.Store
	machine *authstate.Machine

	logger        *log.Logger
	now           func() time.Time
	pollInterval  time.Duration
	revokeTimeout time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger overrides the logger for best-effort failures.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithPollInterval overrides the expiry poll cadence.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// New returns a Manager over the given collaborators.
func New(client *api.Client, s *store.Store, machine *authstate.Machine, opts ...Option) *Manager {
	m := &Manager{
		client:        client,
		store:         s,
		machine:       machine,
		logger:        log.Default(),
		now:           time.Now,
		pollInterval:  timeouts.ExpiryPollInterval,
		revokeTimeout: timeouts.RevokeRequest,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Login exchanges credentials for a session, persists it and transitions the
// machine to authenticated. Credential failures are recorded on the machine
// and returned.
func (m *Manager) Login(ctx context.Context, creds api.Credentials) error {
	return m.authenticate(ctx, func() (api.AuthResult, error) {
		return m.client.Login(ctx, creds)
	})
}

// Signup registers a new member and establishes a session like Login.
func (m *Manager) Signup(ctx context.Context, creds api.Credentials) error {
	return m.authenticate(ctx, func() (api.AuthResult, error) {
		return m.client.Signup(ctx, creds)
	})
}

func (m *Manager) authenticate(ctx context.Context, exchange func() (api.AuthResult, error)) error {
	m.machine.InitStart()

	result, err := exchange()
	if err != nil {
		m.machine.AuthFail(err)
		return err
	}

	rec, err := session.NewRecord(session.NewRecordInput{
		Token:        result.Token,
		RefreshToken: result.RefreshToken,
		ExpiresAt:    result.ExpiresAt,
		User:         result.User,
	}, m.now)
	if err != nil {
		m.machine.AuthFail(err)
		return err
	}

	// Always remembered: a deliberate asymmetry, sessions established by
	// explicit credentials survive a restart.
	if err := m.store.Persist(ctx, rec, true); err != nil {
		m.logger.Printf("member: session persist failed: %v", err)
	}

	m.machine.AuthSuccess(rec.User, rec.Token)
	return nil
}

// Logout revokes the session server-side on a best-effort basis, then clears
// local state unconditionally. Revocation failure is logged and ignored.
func (m *Manager) Logout(ctx context.Context) error {
	if rec, err := m.store.Peek(ctx); err == nil && rec != nil {
		revokeCtx, cancel := context.WithTimeout(ctx, m.revokeTimeout)
		if err := m.client.Logout(revokeCtx, rec.Token, false); err != nil {
			m.logger.Printf("member: server-side revoke failed: %v", err)
		}
		cancel()
	}

	err := m.store.Clear(ctx)
	m.machine.Logout()
	return err
}

// UpdateProfile sends the patch to the server and reconciles the local
// session with the result. An email change may rotate the token server-side;
// the rotated record is persisted and broadcast like any refresh. When the
// server reports that re-issuing the token failed, the profile change is
// still applied locally but the caller receives an error telling the member
// to authenticate again.
func (m *Manager) UpdateProfile(ctx context.Context, patch session.UserPatch) (*session.Record, error) {
	rec, err := m.store.Read(ctx)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperrors.New(apperrors.CodeSessionMissing, "no active session")
	}

	update, err := m.client.UpdateProfile(ctx, rec.Token, patch)
	if err != nil {
		return nil, err
	}

	merged := rec.MergeUser(patch)
	if update.User.UserID != "" {
		merged.User = update.User
	}

	var current *session.Record
	if update.Token != "" {
		rotated, err := session.NewRecord(session.NewRecordInput{
			Token:        update.Token,
			RefreshToken: firstNonEmpty(update.RefreshToken, rec.RefreshToken),
			ExpiresAt:    update.ExpiresAt,
			User:         merged.User,
		}, m.now)
		if err != nil {
			return nil, err
		}
		if err := m.store.Persist(ctx, rotated, true); err != nil {
			return nil, err
		}
		current = &rotated
		m.machine.SetUser(rotated.User)
		m.machine.SetToken(rotated.Token)
	} else {
		current, err = m.store.UpdateUser(ctx, patch)
		if err != nil {
			return nil, err
		}
		m.machine.UpdateUser(patch)
	}

	if update.TokenErr != "" {
		return current, apperrors.New(apperrors.CodeTokenReissueFailed, update.TokenErr)
	}
	return current, nil
}

// CheckExpiry forces a logout when the authenticated session's token has
// crossed its expiry boundary. Expiry is an expected lifecycle event, not an
// error.
func (m *Manager) CheckExpiry(ctx context.Context) {
	if m.machine.State().Status != authstate.StatusAuthenticated {
		return
	}
	rec, err := m.store.Peek(ctx)
	if err != nil {
		m.logger.Printf("member: expiry check read failed: %v", err)
		return
	}
	if rec != nil && rec.Validate(m.now) == nil {
		return
	}
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Printf("member: expiry clear failed: %v", err)
	}
	m.machine.Logout()
}

// RunExpiryPoll re-checks token expiry on a fixed cadence until the context
// is cancelled.
func (m *Manager) RunExpiryPoll(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckExpiry(ctx)
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
