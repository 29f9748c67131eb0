package member

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/louisbranch/memberkit/internal/api"
	"github.com/louisbranch/memberkit/internal/authstate"
	apperrors "github.com/louisbranch/memberkit/internal/platform/errors"
	"github.com/louisbranch/memberkit/internal/session"
	"github.com/louisbranch/memberkit/internal/session/store"
)

type harness struct {
	manager *Manager
	store   *store.Store
	machine *authstate.Machine
	clock   *fakeClock
}

type fakeClock struct {
	at time.Time
}

func (c *fakeClock) now() time.Time { return c.at }

func newHarness(t *testing.T, handler http.Handler) *harness {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	clock := &fakeClock{at: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	s := store.New(store.NewMemoryTier(), store.NewMemoryTier(), clock.now)
	machine := authstate.New()
	m := New(api.New(server.URL, nil), s, machine,
		WithClock(clock.now),
		WithLogger(log.New(io.Discard, "", 0)),
	)
	return &harness{manager: m, store: s, machine: machine, clock: clock}
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		t.Fatalf("encode response: %v", err)
	}
}

func TestLoginPersistsAndAuthenticates(t *testing.T) {
	var h *harness
	h = newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		writeJSON(t, w, http.StatusOK, map[string]any{
			"accessToken":  "access-1",
			"refreshToken": "refresh-1",
			"expiresAt":    h.clock.at.Add(time.Hour).Unix(),
			"user":         map[string]string{"userId": "u-1", "email": "ada@example.com"},
		})
	}))

	if err := h.manager.Login(context.Background(), api.Credentials{Email: "ada@example.com", Password: "pw"}); err != nil {
		t.Fatalf("login: %v", err)
	}

	state := h.machine.State()
	if state.Status != authstate.StatusAuthenticated {
		t.Fatalf("status = %v, want authenticated", state.Status)
	}
	if state.User.UserID != "u-1" || state.Token != "access-1" {
		t.Fatalf("state = %+v", state)
	}

	rec, err := h.store.Read(context.Background())
	if err != nil || rec == nil {
		t.Fatalf("read after login: rec=%v err=%v", rec, err)
	}
	if rec.RefreshToken != "refresh-1" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestLoginFailureRecordsError(t *testing.T) {
	var h *harness
	h = newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
	}))

	err := h.manager.Login(context.Background(), api.Credentials{Email: "ada@example.com", Password: "nope"})
	if err == nil {
		t.Fatal("expected login error")
	}

	state := h.machine.State()
	if state.Status != authstate.StatusUnauthenticated {
		t.Fatalf("status = %v, want unauthenticated", state.Status)
	}
	if state.Err == nil {
		t.Fatal("credential failure must be recorded on the machine")
	}
	if rec, _ := h.store.Peek(context.Background()); rec != nil {
		t.Fatalf("no session may be persisted on failure, got %+v", rec)
	}
}

func TestLogoutRevokesThenClears(t *testing.T) {
	var revoked bool
	var h *harness
	h = newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/logout" {
			revoked = true
			if got := r.Header.Get("Authorization"); got != "Bearer access-1" {
				t.Fatalf("revoke Authorization = %q", got)
			}
		}
		w.WriteHeader(http.StatusOK)
	}))

	seed := session.Record{
		Token:     "access-1",
		ExpiresAt: h.clock.at.Add(time.Hour),
		User:      session.User{UserID: "u-1"},
		StoredAt:  h.clock.at,
	}
	if err := h.store.Persist(context.Background(), seed, true); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h.machine.AuthSuccess(seed.User, seed.Token)

	if err := h.manager.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if !revoked {
		t.Fatal("server-side revoke was not attempted")
	}
	if h.machine.State().Status != authstate.StatusUnauthenticated {
		t.Fatalf("status = %v, want unauthenticated", h.machine.State().Status)
	}
	if rec, _ := h.store.Peek(context.Background()); rec != nil {
		t.Fatalf("store must be empty after logout, got %+v", rec)
	}
}

func TestLogoutSurvivesRevokeFailure(t *testing.T) {
	var h *harness
	h = newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	seed := session.Record{
		Token:     "access-1",
		ExpiresAt: h.clock.at.Add(time.Hour),
		User:      session.User{UserID: "u-1"},
		StoredAt:  h.clock.at,
	}
	if err := h.store.Persist(context.Background(), seed, true); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h.machine.AuthSuccess(seed.User, seed.Token)

	if err := h.manager.Logout(context.Background()); err != nil {
		t.Fatalf("logout must succeed despite revoke failure: %v", err)
	}
	if rec, _ := h.store.Peek(context.Background()); rec != nil {
		t.Fatalf("store must be empty, got %+v", rec)
	}
}

func TestUpdateProfileMergesUser(t *testing.T) {
	var h *harness
	h = newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"user": map[string]string{"userId": "u-1", "email": "ada@example.com", "displayName": "Countess"},
		})
	}))

	seed := session.Record{
		Token:     "access-1",
		ExpiresAt: h.clock.at.Add(time.Hour),
		User:      session.User{UserID: "u-1", Email: "ada@example.com", DisplayName: "Ada"},
		StoredAt:  h.clock.at,
	}
	if err := h.store.Persist(context.Background(), seed, true); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h.machine.AuthSuccess(seed.User, seed.Token)

	name := "Countess"
	rec, err := h.manager.UpdateProfile(context.Background(), session.UserPatch{DisplayName: &name})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if rec == nil || rec.User.DisplayName != "Countess" {
		t.Fatalf("record = %+v", rec)
	}
	if got := h.machine.State().User.DisplayName; got != "Countess" {
		t.Fatalf("machine user not updated: %q", got)
	}
	// Token is untouched when the server did not rotate it.
	if rec.Token != "access-1" {
		t.Fatalf("token changed unexpectedly: %q", rec.Token)
	}
}

func TestUpdateProfilePersistsRotatedToken(t *testing.T) {
	var h *harness
	h = newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"user":      map[string]string{"userId": "u-1", "email": "new@example.com"},
			"token":     "access-2",
			"expiresAt": h.clock.at.Add(2 * time.Hour).Unix(),
		})
	}))

	seed := session.Record{
		Token:        "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    h.clock.at.Add(time.Hour),
		User:         session.User{UserID: "u-1", Email: "old@example.com"},
		StoredAt:     h.clock.at,
	}
	if err := h.store.Persist(context.Background(), seed, true); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h.machine.AuthSuccess(seed.User, seed.Token)

	email := "new@example.com"
	rec, err := h.manager.UpdateProfile(context.Background(), session.UserPatch{Email: &email})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if rec.Token != "access-2" {
		t.Fatalf("rotated token not applied: %+v", rec)
	}
	if rec.RefreshToken != "refresh-1" {
		t.Fatalf("refresh token must be kept when not rotated: %+v", rec)
	}
	if got := h.machine.State().Token; got != "access-2" {
		t.Fatalf("machine token = %q, want rotated token", got)
	}
}

func TestUpdateProfileTokenReissueFailure(t *testing.T) {
	var h *harness
	h = newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"user":       map[string]string{"userId": "u-1", "email": "new@example.com"},
			"tokenError": "token re-issue failed, please sign in again",
		})
	}))

	seed := session.Record{
		Token:     "access-1",
		ExpiresAt: h.clock.at.Add(time.Hour),
		User:      session.User{UserID: "u-1", Email: "old@example.com"},
		StoredAt:  h.clock.at,
	}
	if err := h.store.Persist(context.Background(), seed, true); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h.machine.AuthSuccess(seed.User, seed.Token)

	email := "new@example.com"
	rec, err := h.manager.UpdateProfile(context.Background(), session.UserPatch{Email: &email})
	if err == nil {
		t.Fatal("expected a re-auth error")
	}
	if apperrors.CodeOf(err) != apperrors.CodeTokenReissueFailed {
		t.Fatalf("error code = %v", apperrors.CodeOf(err))
	}
	// The profile change itself was applied server-side and is kept locally.
	if rec == nil || rec.User.Email != "new@example.com" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestUpdateProfileWithoutSession(t *testing.T) {
	var h *harness
	h = newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected without a session")
	}))

	email := "new@example.com"
	if _, err := h.manager.UpdateProfile(context.Background(), session.UserPatch{Email: &email}); apperrors.CodeOf(err) != apperrors.CodeSessionMissing {
		t.Fatalf("error = %v, want session missing", err)
	}
}

func TestExpiryPollForcesLogout(t *testing.T) {
	var h *harness
	h = newHarness(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, map[string]any{
			"accessToken": "access-1",
			"expiresAt":   h.clock.at.Add(time.Hour).Unix(),
			"user":        map[string]string{"userId": "u-1", "email": "ada@example.com"},
		})
	}))

	if err := h.manager.Login(context.Background(), api.Credentials{Email: "ada@example.com", Password: "pw"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	if h.machine.State().Status != authstate.StatusAuthenticated {
		t.Fatalf("status = %v, want authenticated", h.machine.State().Status)
	}

	// A tick before expiry changes nothing.
	h.manager.CheckExpiry(context.Background())
	if h.machine.State().Status != authstate.StatusAuthenticated {
		t.Fatal("premature logout")
	}

	// Advance past expiry and fire the tick.
	h.clock.at = h.clock.at.Add(time.Hour + time.Minute)
	h.manager.CheckExpiry(context.Background())

	if h.machine.State().Status != authstate.StatusUnauthenticated {
		t.Fatalf("status = %v, want unauthenticated after expiry", h.machine.State().Status)
	}
	if rec, _ := h.store.Peek(context.Background()); rec != nil {
		t.Fatalf("store must be empty after expiry, got %+v", rec)
	}
}
