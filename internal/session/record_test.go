package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/louisbranch/memberkit/internal/platform/timeouts"
)

func forgeToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(header) + "." + enc.EncodeToString(payload) + "." + enc.EncodeToString([]byte("sig"))
}

func TestNewRecordRequiresToken(t *testing.T) {
	_, err := NewRecord(NewRecordInput{Token: "   "}, nil)
	if !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("expected ErrEmptyToken, got %v", err)
	}
}

func TestNewRecordDerivesExpiryFromToken(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	exp := now.Add(2 * time.Hour)
	raw := forgeToken(t, map[string]any{"userId": "u-1", "exp": exp.Unix()})

	rec, err := NewRecord(NewRecordInput{Token: raw}, func() time.Time { return now })
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	if !rec.ExpiresAt.Equal(exp) {
		t.Fatalf("ExpiresAt = %v, want %v", rec.ExpiresAt, exp)
	}
	if !rec.StoredAt.Equal(now) {
		t.Fatalf("StoredAt = %v, want %v", rec.StoredAt, now)
	}
}

func TestNewRecordDefaultsExpiryForOpaqueToken(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	rec, err := NewRecord(NewRecordInput{Token: "opaque-session-id"}, func() time.Time { return now })
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	want := now.Add(timeouts.DefaultLifetime)
	if !rec.ExpiresAt.Equal(want) {
		t.Fatalf("ExpiresAt = %v, want default %v", rec.ExpiresAt, want)
	}
}

func TestNewRecordPrefersExplicitExpiry(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	explicit := now.Add(12 * time.Hour)
	raw := forgeToken(t, map[string]any{"userId": "u-1", "exp": now.Add(time.Hour).Unix()})

	rec, err := NewRecord(NewRecordInput{Token: raw, ExpiresAt: explicit}, func() time.Time { return now })
	if err != nil {
		t.Fatalf("new record: %v", err)
	}
	if !rec.ExpiresAt.Equal(explicit) {
		t.Fatalf("ExpiresAt = %v, want explicit %v", rec.ExpiresAt, explicit)
	}
}

func TestValidate(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	valid := Record{Token: "tok", ExpiresAt: now.Add(time.Hour)}
	if err := valid.Validate(clock); err != nil {
		t.Fatalf("valid record: %v", err)
	}

	missing := Record{ExpiresAt: now.Add(time.Hour)}
	if err := missing.Validate(clock); !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("expected ErrEmptyToken, got %v", err)
	}

	expired := Record{Token: "tok", ExpiresAt: now}
	if err := expired.Validate(clock); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired for boundary expiry, got %v", err)
	}
}

func TestMergeUser(t *testing.T) {
	rec := Record{
		Token: "tok",
		User:  User{UserID: "u-1", Email: "old@example.com", DisplayName: "Old"},
	}

	email := " new@example.com "
	merged := rec.MergeUser(UserPatch{Email: &email})
	if merged.User.Email != "new@example.com" {
		t.Fatalf("expected trimmed email merge, got %q", merged.User.Email)
	}
	if merged.User.DisplayName != "Old" {
		t.Fatalf("display name should be untouched, got %q", merged.User.DisplayName)
	}
	if merged.User.UserID != "u-1" {
		t.Fatalf("user id must never change, got %q", merged.User.UserID)
	}
	if rec.User.Email != "old@example.com" {
		t.Fatalf("merge must not mutate the receiver")
	}
}
