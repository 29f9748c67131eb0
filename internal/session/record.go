package session

import (
	"strings"
	"time"

	apperrors "github.com/louisbranch/memberkit/internal/platform/errors"
	"github.com/louisbranch/memberkit/internal/platform/timeouts"
	"github.com/louisbranch/memberkit/internal/token"
)

var (
	// ErrEmptyToken indicates a record without an access token.
	ErrEmptyToken = apperrors.New(apperrors.CodeSessionInvalid, "session token is required")
	// ErrExpired indicates a record whose expiry has passed.
	ErrExpired = apperrors.New(apperrors.CodeSessionExpired, "session is expired")
)

// User is the denormalized member snapshot carried by a session record.
type User struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
}

// UserPatch describes a partial update to the user snapshot. Nil fields are
// left untouched.
type UserPatch struct {
	Email       *string
	DisplayName *string
}

// Apply returns a copy of the user with the patch merged in. Patched values
// are trimmed here so every consumer sees the same normalization. The user
// id never changes through a patch.
func (p UserPatch) Apply(u User) User {
	if p.Email != nil {
		u.Email = strings.TrimSpace(*p.Email)
	}
	if p.DisplayName != nil {
		u.DisplayName = strings.TrimSpace(*p.DisplayName)
	}
	return u
}

// Record is the persisted session tuple. The store owns the canonical copy;
// in-memory consumers hold possibly stale snapshots that are reconciled on
// init or reload.
type Record struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
	User         User      `json:"user"`
	StoredAt     time.Time `json:"storedAt"`
}

// NewRecordInput describes the material needed to build a session record.
type NewRecordInput struct {
	Token        string
	RefreshToken string
	// ExpiresAt may be zero; the expiry is then derived from the token
	// payload, or defaulted when the token is undecodable.
	ExpiresAt time.Time
	User      User
}

// NewRecord builds a validated session record. ExpiresAt is always set on
// the result: caller-supplied value first, then the token's exp claim, then
// a default lifetime for undecodable tokens. The default is a deliberate
// leniency for opaque session ids that carry no claims.
func NewRecord(input NewRecordInput, now func() time.Time) (Record, error) {
	if now == nil {
		now = time.Now
	}

	accessToken := strings.TrimSpace(input.Token)
	if accessToken == "" {
		return Record{}, ErrEmptyToken
	}

	storedAt := now().UTC()
	expiresAt := input.ExpiresAt
	if expiresAt.IsZero() {
		if payload := token.Decode(accessToken); payload.HasExpiry() {
			expiresAt = payload.ExpiresAt
		} else {
			expiresAt = storedAt.Add(timeouts.DefaultLifetime)
		}
	}

	return Record{
		Token:        accessToken,
		RefreshToken: strings.TrimSpace(input.RefreshToken),
		ExpiresAt:    expiresAt.UTC(),
		User:         input.User,
		StoredAt:     storedAt,
	}, nil
}

// Validate reports whether the record is usable at the given time.
func (r Record) Validate(now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	if strings.TrimSpace(r.Token) == "" {
		return ErrEmptyToken
	}
	if !r.ExpiresAt.After(now().UTC()) {
		return ErrExpired
	}
	return nil
}

// MergeUser returns a copy of the record with the patch applied to its user
// snapshot.
func (r Record) MergeUser(patch UserPatch) Record {
	merged := r
	merged.User = patch.Apply(merged.User)
	return merged
}
