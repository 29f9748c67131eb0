// Package token decodes and inspects compact signed tokens without
// verifying them. Signature verification belongs to the server; the client
// only needs the embedded claims to schedule refreshes and expiry checks.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Payload holds the decoded, unverified claims of an access token.
type Payload struct {
	UserID      string
	Email       string
	DisplayName string
	Role        string
	ExpiresAt   time.Time // zero when the token carries no exp claim
	IssuedAt    time.Time
	Audience    []string
	Issuer      string
}

// payloadClaims is the internal claims type used for parsing.
type payloadClaims struct {
	jwt.RegisteredClaims
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	Role        string `json:"role,omitempty"`
}

// HasExpiry reports whether the token carried an exp claim. Payloads without
// one cannot participate in expiry math and must be handled explicitly.
func (p *Payload) HasExpiry() bool {
	return p != nil && !p.ExpiresAt.IsZero()
}

// Decode extracts the claims from a three-segment compact token. It fails
// softly: wrong segment count, invalid encoding, or invalid JSON all yield
// nil rather than an error, because a malformed token is a routine "no
// session" condition for callers.
func Decode(raw string) *Payload {
	if raw == "" {
		return nil
	}

	var claims payloadClaims
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(raw, &claims); err != nil {
		return nil
	}

	payload := &Payload{
		UserID:      claims.UserID,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		Role:        claims.Role,
		Audience:    []string(claims.Audience),
		Issuer:      claims.Issuer,
	}
	if claims.ExpiresAt != nil {
		payload.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	if claims.IssuedAt != nil {
		payload.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	return payload
}

// IsExpired reports whether the token's expiry has passed, padded by buffer
// to absorb clock skew between client and server. The second return value is
// false when expiry cannot be determined (undecodable token or missing exp);
// callers that want to treat such tokens as non-expiring must opt in by
// checking it.
func IsExpired(raw string, buffer time.Duration, now func() time.Time) (expired bool, known bool) {
	payload := Decode(raw)
	if !payload.HasExpiry() {
		return false, false
	}
	if now == nil {
		now = time.Now
	}
	boundary := now().UTC().Add(buffer)
	return !payload.ExpiresAt.After(boundary), true
}

// WillExpireSoon reports whether the token expires within window. It is
// conservative: an undecodable token or one without an expiry claim is
// treated as expiring soon.
func WillExpireSoon(raw string, window time.Duration, now func() time.Time) bool {
	payload := Decode(raw)
	if !payload.HasExpiry() {
		return true
	}
	if now == nil {
		now = time.Now
	}
	return !payload.ExpiresAt.After(now().UTC().Add(window))
}

// TimeRemaining returns the duration until the token expires. The second
// return value is false when expiry cannot be determined. Already-expired
// tokens report a negative duration.
func TimeRemaining(raw string, now func() time.Time) (time.Duration, bool) {
	payload := Decode(raw)
	if !payload.HasExpiry() {
		return 0, false
	}
	if now == nil {
		now = time.Now
	}
	return payload.ExpiresAt.Sub(now().UTC()), true
}
