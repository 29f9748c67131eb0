package api

import (
	"time"

	"github.com/louisbranch/memberkit/internal/session"
)

// Credentials are the inputs to login and signup.
type Credentials struct {
	Email       string
	Password    string
	DisplayName string // signup only
}

// AuthResult is the normalized outcome of login, signup, or refresh.
type AuthResult struct {
	Token        string
	RefreshToken string
	ExpiresAt    time.Time // zero when the server omitted it
	User         session.User
}

// ProfileUpdate is the outcome of a profile patch. Token fields are only set
// when the server rotated credentials (an email change re-issues tokens).
type ProfileUpdate struct {
	User         session.User
	Token        string
	RefreshToken string
	ExpiresAt    time.Time
	// TokenErr carries the server's warning when the profile change applied
	// but token re-issue failed; the caller must force a re-login.
	TokenErr string
}

// RemoteSession describes one active session as listed by the dashboard.
type RemoteSession struct {
	SessionID      string    `json:"sessionId"`
	IsCurrent      bool      `json:"isCurrent"`
	DeviceName     string    `json:"deviceName"`
	IP             string    `json:"ip"`
	IssuedAt       time.Time `json:"issuedAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	ExpiresAt      int64     `json:"expiresAt"`
}

// wireUser matches the user object across auth endpoints.
type wireUser struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

func (u wireUser) toDomain() session.User {
	return session.User{UserID: u.UserID, Email: u.Email, DisplayName: u.DisplayName}
}

// authResponse matches login and signup bodies. Older deployments return the
// access token under "token"; newer ones under "accessToken". Both are
// accepted and normalized.
type authResponse struct {
	Token        string   `json:"token"`
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	ExpiresAt    int64    `json:"expiresAt"`
	User         wireUser `json:"user"`
}

func (r authResponse) toResult() AuthResult {
	access := r.AccessToken
	if access == "" {
		access = r.Token
	}
	result := AuthResult{
		Token:        access,
		RefreshToken: r.RefreshToken,
		User:         r.User.toDomain(),
	}
	if r.ExpiresAt > 0 {
		result.ExpiresAt = time.Unix(r.ExpiresAt, 0).UTC()
	}
	return result
}

// refreshResponse matches the refresh endpoint, which uses snake_case names.
type refreshResponse struct {
	AccessToken string   `json:"access_token"`
	User        wireUser `json:"user"`
}

// profileResponse matches profile fetch and update bodies.
type profileResponse struct {
	User         wireUser `json:"user"`
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	ExpiresAt    int64    `json:"expiresAt"`
	TokenError   string   `json:"tokenError"`
}

// errorResponse matches the error body shared by every endpoint.
type errorResponse struct {
	Error string `json:"error"`
}
