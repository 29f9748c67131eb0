// Package api is the typed HTTP client for the member auth and dashboard
// endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	apperrors "github.com/louisbranch/memberkit/internal/platform/errors"
	"github.com/louisbranch/memberkit/internal/session"
)

// authBurst allows a short run of credential attempts before the client-side
// throttle kicks in.
const authBurst = 5

// Client calls the member API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// instanceID identifies this client process to the server, which uses
	// it to attribute sessions to devices on the dashboard.
	instanceID string
	// limiter throttles credential attempts client-side so a misbehaving
	// caller cannot hammer the auth endpoints.
	limiter *rate.Limiter
}

// New builds a client for the API rooted at baseURL. httpClient may be nil;
// the default client is then used.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		instanceID: uuid.NewString(),
		limiter:    rate.NewLimiter(rate.Every(time.Second), authBurst),
	}
}

// Login exchanges credentials for a session.
func (c *Client) Login(ctx context.Context, creds Credentials) (AuthResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return AuthResult{}, apperrors.Wrap(apperrors.CodeRateLimited, "login throttled", err)
	}

	body := map[string]string{"email": creds.Email, "password": creds.Password}
	var resp authResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", "", body, &resp); err != nil {
		return AuthResult{}, err
	}
	return resp.toResult(), nil
}

// Signup registers a new member and returns their first session.
func (c *Client) Signup(ctx context.Context, creds Credentials) (AuthResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return AuthResult{}, apperrors.Wrap(apperrors.CodeRateLimited, "signup throttled", err)
	}

	body := map[string]string{"email": creds.Email, "password": creds.Password}
	if creds.DisplayName != "" {
		body["displayName"] = creds.DisplayName
	}
	var resp authResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/signup", "", body, &resp); err != nil {
		return AuthResult{}, err
	}
	return resp.toResult(), nil
}

// Profile fetches the current member snapshot.
func (c *Client) Profile(ctx context.Context, bearer string) (session.User, error) {
	var resp profileResponse
	if err := c.doJSON(ctx, http.MethodGet, "/auth/profile", bearer, nil, &resp); err != nil {
		return session.User{}, err
	}
	return resp.User.toDomain(), nil
}

// Logout revokes the session server-side. With revokeAll every device's
// session is ended.
func (c *Client) Logout(ctx context.Context, bearer string, revokeAll bool) error {
	var body any
	if revokeAll {
		body = map[string]bool{"revokeAll": true}
	}
	return c.doJSON(ctx, http.MethodPost, "/auth/logout", bearer, body, nil)
}

// Refresh exchanges a refresh token for a new access token. The refresh
// endpoint predates the camelCase convention and speaks snake_case.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return AuthResult{}, apperrors.New(apperrors.CodeRefreshExhausted, "no refresh token available")
	}

	body := map[string]string{"refresh_token": refreshToken}
	var resp refreshResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/refresh", "", body, &resp); err != nil {
		return AuthResult{}, err
	}
	if resp.AccessToken == "" {
		return AuthResult{}, apperrors.New(apperrors.CodeRefreshExhausted, "refresh response missing access token")
	}
	return AuthResult{Token: resp.AccessToken, User: resp.User.toDomain()}, nil
}

// UpdateProfile patches the member profile. An email change makes the server
// rotate tokens; the rotated credentials ride back on the response.
func (c *Client) UpdateProfile(ctx context.Context, bearer string, patch session.UserPatch) (ProfileUpdate, error) {
	body := map[string]string{}
	if patch.Email != nil {
		body["email"] = *patch.Email
	}
	if patch.DisplayName != nil {
		body["displayName"] = *patch.DisplayName
	}

	var resp profileResponse
	if err := c.doJSON(ctx, http.MethodPatch, "/dashboard/profile", bearer, body, &resp); err != nil {
		return ProfileUpdate{}, err
	}

	update := ProfileUpdate{
		User:         resp.User.toDomain(),
		Token:        resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenErr:     resp.TokenError,
	}
	if resp.ExpiresAt > 0 {
		update.ExpiresAt = time.Unix(resp.ExpiresAt, 0).UTC()
	}
	return update, nil
}

// ListSessions returns the member's active sessions.
func (c *Client) ListSessions(ctx context.Context, bearer string) ([]RemoteSession, error) {
	var resp struct {
		Sessions []RemoteSession `json:"sessions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/dashboard/sessions", bearer, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// RevokeSession ends one session, or every session when all is set.
func (c *Client) RevokeSession(ctx context.Context, bearer, sessionID string, all bool) error {
	body := map[string]any{}
	if all {
		body["allDevices"] = true
	} else {
		body["sessionId"] = sessionID
	}
	return c.doJSON(ctx, http.MethodPost, "/dashboard/sessions/revoke", bearer, body, nil)
}

// doJSON performs one JSON request/response cycle. Transport failures are
// classified as network errors; non-2xx statuses are decoded into domain
// errors carrying the server's message.
func (c *Client) doJSON(ctx context.Context, method, path, bearer string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Client-Id", c.instanceID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeNetworkUnavailable, fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// decodeError maps a failed response into the domain error taxonomy.
func decodeError(resp *http.Response) error {
	var wire errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&wire)

	message := strings.TrimSpace(wire.Error)
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	code := apperrors.CodeForHTTPStatus(resp.StatusCode)
	return apperrors.WithMetadata(code, message, map[string]string{
		"Status": fmt.Sprintf("%d", resp.StatusCode),
	})
}
