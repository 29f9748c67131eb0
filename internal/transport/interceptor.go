// Package transport wraps an http.RoundTripper with bearer injection,
// one-shot token refresh on authorization failures, and bounded backoff on
// server errors. It is the single place session teardown happens for
// unrecoverable auth failures, so clear-logic is not duplicated across call
// sites.
package transport

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/memberkit/internal/api"
	"github.com/louisbranch/memberkit/internal/requestctx"
	"github.com/louisbranch/memberkit/internal/session"
	"github.com/louisbranch/memberkit/internal/session/store"
)

// defaultMaxAttempts bounds deliveries of one request across 5xx retries.
const defaultMaxAttempts = 3

// defaultRetryInterval seeds the exponential backoff between attempts.
const defaultRetryInterval = 100 * time.Millisecond

// Refresher exchanges a refresh token for a new access token. *api.Client
// satisfies it; the refresher must run over a transport without this
// interceptor or a failing refresh would recurse.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (api.AuthResult, error)
}

// Interceptor is an http.RoundTripper that manages session credentials for
// outbound requests.
type Interceptor struct {
	base      http.RoundTripper
	store     *store.Store
	refresher Refresher
	now       func() time.Time

	maxAttempts   int
	retryInterval time.Duration
	tracer        trace.Tracer
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithMaxAttempts overrides the 5xx retry cap.
func WithMaxAttempts(n int) Option {
	return func(i *Interceptor) {
		if n > 0 {
			i.maxAttempts = n
		}
	}
}

// WithRetryInterval overrides the initial backoff interval.
func WithRetryInterval(d time.Duration) Option {
	return func(i *Interceptor) {
		if d > 0 {
			i.retryInterval = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Interceptor) {
		if now != nil {
			i.now = now
		}
	}
}

// New builds an interceptor over base. base may be nil; the default
// transport is then used. refresher may be nil, disabling the refresh path.
func New(base http.RoundTripper, sessions *store.Store, refresher Refresher, opts ...Option) *Interceptor {
	if base == nil {
		base = http.DefaultTransport
	}
	interceptor := &Interceptor{
		base:          base,
		store:         sessions,
		refresher:     refresher,
		now:           time.Now,
		maxAttempts:   defaultMaxAttempts,
		retryInterval: defaultRetryInterval,
		tracer:        otel.Tracer("memberkit/transport"),
	}
	for _, opt := range opts {
		opt(interceptor)
	}
	return interceptor
}

// RoundTrip implements http.RoundTripper.
//
// Transport-level errors (no response) surface unchanged and never touch the
// session: a connectivity failure is not an authentication failure. Server
// errors retry with exponential backoff up to the attempt cap. A 401/403
// triggers exactly one refresh-and-retry; refresh failure clears the session
// unconditionally and the original response is returned.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	bearer := req.Header.Get("Authorization")
	if bearer == "" && i.store != nil && !isCredentialExchange(req.URL.Path) {
		if rec, err := i.store.Peek(ctx); err == nil && rec != nil {
			bearer = "Bearer " + rec.Token
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = i.retryInterval

	var resp *http.Response
	for attempt := 1; ; attempt++ {
		attemptReq, ok := i.cloneForAttempt(req, requestctx.WithAttempt(ctx, attempt), attempt)
		if !ok {
			// Body cannot be replayed; whatever we have is the final answer.
			return resp, nil
		}
		if bearer != "" {
			attemptReq.Header.Set("Authorization", bearer)
		}

		var err error
		resp, err = i.send(attemptReq, attempt)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 500 || attempt >= i.maxAttempts {
			break
		}
		if req.Body != nil && req.GetBody == nil {
			// The body cannot be replayed, so this response is final.
			break
		}

		drain(resp)
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	if (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) &&
		!requestctx.Refreshed(ctx) && i.refresher != nil && i.store != nil &&
		!isCredentialExchange(req.URL.Path) {
		return i.refreshAndRetry(ctx, req, resp)
	}
	return resp, nil
}

// isCredentialExchange reports whether the request establishes credentials
// rather than using them. A 401 from these endpoints means the submitted
// credentials are wrong, not that the stored session is stale, so neither
// the bearer nor the refresh path applies and the stored session must
// survive untouched.
func isCredentialExchange(path string) bool {
	switch {
	case strings.HasSuffix(path, "/auth/login"),
		strings.HasSuffix(path, "/auth/signup"),
		strings.HasSuffix(path, "/auth/refresh"):
		return true
	}
	return false
}

// refreshAndRetry performs the single refresh allowed per triggering
// authorization failure. On success the rotated record is persisted and the
// original request replayed once with the new token; on any failure the
// session is cleared and the original response returned.
func (i *Interceptor) refreshAndRetry(ctx context.Context, req *http.Request, original *http.Response) (*http.Response, error) {
	rec, err := i.store.Peek(ctx)
	if err != nil || rec == nil || rec.RefreshToken == "" {
		_ = i.store.Clear(ctx)
		return original, nil
	}

	result, err := i.refresher.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		_ = i.store.Clear(ctx)
		return original, nil
	}

	refreshToken := result.RefreshToken
	if refreshToken == "" {
		// The refresh endpoint does not rotate refresh tokens; keep ours.
		refreshToken = rec.RefreshToken
	}
	user := result.User
	if user.UserID == "" {
		user = rec.User
	}
	rotated, err := session.NewRecord(session.NewRecordInput{
		Token:        result.Token,
		RefreshToken: refreshToken,
		ExpiresAt:    result.ExpiresAt,
		User:         user,
	}, i.now)
	if err != nil {
		_ = i.store.Clear(ctx)
		return original, nil
	}
	if err := i.store.Rotate(ctx, rotated); err != nil {
		_ = i.store.Clear(ctx)
		return original, nil
	}

	retryCtx := requestctx.WithAttempt(requestctx.WithRefreshed(ctx), 2)
	retryReq, ok := i.cloneForAttempt(req, retryCtx, 2)
	if !ok {
		return original, nil
	}
	retryReq.Header.Set("Authorization", "Bearer "+rotated.Token)

	drain(original)
	return i.send(retryReq, requestctx.Attempt(retryCtx))
}

// send delivers one attempt wrapped in a trace span.
func (i *Interceptor) send(req *http.Request, attempt int) (*http.Response, error) {
	ctx, span := i.tracer.Start(req.Context(), "member-api.request",
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("url.path", req.URL.Path),
			attribute.Int("http.attempt", attempt),
		),
	)
	defer span.End()

	resp, err := i.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp, nil
}

// cloneForAttempt prepares a request for delivery. The first attempt reuses
// the original body; later attempts need a replayable body via GetBody.
func (i *Interceptor) cloneForAttempt(req *http.Request, ctx context.Context, attempt int) (*http.Request, bool) {
	clone := req.Clone(ctx)
	if attempt == 1 || req.Body == nil {
		return clone, true
	}
	if req.GetBody == nil {
		return nil, false
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, false
	}
	clone.Body = body
	return clone, true
}

// drain discards and closes a response body so the connection can be reused.
func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
