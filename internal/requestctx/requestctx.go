// Package requestctx carries per-request metadata through context so retry
// state never leaks between concurrent in-flight requests.
package requestctx

import "context"

// attemptContextKey is the context key for the transport retry attempt.
type attemptContextKey struct{}

// refreshedContextKey marks a request that already consumed its one refresh.
type refreshedContextKey struct{}

// WithAttempt stores the current delivery attempt (1-based) in context.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, attemptContextKey{}, attempt)
}

// Attempt returns the delivery attempt stored in context, or 1 when unset.
func Attempt(ctx context.Context) int {
	if ctx == nil {
		return 1
	}
	value, ok := ctx.Value(attemptContextKey{}).(int)
	if !ok || value < 1 {
		return 1
	}
	return value
}

// WithRefreshed marks the request as having already performed its single
// token refresh.
func WithRefreshed(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, refreshedContextKey{}, true)
}

// Refreshed reports whether the request already consumed its refresh.
func Refreshed(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	value, _ := ctx.Value(refreshedContextKey{}).(bool)
	return value
}
