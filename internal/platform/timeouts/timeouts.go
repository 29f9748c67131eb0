// Package timeouts defines shared timing constants used across the SDK.
// Centralizing these values prevents drift between packages and makes the
// durations discoverable.
package timeouts

import "time"

// ExpiryBuffer pads expiry comparisons so a token that the server is about
// to reject is already treated as expired on the client.
const ExpiryBuffer = 60 * time.Second

// ExpirySoonWindow is the lookahead used to decide whether a token is close
// enough to expiry that proactive work (profile refresh, rotation) should be
// skipped or forced.
const ExpirySoonWindow = 5 * time.Minute

// BootstrapRetryDelay is the pause between startup reads of a session store
// that may not be populated yet.
const BootstrapRetryDelay = 100 * time.Millisecond

// DefaultLifetime is granted to sessions whose token carries no decodable
// expiry claim.
const DefaultLifetime = time.Hour

// ExpiryPollInterval is the cadence of the background re-check that forces
// a logout once an authenticated session's token crosses its expiry.
const ExpiryPollInterval = 60 * time.Second

// RevokeRequest caps the fire-and-forget server-side revoke during logout.
const RevokeRequest = 2 * time.Second
