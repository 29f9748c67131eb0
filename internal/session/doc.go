// Package session defines the session record, the persisted unit of an
// authenticated member: access token, optional refresh token, expiry, and a
// denormalized user snapshot.
package session
