// Package store persists session records across two storage tiers: a
// process tier that lives and dies with the client process, and a durable
// tier on disk that survives restarts and is shared by every process of the
// same user ("remember me"). All mutation goes through the Store; no
// consumer touches a tier directly.
package store
