package store

import (
	"context"

	"github.com/louisbranch/memberkit/internal/session"
)

// Tier is one storage lifetime for a session record. Implementations hold at
// most one record.
type Tier interface {
	// Get returns the stored record when present. Absence is not an error.
	Get(ctx context.Context) (session.Record, bool, error)
	// Put stores the record, replacing any previous one.
	Put(ctx context.Context, rec session.Record) error
	// Delete removes the record. Deleting an empty tier is a no-op.
	Delete(ctx context.Context) error
}
