package store

import (
	"context"
	"sync"

	"github.com/louisbranch/memberkit/internal/session"
)

// MemoryTier keeps a session record in process memory. It is the analogue of
// per-tab state: closing the process discards it, so one process logging out
// of durable storage never silently ends another's in-flight session.
type MemoryTier struct {
	mu      sync.Mutex
	record  session.Record
	present bool
}

// NewMemoryTier returns an empty in-process tier.
func NewMemoryTier() *MemoryTier {
	return &MemoryTier{}
}

// Get returns the held record when present.
func (m *MemoryTier) Get(_ context.Context) (session.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.present {
		return session.Record{}, false, nil
	}
	return m.record, true, nil
}

// Put replaces the held record.
func (m *MemoryTier) Put(_ context.Context, rec session.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record = rec
	m.present = true
	return nil
}

// Delete discards the held record.
func (m *MemoryTier) Delete(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record = session.Record{}
	m.present = false
	return nil
}
