// Package snapcache keeps the last good strength snapshot so a cycle without
// live data can still run on recent signals.
package snapcache

import (
	"context"
	"sync"

	"github.com/rustyeddy/ufoagent/ufo"
)

// Cache stores the most recent snapshot.
type Cache interface {
	Put(ctx context.Context, s ufo.Snapshot) error
	// Latest returns false when nothing usable is cached.
	Latest(ctx context.Context) (ufo.Snapshot, bool, error)
}

// Memory is a process local Cache.
type Memory struct {
	mu   sync.RWMutex
	snap ufo.Snapshot
	ok   bool
}

func NewMemory() *Memory { return &Memory{} }

// Put ignores empty and degraded snapshots; only live results are cached.
func (m *Memory) Put(_ context.Context, s ufo.Snapshot) error {
	if s.Empty() || s.Degraded() {
		return nil
	}
	m.mu.Lock()
	m.snap, m.ok = s, true
	m.mu.Unlock()
	return nil
}

func (m *Memory) Latest(_ context.Context) (ufo.Snapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap, m.ok, nil
}
