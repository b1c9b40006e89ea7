package settings

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory settings store for tests and development.
type MemoryStore struct {
	mu sync.RWMutex
	s  Snapshot
}

// NewMemoryStore creates a memory store seeded with defaults.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{s: Defaults()}
}

func (m *MemoryStore) Load(ctx context.Context) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s, nil
}

func (m *MemoryStore) Save(ctx context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
	return nil
}
