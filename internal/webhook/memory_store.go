package webhook

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory event journal for tests.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string]*Event
}

// NewMemoryStore creates an empty in-memory event journal.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]*Event)}
}

func (m *MemoryStore) Insert(ctx context.Context, e *Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[e.EventID]; ok {
		return false, nil
	}
	cp := *e
	m.events[e.EventID] = &cp
	return true, nil
}

func (m *MemoryStore) Get(ctx context.Context, eventID string) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) MarkProcessed(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok {
		return ErrEventNotFound
	}
	now := time.Now()
	e.Processed = true
	e.Error = ""
	e.ProcessedAt = &now
	return nil
}

func (m *MemoryStore) MarkFailed(ctx context.Context, eventID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok {
		return ErrEventNotFound
	}
	e.Error = errMsg
	return nil
}
