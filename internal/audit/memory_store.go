package audit

import (
	"context"
	"sync"
)

// MemoryLogger stores audit entries in memory for tests and development.
type MemoryLogger struct {
	mu      sync.Mutex
	entries []*Entry
}

// NewMemoryLogger creates an in-memory audit logger.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

func (m *MemoryLogger) Log(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *MemoryLogger) Query(ctx context.Context, bookingID string, limit int) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var out []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if bookingID == "" || m.entries[i].BookingID == bookingID {
			cp := *m.entries[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Operations returns the recorded operation names in order, for tests.
func (m *MemoryLogger) Operations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := make([]string, len(m.entries))
	for i, e := range m.entries {
		ops[i] = e.Operation
	}
	return ops
}
