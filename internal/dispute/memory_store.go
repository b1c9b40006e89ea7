package dispute

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu       sync.Mutex
	disputes map[string]*Dispute
}

// NewMemoryStore creates an empty in-memory dispute store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{disputes: make(map[string]*Dispute)}
}

func (m *MemoryStore) Create(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.disputes {
		if existing.BookingID == d.BookingID && existing.Status == StatusOpen {
			return ErrDisputeExists
		}
	}
	cp := *d
	m.disputes[d.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) GetOpenByBooking(ctx context.Context, bookingID string) (*Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.disputes {
		if d.BookingID == bookingID && d.Status == StatusOpen {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrDisputeNotFound
}

func (m *MemoryStore) ListOpen(ctx context.Context, limit int) ([]*Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Dispute
	for _, d := range m.disputes {
		if d.Status == StatusOpen {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Resolve(ctx context.Context, id string, res Resolution, refundPence int64, notes, resolvedBy string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.disputes[id]
	if !ok {
		return false, ErrDisputeNotFound
	}
	if d.Status != StatusOpen {
		return false, nil
	}
	d.Status = StatusResolved
	d.Resolution = res
	d.RefundPence = refundPence
	d.Notes = notes
	d.ResolvedBy = resolvedBy
	d.ResolvedAt = &at
	return true, nil
}
