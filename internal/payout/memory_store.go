package payout

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu        sync.Mutex
	payouts   map[string]*Payout
	byBooking map[string]string
}

// NewMemoryStore creates an empty in-memory payout store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payouts:   make(map[string]*Payout),
		byBooking: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, p *Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byBooking[p.BookingID]; ok {
		return ErrDuplicatePayout
	}
	cp := *p
	m.payouts[p.ID] = &cp
	m.byBooking[p.BookingID] = p.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetByBooking(ctx context.Context, bookingID string) (*Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byBooking[bookingID]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	cp := *m.payouts[id]
	return &cp, nil
}

func (m *MemoryStore) ListByFreelancer(ctx context.Context, freelancerID string, limit int) ([]*Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Payout
	for _, p := range m.payouts {
		if p.FreelancerID == freelancerID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Payout
	for _, p := range m.payouts {
		if (p.Status == StatusPending || p.Status == StatusScheduled) && !p.ScheduledFor.After(now) {
			cp := *p
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkProcessing(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return false, ErrPayoutNotFound
	}
	if p.Status != StatusPending && p.Status != StatusScheduled {
		return false, nil
	}
	p.Status = StatusProcessing
	p.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) MarkPaid(ctx context.Context, id, transferID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return false, ErrPayoutNotFound
	}
	if p.Status != StatusProcessing {
		return false, nil
	}
	now := time.Now()
	p.Status = StatusPaid
	p.TransferID = transferID
	p.FailureReason = ""
	p.PaidAt = &now
	p.UpdatedAt = now
	return true, nil
}

func (m *MemoryStore) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return false, ErrPayoutNotFound
	}
	if p.Status != StatusProcessing {
		return false, nil
	}
	p.Status = StatusFailed
	p.FailureReason = reason
	p.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) Reschedule(ctx context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return false, ErrPayoutNotFound
	}
	if p.Status != StatusFailed {
		return false, nil
	}
	p.Status = StatusScheduled
	p.ScheduledFor = at
	p.FailureReason = ""
	p.UpdatedAt = time.Now()
	return true, nil
}

// MemoryAccountStore is an in-memory AccountStore for tests.
type MemoryAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
}

// NewMemoryAccountStore creates an empty in-memory account store.
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{accounts: make(map[string]*Account)}
}

func (m *MemoryAccountStore) Get(ctx context.Context, freelancerID string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[freelancerID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryAccountStore) Upsert(ctx context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	cp.UpdatedAt = time.Now()
	m.accounts[a.FreelancerID] = &cp
	return nil
}
