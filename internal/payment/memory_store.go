package payment

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory payment store for tests and development.
// Conditional transitions match the PostgreSQL store's semantics.
type MemoryStore struct {
	mu       sync.Mutex
	payments map[string]*Payment
}

// NewMemoryStore creates an empty in-memory payment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payments: make(map[string]*Payment)}
}

func (m *MemoryStore) Create(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetByIntent(ctx context.Context, intentID string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.IntentID == intentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (m *MemoryStore) GetActiveByBooking(ctx context.Context, bookingID string) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.BookingID == bookingID && (p.Status == StatusInitiated || p.Status == StatusSucceeded) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPaymentNotFound
}

func (m *MemoryStore) MarkSucceeded(ctx context.Context, intentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.IntentID == intentID && p.Status == StatusInitiated {
			p.Status = StatusSucceeded
			p.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) MarkFailed(ctx context.Context, intentID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.IntentID == intentID && p.Status == StatusInitiated {
			p.Status = StatusFailed
			p.FailureReason = reason
			p.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ReleaseEscrow(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.EscrowStatus != EscrowHeld {
		return false, nil
	}
	p.EscrowStatus = EscrowReleased
	p.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) ApplyRefund(ctx context.Context, id, refundID string, amountPence int64, full bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.EscrowStatus != EscrowHeld {
		return false, nil
	}
	if p.RefundedAmountPence+amountPence > p.AmountPence {
		return false, nil
	}
	p.RefundID = refundID
	p.RefundedAmountPence += amountPence
	p.UpdatedAt = time.Now()
	if full {
		p.Status = StatusRefunded
		p.EscrowStatus = EscrowRefunded
		p.RefundStatus = RefundFull
	} else {
		p.RefundStatus = RefundPartial
	}
	return true, nil
}

func (m *MemoryStore) ListStaleInitiated(ctx context.Context, before time.Time, limit int) ([]*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Payment
	for _, p := range m.payments {
		if p.Status == StatusInitiated && p.CreatedAt.Before(before) {
			cp := *p
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
