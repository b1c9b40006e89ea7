package booking

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu            sync.RWMutex
	bookings      map[string]*Booking
	cancellations []freelancerCancellation
}

type freelancerCancellation struct {
	FreelancerID string
	BookingID    string
	HoursBefore  float64
	At           time.Time
}

// NewMemoryStore creates an empty in-memory booking store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bookings: make(map[string]*Booking)}
}

func (m *MemoryStore) Create(ctx context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Booking
	for _, b := range m.bookings {
		if b.ClientID == userID || b.FreelancerID == userID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) HasOverlap(ctx context.Context, freelancerID string, start, end time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bookings {
		if b.FreelancerID != freelancerID {
			continue
		}
		if b.Status != StatusPending && b.Status != StatusConfirmed {
			continue
		}
		if b.ScheduledStart.Before(end) && start.Before(b.ScheduledEnd) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) Accept(ctx context.Context, id string, autoConfirmAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return false, ErrBookingNotFound
	}
	if b.Status != StatusPending {
		return false, nil
	}
	b.Status = StatusConfirmed
	b.ExpiresAt = nil
	if b.PaymentStatus == PaymentPaid {
		b.AutoConfirmAt = &autoConfirmAt
	}
	b.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) MarkCancelled(ctx context.Context, id string, from Status, actorRole, reason string, declined bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return false, ErrBookingNotFound
	}
	if b.Status != from {
		return false, nil
	}
	now := time.Now()
	b.Status = StatusCancelled
	b.CancelledBy = actorRole
	b.CancelReason = reason
	b.CancelledAt = &now
	if declined {
		b.DeclinedReason = reason
	}
	b.ExpiresAt = nil
	b.AutoConfirmAt = nil
	b.UpdatedAt = now
	return true, nil
}

func (m *MemoryStore) MarkExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return false, ErrBookingNotFound
	}
	if b.Status != StatusPending || b.ExpiresAt == nil || b.ExpiresAt.After(now) {
		return false, nil
	}
	b.Status = StatusExpired
	b.ExpiresAt = nil
	b.AutoConfirmAt = nil
	b.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) MarkCompleted(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return false, ErrBookingNotFound
	}
	if b.Status != StatusConfirmed {
		return false, nil
	}
	b.Status = StatusCompleted
	b.AutoConfirmAt = nil
	b.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) MarkPaid(ctx context.Context, id string, autoConfirmAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return false, ErrBookingNotFound
	}
	if b.PaymentStatus == PaymentPaid {
		return false, nil
	}
	b.PaymentStatus = PaymentPaid
	if b.Status == StatusConfirmed {
		b.AutoConfirmAt = &autoConfirmAt
	} else {
		b.AutoConfirmAt = nil
	}
	b.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) MarkPaymentFailed(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return false, ErrBookingNotFound
	}
	if b.PaymentStatus == PaymentPaid {
		return false, nil
	}
	b.PaymentStatus = PaymentFailed
	b.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) SetPaymentStatus(ctx context.Context, id string, ps PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return ErrBookingNotFound
	}
	b.PaymentStatus = ps
	b.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Booking
	for _, b := range m.bookings {
		if b.Status == StatusPending && b.ExpiresAt != nil && !b.ExpiresAt.After(now) {
			cp := *b
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) ListAutoConfirmDue(ctx context.Context, now time.Time, limit int) ([]*Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Booking
	for _, b := range m.bookings {
		if b.Status == StatusConfirmed && b.PaymentStatus == PaymentPaid &&
			b.AutoConfirmAt != nil && !b.AutoConfirmAt.After(now) {
			cp := *b
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) RecordFreelancerCancellation(ctx context.Context, freelancerID, bookingID string, hoursBefore float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancellations = append(m.cancellations, freelancerCancellation{
		FreelancerID: freelancerID,
		BookingID:    bookingID,
		HoursBefore:  hoursBefore,
		At:           at,
	})
	return nil
}

func (m *MemoryStore) CountLastMinuteCancellations(ctx context.Context, freelancerID string, since time.Time, maxHoursBefore float64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.cancellations {
		if c.FreelancerID == freelancerID && !c.At.Before(since) && c.HoursBefore < maxHoursBefore {
			n++
		}
	}
	return n, nil
}
