// Package settings exposes admin-configurable platform settings.
//
// The booking, refund, payout, and scheduler engines read a point-in-time
// Snapshot; writes happen through the admin handler. Values are stored as
// a single row and cached briefly to keep hot paths off the database.
package settings

import (
	"context"
	"sync"
	"time"
)

// Snapshot is a consistent read of all platform settings.
type Snapshot struct {
	// CommissionPercent is the platform cut of the service amount, 0-100.
	CommissionPercent float64 `json:"commissionPercent"`
	// FixedBookingFeePence is deducted from every payout.
	FixedBookingFeePence int64 `json:"fixedBookingFeePence"`
	// PlatformFeePercent is applied to the booking subtotal at pricing time.
	PlatformFeePercent float64 `json:"platformFeePercent"`

	// FreeCancelHours: client cancellations at or above this many hours
	// before the service start refund 100%.
	FreeCancelHours float64 `json:"freeCancelHours"`
	// PartialRefundHours: at or above this (and below FreeCancelHours),
	// refund PartialRefundPercent. Below it, 0%.
	PartialRefundHours   float64 `json:"partialRefundHours"`
	PartialRefundPercent float64 `json:"partialRefundPercent"`

	// AutoConfirmGraceHours: paid, confirmed bookings auto-complete this
	// many hours after the scheduled end.
	AutoConfirmGraceHours float64 `json:"autoConfirmGraceHours"`
	// PendingTimeoutHours: unanswered pending bookings expire after this.
	PendingTimeoutHours float64 `json:"pendingTimeoutHours"`

	// Freelancer reliability thresholds (rolling 30-day window).
	LastMinuteCancelHours  float64 `json:"lastMinuteCancelHours"`
	CancelWarnThreshold    int     `json:"cancelWarnThreshold"`
	CancelSuspendThreshold int     `json:"cancelSuspendThreshold"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Defaults returns the platform defaults used to seed a fresh install.
func Defaults() Snapshot {
	return Snapshot{
		CommissionPercent:      10,
		FixedBookingFeePence:   50,
		PlatformFeePercent:     10,
		FreeCancelHours:        48,
		PartialRefundHours:     24,
		PartialRefundPercent:   50,
		AutoConfirmGraceHours:  24,
		PendingTimeoutHours:    24,
		LastMinuteCancelHours:  24,
		CancelWarnThreshold:    2,
		CancelSuspendThreshold: 4,
	}
}

// Store persists platform settings.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, s Snapshot) error
}

// Provider serves cached snapshots backed by a Store.
type Provider struct {
	store Store
	ttl   time.Duration

	mu       sync.RWMutex
	cached   Snapshot
	loadedAt time.Time
}

// NewProvider creates a settings provider with a short read cache.
func NewProvider(store Store) *Provider {
	return &Provider{store: store, ttl: 30 * time.Second}
}

// Snapshot returns the current settings, serving from cache within the TTL.
// On store failure it falls back to the last good snapshot, or defaults.
func (p *Provider) Snapshot(ctx context.Context) Snapshot {
	p.mu.RLock()
	if !p.loadedAt.IsZero() && time.Since(p.loadedAt) < p.ttl {
		s := p.cached
		p.mu.RUnlock()
		return s
	}
	p.mu.RUnlock()

	s, err := p.store.Load(ctx)
	if err != nil {
		p.mu.RLock()
		defer p.mu.RUnlock()
		if !p.loadedAt.IsZero() {
			return p.cached
		}
		return Defaults()
	}

	p.mu.Lock()
	p.cached = s
	p.loadedAt = time.Now()
	p.mu.Unlock()
	return s
}

// Invalidate drops the cache so the next Snapshot hits the store.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.loadedAt = time.Time{}
	p.mu.Unlock()
}
