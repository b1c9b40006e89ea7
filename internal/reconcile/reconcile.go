// Package reconcile repairs payments stranded by lost webhooks. Intents
// that stayed in initiated are checked against the provider's view and
// driven to the state the provider already settled on.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskvine/taskvine/internal/booking"
	"github.com/taskvine/taskvine/internal/metrics"
	"github.com/taskvine/taskvine/internal/payment"
)

// Payments is the slice of the payment engine the sweep drives.
type Payments interface {
	MarkSucceeded(ctx context.Context, intentID string) (*payment.Payment, error)
	MarkFailed(ctx context.Context, intentID, reason string) (*payment.Payment, error)
}

// Bookings is the slice of the booking service the sweep drives.
type Bookings interface {
	MarkPaid(ctx context.Context, id string) (*booking.Booking, error)
	MarkPaymentFailed(ctx context.Context, id string) (*booking.Booking, error)
}

// IntentChecker reports the provider's view of an intent.
type IntentChecker interface {
	IntentStatus(ctx context.Context, intentID string) (string, error)
}

// Sweeper reconciles stale initiated payments with the provider.
type Sweeper struct {
	store    payment.Store
	payments Payments
	bookings Bookings
	provider IntentChecker
	minAge   time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweeper creates a reconciliation sweeper. minAge keeps the sweep
// off payments the webhook is still likely to settle on its own.
func NewSweeper(store payment.Store, payments Payments, bookings Bookings,
	provider IntentChecker, minAge time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		payments: payments,
		bookings: bookings,
		provider: provider,
		minAge:   minAge,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run checks every stale initiated payment against the provider and
// applies the provider's verdict. Returns the number of divergences
// repaired.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.minAge)
	stale, err := s.store.ListStaleInitiated(ctx, cutoff, 100)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale payments: %w", err)
	}

	repaired := 0
	for _, pm := range stale {
		fixed, err := s.reconcileOne(ctx, pm)
		if err != nil {
			s.logger.Warn("reconciliation failed", "payment_id", pm.ID, "error", err)
			continue
		}
		if fixed {
			repaired++
		}
	}
	return repaired, nil
}

func (s *Sweeper) reconcileOne(ctx context.Context, pm *payment.Payment) (bool, error) {
	status, err := s.provider.IntentStatus(ctx, pm.IntentID)
	if err != nil {
		return false, err
	}

	switch status {
	case "succeeded":
		metrics.ReconcileDivergencesTotal.Inc()
		s.logger.Info("repairing payment missed by webhooks",
			"payment_id", pm.ID, "booking_id", pm.BookingID, "provider_status", status)
		if _, err := s.payments.MarkSucceeded(ctx, pm.IntentID); err != nil {
			return false, err
		}
		if _, err := s.bookings.MarkPaid(ctx, pm.BookingID); err != nil {
			return false, err
		}
		return true, nil

	case "canceled", "requires_payment_method":
		// requires_payment_method after the stale window means the charge
		// was attempted and declined.
		metrics.ReconcileDivergencesTotal.Inc()
		s.logger.Info("marking abandoned payment failed",
			"payment_id", pm.ID, "booking_id", pm.BookingID, "provider_status", status)
		if _, err := s.payments.MarkFailed(ctx, pm.IntentID, "reconciled: "+status); err != nil {
			return false, err
		}
		if _, err := s.bookings.MarkPaymentFailed(ctx, pm.BookingID); err != nil {
			return false, err
		}
		return true, nil

	default:
		// Still in flight on the provider side; leave it for a later run.
		return false, nil
	}
}
