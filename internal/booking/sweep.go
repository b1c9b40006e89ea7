package booking

import (
	"context"
	"errors"

	"github.com/taskvine/taskvine/internal/metrics"
	"github.com/taskvine/taskvine/internal/notify"
	"github.com/taskvine/taskvine/internal/payment"
)

const sweepBatch = 100

// ExpireDue expires pending bookings whose acceptance deadline has
// passed. Returns the number of bookings expired.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.ListExpiredPending(ctx, now, sweepBatch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, b := range due {
		ok, err := s.store.MarkExpired(ctx, b.ID, now)
		if err != nil {
			s.logger.Warn("failed to expire booking", "booking_id", b.ID, "error", err)
			continue
		}
		if !ok {
			// Accepted, declined, or expired by a concurrent sweep.
			continue
		}
		expired++

		// Paid-but-unanswered should not happen under the checkout flow,
		// but an intent may have been captured out of band; refund it.
		if b.PaymentStatus == PaymentPaid {
			if _, err := s.escrow.Refund(ctx, b.ID, 0, "booking expired"); err != nil &&
				!errors.Is(err, payment.ErrAlreadySettled) {
				s.logger.Error("failed to refund expired booking",
					"booking_id", b.ID, "error", err)
			} else if err := s.store.SetPaymentStatus(ctx, b.ID, PaymentRefunded); err != nil {
				s.logger.Warn("failed to update payment status after expiry refund",
					"booking_id", b.ID, "error", err)
			}
		} else {
			if err := s.escrow.Abandon(ctx, b.ID); err != nil && !errors.Is(err, payment.ErrPaymentNotFound) {
				s.logger.Warn("failed to abandon payment for expired booking",
					"booking_id", b.ID, "error", err)
			}
		}

		metrics.BookingTransitionsTotal.WithLabelValues(string(StatusExpired), "sweep").Inc()
		s.notifyBoth(ctx, b, notify.TypeBookingExpired, "Booking expired",
			"The booking request was not answered in time and has expired.")
	}

	return expired, nil
}

// AutoConfirmDue completes paid, confirmed bookings whose auto-confirm
// deadline has passed. Bookings with an open dispute are skipped; the
// dispute resolution decides where the money goes. Returns the number of
// bookings completed.
func (s *Service) AutoConfirmDue(ctx context.Context) (int, error) {
	due, err := s.store.ListAutoConfirmDue(ctx, s.now(), sweepBatch)
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, b := range due {
		open, err := s.disputes.HasOpenDispute(ctx, b.ID)
		if err != nil {
			s.logger.Warn("failed to check disputes before auto-confirm",
				"booking_id", b.ID, "error", err)
			continue
		}
		if open {
			continue
		}

		if _, err := s.releaseAndComplete(ctx, b, "auto_confirm"); err != nil {
			if errors.Is(err, ErrInvalidStatus) {
				continue
			}
			s.logger.Warn("auto-confirm failed", "booking_id", b.ID, "error", err)
			continue
		}
		completed++
	}

	return completed, nil
}
