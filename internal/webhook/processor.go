package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskvine/taskvine/internal/booking"
	"github.com/taskvine/taskvine/internal/metrics"
	"github.com/taskvine/taskvine/internal/notify"
	"github.com/taskvine/taskvine/internal/payment"
)

// PaymentEngine is the slice of the payment engine webhooks drive.
type PaymentEngine interface {
	MarkSucceeded(ctx context.Context, intentID string) (*payment.Payment, error)
	MarkFailed(ctx context.Context, intentID, reason string) (*payment.Payment, error)
	ApplyExternalRefund(ctx context.Context, intentID, refundID string, amountRefunded int64) (*payment.Payment, int64, error)
}

// BookingService is the slice of the booking service webhooks drive.
type BookingService interface {
	MarkPaid(ctx context.Context, id string) (*booking.Booking, error)
	MarkPaymentFailed(ctx context.Context, id string) (*booking.Booking, error)
	MarkRefunded(ctx context.Context, id string, partial bool) (*booking.Booking, error)
}

// Incoming is a verified, minimally parsed provider event.
type Incoming struct {
	EventID        string
	Type           string
	IntentID       string
	BookingID      string
	FailureReason  string
	RefundID       string
	AmountRefunded int64 // cumulative, charge events only
}

// Processor applies provider events to the payment and booking state.
type Processor struct {
	store    Store
	payments PaymentEngine
	bookings BookingService
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewProcessor creates a webhook processor.
func NewProcessor(store Store, payments PaymentEngine, bookings BookingService,
	notifier notify.Notifier, logger *slog.Logger) *Processor {
	return &Processor{store: store, payments: payments, bookings: bookings, notifier: notifier, logger: logger}
}

// Process journals and applies one event. A duplicate of an already
// processed event is a no-op; a duplicate of a failed event is retried.
// The returned error means the event should be redelivered.
func (p *Processor) Process(ctx context.Context, in Incoming) error {
	inserted, err := p.store.Insert(ctx, &Event{
		EventID:    in.EventID,
		Type:       in.Type,
		IntentID:   in.IntentID,
		BookingID:  in.BookingID,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to journal event: %w", err)
	}
	if !inserted {
		prev, err := p.store.Get(ctx, in.EventID)
		if err != nil {
			return err
		}
		if prev.Processed {
			metrics.WebhookEventsTotal.WithLabelValues(in.Type, "duplicate").Inc()
			p.logger.Info("duplicate webhook event ignored", "event_id", in.EventID, "type", in.Type)
			return nil
		}
		// Fall through and retry the failed event.
	}

	if err := p.apply(ctx, in); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(in.Type, "failed").Inc()
		if mErr := p.store.MarkFailed(ctx, in.EventID, err.Error()); mErr != nil {
			p.logger.Warn("failed to record webhook failure", "event_id", in.EventID, "error", mErr)
		}
		return err
	}

	metrics.WebhookEventsTotal.WithLabelValues(in.Type, "processed").Inc()
	return p.store.MarkProcessed(ctx, in.EventID)
}

func (p *Processor) apply(ctx context.Context, in Incoming) error {
	switch in.Type {
	case TypePaymentSucceeded:
		return p.applySucceeded(ctx, in)
	case TypePaymentFailed:
		return p.applyFailed(ctx, in)
	case TypeChargeRefunded:
		return p.applyRefunded(ctx, in)
	default:
		p.logger.Debug("unhandled webhook event type", "type", in.Type)
		return nil
	}
}

func (p *Processor) applySucceeded(ctx context.Context, in Incoming) error {
	pm, err := p.payments.MarkSucceeded(ctx, in.IntentID)
	if err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound) {
			// The provider can deliver the event before our checkout
			// transaction commits. Redeliver.
			return fmt.Errorf("payment for intent %s not found yet: %w", in.IntentID, err)
		}
		return err
	}

	if _, err := p.bookings.MarkPaid(ctx, pm.BookingID); err != nil {
		return fmt.Errorf("failed to mark booking paid: %w", err)
	}

	for _, uid := range []string{pm.ClientID, pm.FreelancerID} {
		p.notifier.Notify(ctx, notify.Notification{
			UserID: uid, Type: notify.TypePaymentReceived,
			Title:   "Payment received",
			Message: "The booking payment has been received and is held until the service completes.",
			Data:    map[string]any{"bookingId": pm.BookingID},
		})
	}
	return nil
}

func (p *Processor) applyFailed(ctx context.Context, in Incoming) error {
	reason := in.FailureReason
	if reason == "" {
		reason = "payment failed"
	}
	pm, err := p.payments.MarkFailed(ctx, in.IntentID, reason)
	if err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound) {
			return fmt.Errorf("payment for intent %s not found yet: %w", in.IntentID, err)
		}
		return err
	}

	if _, err := p.bookings.MarkPaymentFailed(ctx, pm.BookingID); err != nil {
		return fmt.Errorf("failed to mark booking payment failed: %w", err)
	}

	p.notifier.Notify(ctx, notify.Notification{
		UserID: pm.ClientID, Type: notify.TypePaymentFailed,
		Title:   "Payment failed",
		Message: "Your booking payment did not go through. Please try a different payment method.",
		Data:    map[string]any{"bookingId": pm.BookingID, "reason": reason},
	})
	return nil
}

// applyRefunded records a refund that originated at the provider, for
// example a dashboard refund or a chargeback. Refunds we issued ourselves
// are already on the payment record and come back as a no-op delta.
func (p *Processor) applyRefunded(ctx context.Context, in Incoming) error {
	if in.AmountRefunded <= 0 {
		p.logger.Warn("charge.refunded without amount", "event_id", in.EventID, "intent_id", in.IntentID)
		return nil
	}

	pm, applied, err := p.payments.ApplyExternalRefund(ctx, in.IntentID, in.RefundID, in.AmountRefunded)
	if err != nil {
		if errors.Is(err, payment.ErrPaymentNotFound) {
			return fmt.Errorf("payment for intent %s not found yet: %w", in.IntentID, err)
		}
		return err
	}
	if applied == 0 {
		// Already recorded locally (we initiated it, or a replay).
		return nil
	}

	partial := pm.Status != payment.StatusRefunded
	if _, err := p.bookings.MarkRefunded(ctx, pm.BookingID, partial); err != nil {
		return fmt.Errorf("failed to mark booking refunded: %w", err)
	}

	p.notifier.Notify(ctx, notify.Notification{
		UserID: pm.ClientID, Type: notify.TypeRefundIssued,
		Title:   "Refund issued",
		Message: "A refund has been issued on your booking payment.",
		Data:    map[string]any{"bookingId": pm.BookingID, "amountPence": pm.RefundedAmountPence},
	})
	return nil
}
