package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskvine/taskvine/internal/audit"
	"github.com/taskvine/taskvine/internal/idgen"
	"github.com/taskvine/taskvine/internal/metrics"
	"github.com/taskvine/taskvine/internal/traces"
)

// Engine implements the escrow payment engine.
type Engine struct {
	store    Store
	provider Provider
	auditLog audit.Logger
	logger   *slog.Logger
	currency string
}

// NewEngine creates an escrow payment engine.
func NewEngine(store Store, provider Provider, auditLog audit.Logger, logger *slog.Logger, currency string) *Engine {
	return &Engine{
		store:    store,
		provider: provider,
		auditLog: auditLog,
		logger:   logger,
		currency: currency,
	}
}

// Store exposes the underlying store for read paths (handlers, sweeps).
func (e *Engine) Store() Store { return e.store }

// GetByBooking returns the booking's active payment.
func (e *Engine) GetByBooking(ctx context.Context, bookingID string) (*Payment, error) {
	return e.store.GetActiveByBooking(ctx, bookingID)
}

// CreateRequest holds checkout parameters.
type CreateRequest struct {
	BookingID        string
	ClientID         string
	FreelancerID     string
	AmountPence      int64
	PlatformFeePence int64
}

// CreateForBooking requests a provider intent and persists the payment
// with status=initiated, escrow held. If the local write fails after the
// provider call succeeded, the intent is cancelled best-effort.
func (e *Engine) CreateForBooking(ctx context.Context, req CreateRequest) (*Payment, error) {
	ctx, span := traces.StartSpan(ctx, "payment.CreateForBooking",
		traces.BookingID(req.BookingID), traces.AmountPence(req.AmountPence))
	defer span.End()

	if req.AmountPence <= 0 {
		return nil, ErrInvalidAmount
	}

	intent, err := e.provider.CreateIntent(ctx, req.AmountPence, e.currency, map[string]string{
		"booking_id": req.BookingID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	now := time.Now()
	p := &Payment{
		ID:               idgen.WithPrefix(idgen.PaymentPrefix),
		BookingID:        req.BookingID,
		ClientID:         req.ClientID,
		FreelancerID:     req.FreelancerID,
		IntentID:         intent.ID,
		ClientSecret:     intent.ClientSecret,
		Status:           StatusInitiated,
		EscrowStatus:     EscrowHeld,
		AmountPence:      req.AmountPence,
		PlatformFeePence: req.PlatformFeePence,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := e.store.Create(ctx, p); err != nil {
		// Best-effort: don't leave a chargeable intent behind.
		if cancelErr := e.provider.CancelIntent(ctx, intent.ID); cancelErr != nil {
			e.logger.Warn("failed to cancel orphaned intent",
				"intent_id", intent.ID, "error", cancelErr)
		}
		return nil, fmt.Errorf("failed to create payment record: %w", err)
	}

	return p, nil
}

// MarkSucceeded records provider confirmation of the charge. A replayed
// event whose transition already happened returns the payment unchanged.
func (e *Engine) MarkSucceeded(ctx context.Context, intentID string) (*Payment, error) {
	ok, err := e.store.MarkSucceeded(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.logger.Debug("payment already past initiated", "intent_id", intentID)
	}
	return e.store.GetByIntent(ctx, intentID)
}

// MarkFailed records provider rejection of the charge.
func (e *Engine) MarkFailed(ctx context.Context, intentID, reason string) (*Payment, error) {
	if _, err := e.store.MarkFailed(ctx, intentID, reason); err != nil {
		return nil, err
	}
	return e.store.GetByIntent(ctx, intentID)
}

// Release flips escrow held → released and returns the payment plus the
// releasable amount (amount − refunds − platform fee) for payout creation.
//
// The transition is a conditional update: a concurrent confirm/sweep racing
// this call loses with ErrAlreadySettled, which callers treat as done.
func (e *Engine) Release(ctx context.Context, bookingID string) (*Payment, int64, error) {
	ctx, span := traces.StartSpan(ctx, "payment.Release", traces.BookingID(bookingID))
	defer span.End()

	p, err := e.store.GetActiveByBooking(ctx, bookingID)
	if err != nil {
		return nil, 0, err
	}
	span.SetAttributes(traces.PaymentID(p.ID))
	if p.Status != StatusSucceeded {
		return nil, 0, fmt.Errorf("%w: payment is %s", ErrInvalidStatus, p.Status)
	}

	ok, err := e.store.ReleaseEscrow(ctx, p.ID)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		metrics.EscrowOperationsTotal.WithLabelValues("release", "already_settled").Inc()
		return nil, 0, ErrAlreadySettled
	}

	metrics.EscrowOperationsTotal.WithLabelValues("release", "ok").Inc()
	releasable := p.ReleasablePence()

	if err := audit.Record(ctx, e.auditLog, "escrow_release", bookingID, p.ID,
		releasable, string(EscrowHeld), string(EscrowReleased), ""); err != nil {
		e.logger.Warn("audit write failed", "operation", "escrow_release", "payment_id", p.ID, "error", err)
	}

	p.EscrowStatus = EscrowReleased
	return p, releasable, nil
}

// RefundOutcome describes a completed refund.
type RefundOutcome struct {
	Payment     *Payment
	RefundID    string
	AmountPence int64
	Full        bool
}

// Refund issues a provider refund and records it. amountPence <= 0 means
// the full remaining amount. The provider call carries an idempotency key
// derived from the payment and amount, so a retry after a lost response
// cannot refund twice; the local write is gated on escrow_status='held'.
func (e *Engine) Refund(ctx context.Context, bookingID string, amountPence int64, reason string) (*RefundOutcome, error) {
	ctx, span := traces.StartSpan(ctx, "payment.Refund",
		traces.BookingID(bookingID), traces.AmountPence(amountPence))
	defer span.End()

	p, err := e.store.GetActiveByBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if p.Settled() {
		return nil, ErrAlreadySettled
	}
	if p.Status != StatusSucceeded {
		return nil, fmt.Errorf("%w: payment is %s, nothing captured to refund", ErrInvalidStatus, p.Status)
	}

	remaining := p.RemainingPence()
	if amountPence <= 0 {
		amountPence = remaining
	}
	if amountPence > remaining {
		return nil, fmt.Errorf("%w: %d exceeds remaining %d", ErrInvalidAmount, amountPence, remaining)
	}
	full := amountPence == remaining

	idemKey := fmt.Sprintf("refund:%s:%d:%d", p.ID, p.RefundedAmountPence, amountPence)
	res, err := e.provider.Refund(ctx, p.IntentID, amountPence, reason, idemKey)
	if err != nil {
		metrics.EscrowOperationsTotal.WithLabelValues("refund", "provider_error").Inc()
		return nil, fmt.Errorf("provider refund failed: %w", err)
	}

	ok, err := e.store.ApplyRefund(ctx, p.ID, res.ID, amountPence, full)
	if err != nil {
		// Provider refund went through but the local write failed. The
		// idempotency key makes a retried Refund safe; flag for the
		// reconciliation sweep in the meantime.
		e.logger.Error("CRITICAL: provider refund succeeded but local write failed",
			"payment_id", p.ID, "refund_id", res.ID, "amount_pence", amountPence, "error", err)
		return nil, fmt.Errorf("failed to record refund %s: %w", res.ID, err)
	}
	if !ok {
		metrics.EscrowOperationsTotal.WithLabelValues("refund", "already_settled").Inc()
		return nil, ErrAlreadySettled
	}

	op := "refund"
	if !full {
		op = "partial_refund"
	}
	metrics.EscrowOperationsTotal.WithLabelValues(op, "ok").Inc()

	if err := audit.Record(ctx, e.auditLog, "escrow_"+op, bookingID, p.ID,
		amountPence, string(EscrowHeld), refundAfterState(full), reason); err != nil {
		e.logger.Warn("audit write failed", "operation", op, "payment_id", p.ID, "error", err)
	}

	p.RefundID = res.ID
	p.RefundedAmountPence += amountPence
	if full {
		p.Status = StatusRefunded
		p.EscrowStatus = EscrowRefunded
		p.RefundStatus = RefundFull
	} else {
		p.RefundStatus = RefundPartial
	}

	return &RefundOutcome{Payment: p, RefundID: res.ID, AmountPence: amountPence, Full: full}, nil
}

// ApplyExternalRefund records a refund that originated at the provider
// (dashboard refund, chargeback). amountRefunded is the charge's
// cumulative refunded total; whatever is already recorded locally is
// subtracted first, so replays and refunds we initiated ourselves apply
// zero. Returns the payment and the newly applied amount.
func (e *Engine) ApplyExternalRefund(ctx context.Context, intentID, refundID string, amountRefunded int64) (*Payment, int64, error) {
	p, err := e.store.GetByIntent(ctx, intentID)
	if err != nil {
		return nil, 0, err
	}

	delta := amountRefunded - p.RefundedAmountPence
	if delta <= 0 {
		return p, 0, nil
	}
	if p.EscrowStatus != EscrowHeld {
		// Escrow already released or refunded locally. The money conflict
		// is real but cannot be repaired here; make it loud.
		e.logger.Error("CRITICAL: external refund on settled escrow",
			"payment_id", p.ID, "escrow_status", p.EscrowStatus, "amount_refunded", amountRefunded)
		return p, 0, nil
	}

	remaining := p.RemainingPence()
	if delta > remaining {
		delta = remaining
	}
	full := delta == remaining

	ok, err := e.store.ApplyRefund(ctx, p.ID, refundID, delta, full)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to record external refund: %w", err)
	}
	if !ok {
		metrics.EscrowOperationsTotal.WithLabelValues("external_refund", "already_settled").Inc()
		return p, 0, nil
	}
	metrics.EscrowOperationsTotal.WithLabelValues("external_refund", "ok").Inc()

	if err := audit.Record(ctx, e.auditLog, "escrow_external_refund", p.BookingID, p.ID,
		delta, string(EscrowHeld), refundAfterState(full), "provider-originated refund"); err != nil {
		e.logger.Warn("audit write failed", "operation", "external_refund", "payment_id", p.ID, "error", err)
	}

	p.RefundID = refundID
	p.RefundedAmountPence += delta
	if full {
		p.Status = StatusRefunded
		p.EscrowStatus = EscrowRefunded
		p.RefundStatus = RefundFull
	} else {
		p.RefundStatus = RefundPartial
	}
	return p, delta, nil
}

// Abandon marks a never-captured payment failed and cancels its intent
// best-effort. Used when a pending booking expires unanswered.
func (e *Engine) Abandon(ctx context.Context, bookingID string) error {
	p, err := e.store.GetActiveByBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if p.Status != StatusInitiated {
		return nil // captured or already failed, nothing to abandon
	}
	if _, err := e.store.MarkFailed(ctx, p.IntentID, "booking expired"); err != nil {
		return err
	}
	if err := e.provider.CancelIntent(ctx, p.IntentID); err != nil {
		e.logger.Warn("failed to cancel intent for expired booking",
			"intent_id", p.IntentID, "error", err)
	}
	return nil
}

func refundAfterState(full bool) string {
	if full {
		return string(EscrowRefunded)
	}
	return string(EscrowHeld)
}
