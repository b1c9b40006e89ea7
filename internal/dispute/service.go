package dispute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskvine/taskvine/internal/audit"
	"github.com/taskvine/taskvine/internal/booking"
	"github.com/taskvine/taskvine/internal/idgen"
	"github.com/taskvine/taskvine/internal/metrics"
	"github.com/taskvine/taskvine/internal/notify"
	"github.com/taskvine/taskvine/internal/payment"
)

// Escrow is the slice of the payment engine resolutions drive.
type Escrow interface {
	Release(ctx context.Context, bookingID string) (*payment.Payment, int64, error)
	Refund(ctx context.Context, bookingID string, amountPence int64, reason string) (*payment.RefundOutcome, error)
	GetByBooking(ctx context.Context, bookingID string) (*payment.Payment, error)
}

// PayoutCreator creates the freelancer payout for released escrow.
type PayoutCreator interface {
	CreateForRelease(ctx context.Context, bookingID, freelancerID string, serviceAmountPence int64) error
}

// Bookings is the slice of the booking store resolutions drive.
type Bookings interface {
	Get(ctx context.Context, id string) (*booking.Booking, error)
	SetPaymentStatus(ctx context.Context, id string, ps booking.PaymentStatus) error
	MarkCompleted(ctx context.Context, id string) (bool, error)
	MarkCancelled(ctx context.Context, id string, from booking.Status, actorRole, reason string, declined bool) (bool, error)
}

// Service opens and resolves disputes.
type Service struct {
	store    Store
	bookings Bookings
	escrow   Escrow
	payouts  PayoutCreator
	auditLog audit.Logger
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a dispute service.
func NewService(store Store, bookings Bookings, escrow Escrow, payouts PayoutCreator,
	auditLog audit.Logger, notifier notify.Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		bookings: bookings,
		escrow:   escrow,
		payouts:  payouts,
		auditLog: auditLog,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// HasOpenDispute reports whether the booking has an open dispute. The
// auto-confirm sweep consults this before releasing escrow.
func (s *Service) HasOpenDispute(ctx context.Context, bookingID string) (bool, error) {
	_, err := s.store.GetOpenByBooking(ctx, bookingID)
	if errors.Is(err, ErrDisputeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Open files a dispute on a booking. Only a party to the booking may
// open one, and only while the payment is still held in escrow.
func (s *Service) Open(ctx context.Context, bookingID, reason string, actor booking.Actor) (*Dispute, error) {
	b, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if actor.Role != booking.RoleAdmin && actor.ID != b.ClientID && actor.ID != b.FreelancerID {
		return nil, booking.ErrUnauthorized
	}

	pm, err := s.escrow.GetByBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("%w: no payment on booking", ErrNotDisputable)
	}
	if pm.EscrowStatus != payment.EscrowHeld || pm.Status != payment.StatusSucceeded {
		return nil, fmt.Errorf("%w: funds are no longer held", ErrNotDisputable)
	}

	d := &Dispute{
		ID:        idgen.WithPrefix(idgen.DisputePrefix),
		BookingID: bookingID,
		OpenedBy:  actor.ID,
		Reason:    reason,
		Status:    StatusOpen,
		CreatedAt: s.now(),
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, err
	}

	audit.Record(ctx, s.auditLog, "dispute_opened", bookingID, d.ID, pm.AmountPence,
		"", string(StatusOpen), reason)
	s.notifyParties(ctx, b, notify.TypeDisputeOpened, "Dispute opened",
		"A dispute was opened on your booking. Payment release is paused until it is resolved.")
	return d, nil
}

// ResolveRequest is the admin's decision.
type ResolveRequest struct {
	Resolution  Resolution `json:"resolution" binding:"required"`
	RefundPence int64      `json:"refundPence"` // partial_refund only
	Notes       string     `json:"notes"`
}

// Resolve applies an admin decision to an open dispute. Money moves
// before the dispute and booking records are updated, and every money
// movement goes through the escrow engine's conditional transitions, so
// a concurrent resolution attempt cannot double-spend.
func (s *Service) Resolve(ctx context.Context, id string, req ResolveRequest, resolvedBy string) (*Dispute, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusOpen {
		return nil, ErrAlreadyResolved
	}
	b, err := s.bookings.Get(ctx, d.BookingID)
	if err != nil {
		return nil, err
	}

	var refunded int64
	switch req.Resolution {
	case ResolutionFullRefund:
		refunded, err = s.fullRefund(ctx, b)
	case ResolutionPartialRefund:
		if req.RefundPence <= 0 {
			return nil, fmt.Errorf("%w: partial refund needs a positive amount", ErrInvalidResolution)
		}
		refunded, err = s.partialRefund(ctx, b, req.RefundPence)
	case ResolutionRelease:
		err = s.releaseToFreelancer(ctx, b)
	case ResolutionNoAction:
		// Auto-confirmation resumes once the dispute closes.
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidResolution, req.Resolution)
	}
	if err != nil {
		return nil, err
	}

	ok, err := s.store.Resolve(ctx, id, req.Resolution, refunded, req.Notes, resolvedBy, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyResolved
	}

	metrics.DisputesTotal.WithLabelValues(string(req.Resolution)).Inc()
	audit.Record(ctx, s.auditLog, "dispute_resolved", d.BookingID, d.ID, refunded,
		string(StatusOpen), string(StatusResolved), string(req.Resolution))
	s.notifyParties(ctx, b, notify.TypeDisputeResolved, "Dispute resolved",
		"The dispute on your booking has been resolved.")

	return s.store.Get(ctx, id)
}

// Get returns a dispute visible to the actor.
func (s *Service) Get(ctx context.Context, id string, actor booking.Actor) (*Dispute, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == booking.RoleAdmin {
		return d, nil
	}
	b, err := s.bookings.Get(ctx, d.BookingID)
	if err != nil {
		return nil, err
	}
	if actor.ID != b.ClientID && actor.ID != b.FreelancerID {
		return nil, booking.ErrUnauthorized
	}
	return d, nil
}

// ListOpen returns open disputes for the admin queue.
func (s *Service) ListOpen(ctx context.Context, limit int) ([]*Dispute, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListOpen(ctx, limit)
}

func (s *Service) fullRefund(ctx context.Context, b *booking.Booking) (int64, error) {
	out, err := s.escrow.Refund(ctx, b.ID, 0, "dispute resolved: full refund")
	if err != nil {
		return 0, fmt.Errorf("refund failed: %w", err)
	}
	s.closeRefunded(ctx, b)
	return out.AmountPence, nil
}

func (s *Service) partialRefund(ctx context.Context, b *booking.Booking, amountPence int64) (int64, error) {
	pm, err := s.escrow.GetByBooking(ctx, b.ID)
	if err != nil {
		return 0, fmt.Errorf("refund failed: %w", err)
	}
	// Clamp to what is still held; asking for more refunds everything.
	if remaining := pm.RemainingPence(); amountPence > remaining {
		amountPence = remaining
	}

	out, err := s.escrow.Refund(ctx, b.ID, amountPence, "dispute resolved: partial refund")
	if err != nil {
		return 0, fmt.Errorf("refund failed: %w", err)
	}
	if out.Full {
		// Nothing left in escrow to release; the resolution lands as a
		// full refund.
		s.closeRefunded(ctx, b)
		return out.AmountPence, nil
	}

	// The remainder goes to the freelancer.
	if err := s.releaseToFreelancer(ctx, b); err != nil {
		return out.AmountPence, err
	}
	if err := s.bookings.SetPaymentStatus(ctx, b.ID, booking.PaymentPartiallyRefunded); err != nil {
		s.logger.Warn("failed to update payment status after partial refund", "booking_id", b.ID, "error", err)
	}
	return out.AmountPence, nil
}

// closeRefunded cancels the booking and marks its payment refunded after
// escrow was fully refunded.
func (s *Service) closeRefunded(ctx context.Context, b *booking.Booking) {
	if ok, err := s.bookings.MarkCancelled(ctx, b.ID, b.Status, booking.RoleAdmin, "dispute resolved: full refund", false); err != nil {
		s.logger.Warn("failed to cancel booking after dispute refund", "booking_id", b.ID, "error", err)
	} else if !ok {
		s.logger.Warn("booking not cancellable after dispute refund", "booking_id", b.ID, "status", b.Status)
	}
	if err := s.bookings.SetPaymentStatus(ctx, b.ID, booking.PaymentRefunded); err != nil {
		s.logger.Warn("failed to update payment status after dispute refund", "booking_id", b.ID, "error", err)
	}
}

func (s *Service) releaseToFreelancer(ctx context.Context, b *booking.Booking) error {
	pm, releasable, err := s.escrow.Release(ctx, b.ID)
	if errors.Is(err, payment.ErrAlreadySettled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("escrow release failed: %w", err)
	}

	if ok, err := s.bookings.MarkCompleted(ctx, b.ID); err != nil {
		return err
	} else if !ok {
		s.logger.Warn("booking not completable after dispute release", "booking_id", b.ID, "status", b.Status)
	}

	if pm != nil {
		if err := s.payouts.CreateForRelease(ctx, b.ID, b.FreelancerID, releasable); err != nil {
			s.logger.Warn("payout creation failed after dispute release", "booking_id", b.ID, "error", err)
		}
	}
	return nil
}

func (s *Service) notifyParties(ctx context.Context, b *booking.Booking, typ, title, msg string) {
	for _, uid := range []string{b.ClientID, b.FreelancerID} {
		s.notifier.Notify(ctx, notify.Notification{
			UserID: uid, Type: typ, Title: title, Message: msg,
			Data: map[string]any{"bookingId": b.ID},
		})
	}
}
