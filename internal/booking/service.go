package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskvine/taskvine/internal/idgen"
	"github.com/taskvine/taskvine/internal/metrics"
	"github.com/taskvine/taskvine/internal/notify"
	"github.com/taskvine/taskvine/internal/payment"
	"github.com/taskvine/taskvine/internal/pricing"
	"github.com/taskvine/taskvine/internal/refund"
	"github.com/taskvine/taskvine/internal/settings"
)

// EscrowEngine is the slice of the payment engine this package drives.
type EscrowEngine interface {
	CreateForBooking(ctx context.Context, req payment.CreateRequest) (*payment.Payment, error)
	Release(ctx context.Context, bookingID string) (*payment.Payment, int64, error)
	Refund(ctx context.Context, bookingID string, amountPence int64, reason string) (*payment.RefundOutcome, error)
	Abandon(ctx context.Context, bookingID string) error
}

// PayoutCreator creates the freelancer payout once escrow is released.
type PayoutCreator interface {
	CreateForRelease(ctx context.Context, bookingID, freelancerID string, serviceAmountPence int64) error
}

// DisputeChecker reports open disputes; they suppress auto-confirmation.
type DisputeChecker interface {
	HasOpenDispute(ctx context.Context, bookingID string) (bool, error)
}

// ReliabilitySignal is returned to the caller after a freelancer-initiated
// cancellation. Suspension itself is an external admin action.
type ReliabilitySignal string

const (
	SignalNone    ReliabilitySignal = ""
	SignalWarning ReliabilitySignal = "warning"
	SignalSuspend ReliabilitySignal = "suspend"
)

// CancelResult describes a completed cancel/decline.
type CancelResult struct {
	Booking           *Booking          `json:"booking"`
	RefundPence       int64             `json:"refundPence"`
	RefundPercent     float64           `json:"refundPercent"`
	Reliability       ReliabilitySignal `json:"reliability,omitempty"`
	ReliabilityDetail string            `json:"reliabilityDetail,omitempty"`
}

// Service implements the booking state machine.
type Service struct {
	store    Store
	catalog  Catalog
	escrow   EscrowEngine
	payouts  PayoutCreator
	disputes DisputeChecker
	settings *settings.Provider
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a booking service.
func NewService(store Store, catalog Catalog, escrow EscrowEngine, payouts PayoutCreator,
	disputes DisputeChecker, set *settings.Provider, notifier notify.Notifier, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		catalog:  catalog,
		escrow:   escrow,
		payouts:  payouts,
		disputes: disputes,
		settings: set,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateRequest holds checkout parameters for a new booking.
type CreateRequest struct {
	ClientID           string               `json:"clientId"`
	ServiceID          string               `json:"serviceId" binding:"required"`
	ScheduledStart     time.Time            `json:"scheduledStart" binding:"required"`
	ScheduledEnd       time.Time            `json:"scheduledEnd" binding:"required"`
	Location           pricing.LocationType `json:"location" binding:"required"`
	ClientOwnMaterials bool                 `json:"clientOwnMaterials"`
}

// CreateResult is the booking plus the payment the client must complete.
type CreateResult struct {
	Booking *Booking         `json:"booking"`
	Payment *payment.Payment `json:"payment"`
}

// Create validates the request, computes the price breakdown, persists the
// booking as pending with a 24h acceptance deadline, and opens an escrow
// payment for it.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	now := s.now()
	if !req.ScheduledStart.Before(req.ScheduledEnd) {
		return nil, fmt.Errorf("%w: start must be before end", ErrInvalidSchedule)
	}
	if req.ScheduledStart.Before(now) {
		return nil, fmt.Errorf("%w: start is in the past", ErrInvalidSchedule)
	}

	svc, err := s.catalog.ServiceInfo(ctx, req.ServiceID)
	if err != nil {
		return nil, err
	}
	if !svc.Active {
		return nil, ErrServiceInactive
	}
	if svc.FreelancerID == req.ClientID {
		return nil, fmt.Errorf("%w: cannot book your own service", ErrUnauthorized)
	}

	taken, err := s.store.HasOverlap(ctx, svc.FreelancerID, req.ScheduledStart, req.ScheduledEnd)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrSlotTaken
	}

	set := s.settings.Snapshot(ctx)
	price := pricing.Calculate(pricing.Input{
		BasePricePence:      svc.BasePricePence,
		MaterialsPricePence: svc.MaterialsPricePence,
		TravelPricePence:    svc.TravelPricePence,
		MaterialsPolicy:     svc.MaterialsPolicy,
		ClientOwnMaterials:  req.ClientOwnMaterials,
		Location:            req.Location,
		PlatformFeePercent:  set.PlatformFeePercent,
	})

	expires := now.Add(time.Duration(set.PendingTimeoutHours * float64(time.Hour)))
	b := &Booking{
		ID:             idgen.WithPrefix(idgen.BookingPrefix),
		ClientID:       req.ClientID,
		FreelancerID:   svc.FreelancerID,
		ServiceID:      svc.ID,
		ScheduledStart: req.ScheduledStart,
		ScheduledEnd:   req.ScheduledEnd,
		Location:       req.Location,
		Price:          price,
		Status:         StatusPending,
		PaymentStatus:  PaymentUnpaid,
		ExpiresAt:      &expires,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	pmt, err := s.escrow.CreateForBooking(ctx, payment.CreateRequest{
		BookingID:        b.ID,
		ClientID:         b.ClientID,
		FreelancerID:     b.FreelancerID,
		AmountPence:      price.TotalPence,
		PlatformFeePence: price.PlatformFeePence,
	})
	if err != nil {
		// Without a payment the booking is unfulfillable; close it out.
		if _, cErr := s.store.MarkCancelled(ctx, b.ID, StatusPending, "system", "payment setup failed", false); cErr != nil {
			s.logger.Error("failed to cancel booking after payment setup failure",
				"booking_id", b.ID, "error", cErr)
		}
		return nil, fmt.Errorf("failed to set up payment: %w", err)
	}

	b.PaymentStatus = PaymentPending
	if err := s.store.SetPaymentStatus(ctx, b.ID, PaymentPending); err != nil {
		s.logger.Warn("failed to mark payment pending", "booking_id", b.ID, "error", err)
	}

	metrics.BookingTransitionsTotal.WithLabelValues(string(StatusPending), "create").Inc()
	s.notifier.Notify(ctx, notify.Notification{
		UserID: b.FreelancerID, Type: notify.TypeBookingRequested,
		Title:   "New booking request",
		Message: "You have a new booking request awaiting your response.",
		Data:    map[string]any{"bookingId": b.ID},
	})

	return &CreateResult{Booking: b, Payment: pmt}, nil
}

// Accept moves a pending booking to confirmed. Freelancer only.
func (s *Service) Accept(ctx context.Context, id string, actor Actor) (*Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != RoleAdmin && actor.ID != b.FreelancerID {
		return nil, ErrUnauthorized
	}

	// If payment already landed while pending, acceptance is what arms the
	// auto-confirm timer; the store only applies it to a paid booking.
	set := s.settings.Snapshot(ctx)
	autoConfirmAt := b.ScheduledEnd.Add(time.Duration(set.AutoConfirmGraceHours * float64(time.Hour)))

	ok, err := s.store.Accept(ctx, id, autoConfirmAt)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: booking is not pending", ErrInvalidStatus)
	}

	metrics.BookingTransitionsTotal.WithLabelValues(string(StatusConfirmed), "accept").Inc()
	s.notifier.Notify(ctx, notify.Notification{
		UserID: b.ClientID, Type: notify.TypeBookingAccepted,
		Title:   "Booking accepted",
		Message: "Your booking request was accepted.",
		Data:    map[string]any{"bookingId": b.ID},
	})

	return s.store.Get(ctx, id)
}

// Decline cancels a pending booking. Freelancer only; the client is always
// refunded in full. The provider refund is issued before the status write.
func (s *Service) Decline(ctx context.Context, id string, actor Actor, reason string) (*CancelResult, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != RoleAdmin && actor.ID != b.FreelancerID {
		return nil, ErrUnauthorized
	}
	if b.Status != StatusPending {
		return nil, fmt.Errorf("%w: booking is not pending", ErrInvalidStatus)
	}

	res := &CancelResult{RefundPercent: 100}
	newPS := b.PaymentStatus

	if b.PaymentStatus == PaymentPaid {
		out, err := s.escrow.Refund(ctx, b.ID, 0, "freelancer declined")
		if err != nil && !errors.Is(err, payment.ErrAlreadySettled) {
			return nil, fmt.Errorf("refund failed: %w", err)
		}
		if out != nil {
			res.RefundPence = out.AmountPence
		}
		newPS = PaymentRefunded
	} else {
		// Nothing captured; release the intent.
		if err := s.escrow.Abandon(ctx, b.ID); err != nil && !errors.Is(err, payment.ErrPaymentNotFound) {
			s.logger.Warn("failed to abandon payment on decline", "booking_id", b.ID, "error", err)
		}
	}

	ok, err := s.store.MarkCancelled(ctx, id, StatusPending, actor.Role, reason, true)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: booking is not pending", ErrInvalidStatus)
	}
	if newPS != b.PaymentStatus {
		if err := s.store.SetPaymentStatus(ctx, id, newPS); err != nil {
			s.logger.Warn("failed to update payment status after decline", "booking_id", id, "error", err)
		}
	}

	metrics.BookingTransitionsTotal.WithLabelValues(string(StatusCancelled), "decline").Inc()
	s.notifier.Notify(ctx, notify.Notification{
		UserID: b.ClientID, Type: notify.TypeBookingDeclined,
		Title:   "Booking declined",
		Message: "The freelancer declined your booking request. Any payment has been refunded in full.",
		Data:    map[string]any{"bookingId": b.ID},
	})

	res.Booking, err = s.store.Get(ctx, id)
	return res, err
}

// Cancel cancels a confirmed booking. Either party (or admin). The refund
// is computed by the policy engine and issued before the status write.
// Freelancer-initiated cancellations feed the reliability counter.
func (s *Service) Cancel(ctx context.Context, id string, actor Actor, reason string) (*CancelResult, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.Party(actor) {
		return nil, ErrUnauthorized
	}
	if b.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: booking is not confirmed", ErrInvalidStatus)
	}

	now := s.now()
	set := s.settings.Snapshot(ctx)
	role := refund.RoleClient
	if actor.Role == RoleFreelancer || (actor.ID == b.FreelancerID && actor.Role != RoleAdmin) {
		role = refund.RoleFreelancer
	}

	decision := refund.Evaluate(b.Price.TotalPence, b.ScheduledStart, now, role, refund.Policy{
		FreeCancelHours:      set.FreeCancelHours,
		PartialRefundHours:   set.PartialRefundHours,
		PartialRefundPercent: set.PartialRefundPercent,
	})

	res := &CancelResult{RefundPercent: decision.Percent}
	newPS := b.PaymentStatus

	switch {
	case b.PaymentStatus == PaymentPaid && decision.AmountPence > 0:
		out, err := s.escrow.Refund(ctx, b.ID, decision.AmountPence, "booking cancelled")
		if err != nil && !errors.Is(err, payment.ErrAlreadySettled) {
			return nil, fmt.Errorf("refund failed: %w", err)
		}
		if out != nil {
			res.RefundPence = out.AmountPence
			if out.Full {
				newPS = PaymentRefunded
			} else {
				newPS = PaymentPartiallyRefunded
			}
		}
	case b.PaymentStatus != PaymentPaid:
		if err := s.escrow.Abandon(ctx, b.ID); err != nil && !errors.Is(err, payment.ErrPaymentNotFound) {
			s.logger.Warn("failed to abandon payment on cancel", "booking_id", b.ID, "error", err)
		}
	}

	ok, err := s.store.MarkCancelled(ctx, id, StatusConfirmed, actor.Role, reason, false)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: booking is not confirmed", ErrInvalidStatus)
	}
	if newPS != b.PaymentStatus {
		if err := s.store.SetPaymentStatus(ctx, id, newPS); err != nil {
			s.logger.Warn("failed to update payment status after cancel", "booking_id", id, "error", err)
		}
	}

	if role == refund.RoleFreelancer {
		sig, detail := s.recordFreelancerCancellation(ctx, b, decision.HoursBeforeService, set)
		res.Reliability = sig
		res.ReliabilityDetail = detail
	}

	metrics.BookingTransitionsTotal.WithLabelValues(string(StatusCancelled), "cancel").Inc()
	s.notifyBoth(ctx, b, notify.TypeBookingCancelled, "Booking cancelled",
		"The booking has been cancelled.")

	res.Booking, err = s.store.Get(ctx, id)
	return res, err
}

// ConfirmService releases escrow and completes the booking. Client or
// admin only; requires the booking paid and confirmed.
func (s *Service) ConfirmService(ctx context.Context, id string, actor Actor) (*Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != RoleAdmin && actor.ID != b.ClientID {
		return nil, ErrUnauthorized
	}
	if b.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: booking is not confirmed", ErrInvalidStatus)
	}
	if b.PaymentStatus != PaymentPaid {
		return nil, fmt.Errorf("%w: booking is not paid", ErrInvalidStatus)
	}

	return s.releaseAndComplete(ctx, b, "confirm")
}

// releaseAndComplete is the shared release path for user confirmation and
// the auto-confirm sweep. The escrow conditional update is the race gate:
// the losing caller sees ErrAlreadySettled and only repairs the booking
// status if that transition is still pending.
func (s *Service) releaseAndComplete(ctx context.Context, b *Booking, trigger string) (*Booking, error) {
	pmt, releasable, err := s.escrow.Release(ctx, b.ID)
	if errors.Is(err, payment.ErrAlreadySettled) {
		// Someone else released; fall through to the booking transition,
		// which is itself conditional and repairs a half-applied confirm.
		pmt = nil
	} else if err != nil {
		return nil, fmt.Errorf("escrow release failed: %w", err)
	}

	ok, err := s.store.MarkCompleted(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if !ok && pmt == nil {
		// Both transitions already done; nothing left for this caller.
		return nil, fmt.Errorf("%w: booking already completed", ErrInvalidStatus)
	}

	if pmt != nil {
		if err := s.payouts.CreateForRelease(ctx, b.ID, b.FreelancerID, releasable); err != nil {
			// Secondary effect of a successful release: log and continue.
			s.logger.Warn("payout creation failed after escrow release",
				"booking_id", b.ID, "error", err)
		}
	}

	metrics.BookingTransitionsTotal.WithLabelValues(string(StatusCompleted), trigger).Inc()
	s.notifyBoth(ctx, b, notify.TypeBookingCompleted, "Service completed",
		"The booking is complete and payment has been released.")

	return s.store.Get(ctx, b.ID)
}

// Get returns a booking visible to the actor.
func (s *Service) Get(ctx context.Context, id string, actor Actor) (*Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.Party(actor) {
		return nil, ErrUnauthorized
	}
	return b, nil
}

// ListByUser returns the actor's own bookings.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// MarkPaid is driven by the payment-succeeded webhook: it flips the
// booking to paid and arms the auto-confirm timer past the scheduled end.
func (s *Service) MarkPaid(ctx context.Context, id string) (*Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	set := s.settings.Snapshot(ctx)
	autoConfirmAt := b.ScheduledEnd.Add(time.Duration(set.AutoConfirmGraceHours * float64(time.Hour)))

	if _, err := s.store.MarkPaid(ctx, id, autoConfirmAt); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

// MarkPaymentFailed is driven by the payment-failed webhook.
func (s *Service) MarkPaymentFailed(ctx context.Context, id string) (*Booking, error) {
	if _, err := s.store.MarkPaymentFailed(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

// MarkRefunded is driven by the charge-refunded webhook, for refunds that
// originated at the provider rather than through an operation here.
func (s *Service) MarkRefunded(ctx context.Context, id string, partial bool) (*Booking, error) {
	ps := PaymentRefunded
	if partial {
		ps = PaymentPartiallyRefunded
	}
	if err := s.store.SetPaymentStatus(ctx, id, ps); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

func (s *Service) recordFreelancerCancellation(ctx context.Context, b *Booking, hoursBefore float64, set settings.Snapshot) (ReliabilitySignal, string) {
	now := s.now()
	if err := s.store.RecordFreelancerCancellation(ctx, b.FreelancerID, b.ID, hoursBefore, now); err != nil {
		s.logger.Warn("failed to record freelancer cancellation",
			"freelancer_id", b.FreelancerID, "error", err)
		return SignalNone, ""
	}
	if hoursBefore >= set.LastMinuteCancelHours {
		return SignalNone, ""
	}

	since := now.AddDate(0, 0, -30)
	n, err := s.store.CountLastMinuteCancellations(ctx, b.FreelancerID, since, set.LastMinuteCancelHours)
	if err != nil {
		s.logger.Warn("failed to count cancellations", "freelancer_id", b.FreelancerID, "error", err)
		return SignalNone, ""
	}

	switch {
	case n >= set.CancelSuspendThreshold:
		return SignalSuspend, fmt.Sprintf("%d last-minute cancellations in 30 days; account should be suspended", n)
	case n >= set.CancelWarnThreshold:
		return SignalWarning, fmt.Sprintf("%d last-minute cancellations in 30 days; repeated cancellations lead to suspension", n)
	}
	return SignalNone, ""
}

func (s *Service) notifyBoth(ctx context.Context, b *Booking, typ, title, msg string) {
	for _, uid := range []string{b.ClientID, b.FreelancerID} {
		s.notifier.Notify(ctx, notify.Notification{
			UserID: uid, Type: typ, Title: title, Message: msg,
			Data: map[string]any{"bookingId": b.ID},
		})
	}
}
