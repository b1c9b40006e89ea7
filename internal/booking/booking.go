// Package booking owns the booking state machine.
//
// Transitions:
//
//	pending → confirmed   (freelancer accepts)
//	pending → cancelled   (freelancer declines)
//	pending → expired     (timer, unanswered 24h)
//	confirmed → cancelled (either party cancels)
//	confirmed → completed (client confirms, or auto-confirm timer)
//
// Every transition is a conditional update guarded by the expected prior
// state, so two concurrent triggers produce exactly one effective
// transition. ExpiresAt and AutoConfirmAt are mutually exclusive lifecycle
// timers, cleared once consumed.
package booking

import (
	"context"
	"errors"
	"time"

	"github.com/taskvine/taskvine/internal/pricing"
)

var (
	ErrBookingNotFound = errors.New("booking not found")
	ErrInvalidStatus   = errors.New("invalid booking status for this operation")
	ErrUnauthorized    = errors.New("not a party to this booking")
	ErrSlotTaken       = errors.New("the requested slot is not available")
	ErrServiceNotFound = errors.New("service not found")
	ErrServiceInactive = errors.New("service is not active")
	ErrInvalidSchedule = errors.New("invalid schedule")
)

// Status is the booking lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// PaymentStatus mirrors where the booking's money stands.
type PaymentStatus string

const (
	PaymentUnpaid            PaymentStatus = "unpaid"
	PaymentPending           PaymentStatus = "payment_pending"
	PaymentFailed            PaymentStatus = "payment_failed"
	PaymentPaid              PaymentStatus = "paid"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

// Actor identifies who is driving a transition.
type Actor struct {
	ID   string
	Role string // "client", "freelancer", "admin"
}

const (
	RoleClient     = "client"
	RoleFreelancer = "freelancer"
	RoleAdmin      = "admin"
)

// Booking is a scheduled appointment between a client and a freelancer.
// All amounts are integer pence.
type Booking struct {
	ID           string `json:"id"`
	ClientID     string `json:"clientId"`
	FreelancerID string `json:"freelancerId"`
	ServiceID    string `json:"serviceId"`

	ScheduledStart time.Time            `json:"scheduledStart"`
	ScheduledEnd   time.Time            `json:"scheduledEnd"`
	Location       pricing.LocationType `json:"location"`

	Price pricing.Breakdown `json:"price"`

	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`

	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	AutoConfirmAt *time.Time `json:"autoConfirmAt,omitempty"`

	CancelledBy    string     `json:"cancelledBy,omitempty"` // actor role
	CancelReason   string     `json:"cancelReason,omitempty"`
	CancelledAt    *time.Time `json:"cancelledAt,omitempty"`
	DeclinedReason string     `json:"declinedReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Party reports whether the actor is the client or freelancer on the
// booking. Admins are always a party for override purposes.
func (b *Booking) Party(a Actor) bool {
	if a.Role == RoleAdmin {
		return true
	}
	return a.ID == b.ClientID || a.ID == b.FreelancerID
}

// Terminal reports whether the booking reached a final state.
func (b *Booking) Terminal() bool {
	switch b.Status {
	case StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Store persists bookings. Mutating methods that return a bool use
// conditional updates guarded by the expected prior state; false means
// another caller already performed the transition.
type Store interface {
	Create(ctx context.Context, b *Booking) error
	Get(ctx context.Context, id string) (*Booking, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Booking, error)

	// HasOverlap reports whether the freelancer already has a pending or
	// confirmed booking overlapping [start, end).
	HasOverlap(ctx context.Context, freelancerID string, start, end time.Time) (bool, error)

	// Accept: pending → confirmed, clears expires_at. The auto-confirm
	// timer is armed only if the booking is already paid; the two timers
	// are never set together.
	Accept(ctx context.Context, id string, autoConfirmAt time.Time) (bool, error)
	// MarkCancelled: from → cancelled with cancellation metadata.
	MarkCancelled(ctx context.Context, id string, from Status, actorRole, reason string, declined bool) (bool, error)
	// MarkExpired: pending → expired, only past expires_at.
	MarkExpired(ctx context.Context, id string, now time.Time) (bool, error)
	// MarkCompleted: confirmed → completed, clears auto_confirm_at.
	MarkCompleted(ctx context.Context, id string) (bool, error)

	// MarkPaid flips payment status to paid. The auto-confirm timer is
	// armed only if the booking is already confirmed; a pending booking
	// keeps its acceptance deadline until the freelancer accepts.
	MarkPaid(ctx context.Context, id string, autoConfirmAt time.Time) (bool, error)
	MarkPaymentFailed(ctx context.Context, id string) (bool, error)
	SetPaymentStatus(ctx context.Context, id string, ps PaymentStatus) error

	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*Booking, error)
	ListAutoConfirmDue(ctx context.Context, now time.Time, limit int) ([]*Booking, error)

	// Freelancer reliability ledger (rolling window queries).
	RecordFreelancerCancellation(ctx context.Context, freelancerID, bookingID string, hoursBefore float64, at time.Time) error
	CountLastMinuteCancellations(ctx context.Context, freelancerID string, since time.Time, maxHoursBefore float64) (int, error)
}

// ServiceInfo is the catalog's view of a bookable service.
type ServiceInfo struct {
	ID                  string
	FreelancerID        string
	Active              bool
	BasePricePence      int64
	MaterialsPricePence int64
	TravelPricePence    int64
	MaterialsPolicy     pricing.MaterialsPolicy
}

// Catalog resolves services. The service CRUD surface lives outside this
// core; only activity and pricing inputs are consumed here.
type Catalog interface {
	ServiceInfo(ctx context.Context, serviceID string) (*ServiceInfo, error)
}
