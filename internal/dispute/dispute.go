// Package dispute handles disagreements over a booking while its money
// is still in escrow. An open dispute freezes auto-confirmation; an
// admin resolution decides how the held amount is split.
package dispute

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisputeNotFound   = errors.New("dispute not found")
	ErrDisputeExists     = errors.New("booking already has an open dispute")
	ErrAlreadyResolved   = errors.New("dispute already resolved")
	ErrNotDisputable     = errors.New("booking cannot be disputed")
	ErrInvalidResolution = errors.New("invalid resolution")
)

// Status is the dispute lifecycle state.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// Resolution is the admin's decision on a dispute.
type Resolution string

const (
	ResolutionFullRefund    Resolution = "full_refund"
	ResolutionPartialRefund Resolution = "partial_refund"
	ResolutionRelease       Resolution = "release_to_freelancer"
	ResolutionNoAction      Resolution = "no_action"
)

// Dispute is one disagreement over one booking.
type Dispute struct {
	ID        string `json:"id"`
	BookingID string `json:"bookingId"`
	OpenedBy  string `json:"openedBy"` // user ID
	Reason    string `json:"reason"`

	Status     Status     `json:"status"`
	Resolution Resolution `json:"resolution,omitempty"`
	// RefundPence is the amount refunded to the client by the resolution.
	RefundPence int64  `json:"refundPence,omitempty"`
	Notes       string `json:"notes,omitempty"`
	ResolvedBy  string `json:"resolvedBy,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// Store persists disputes. At most one open dispute per booking.
type Store interface {
	// Create inserts an open dispute, failing with ErrDisputeExists if
	// the booking already has one open.
	Create(ctx context.Context, d *Dispute) error
	Get(ctx context.Context, id string) (*Dispute, error)
	GetOpenByBooking(ctx context.Context, bookingID string) (*Dispute, error)
	ListOpen(ctx context.Context, limit int) ([]*Dispute, error)

	// Resolve: open → resolved with the decision recorded.
	Resolve(ctx context.Context, id string, res Resolution, refundPence int64, notes, resolvedBy string, at time.Time) (bool, error)
}
