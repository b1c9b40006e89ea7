// Package payment owns the payment-intent lifecycle and the escrow state
// machine.
//
// Escrow is a 3-state machine: held → released or held → refunded, both
// terminal. Every release/refund is a conditional update gated on
// escrow_status='held'; a concurrent second caller sees zero rows affected
// and must treat the operation as already done, not as an error.
package payment

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrInvalidStatus   = errors.New("invalid payment status for this operation")
	ErrAlreadySettled  = errors.New("escrow already released or refunded")
	ErrInvalidAmount   = errors.New("invalid refund amount")
)

// Status represents the provider-side payment state.
type Status string

const (
	StatusInitiated Status = "initiated" // Intent created, awaiting provider confirmation
	StatusSucceeded Status = "succeeded" // Provider confirmed the charge
	StatusFailed    Status = "failed"    // Provider rejected the charge
	StatusRefunded  Status = "refunded"  // Fully refunded
)

// EscrowStatus represents where the held funds stand.
type EscrowStatus string

const (
	EscrowHeld     EscrowStatus = "held"
	EscrowReleased EscrowStatus = "released" // terminal
	EscrowRefunded EscrowStatus = "refunded" // terminal
)

// Refund bookkeeping states.
const (
	RefundNone    = ""
	RefundPartial = "partial"
	RefundFull    = "full"
)

// Payment is the escrow record for a booking. Amounts are integer pence.
type Payment struct {
	ID                  string       `json:"id"`
	BookingID           string       `json:"bookingId"`
	ClientID            string       `json:"clientId"`
	FreelancerID        string       `json:"freelancerId"`
	IntentID            string       `json:"intentId"`
	ClientSecret        string       `json:"-"`
	Status              Status       `json:"status"`
	EscrowStatus        EscrowStatus `json:"escrowStatus"`
	AmountPence         int64        `json:"amountPence"`
	PlatformFeePence    int64        `json:"platformFeePence"`
	RefundID            string       `json:"refundId,omitempty"`
	RefundedAmountPence int64        `json:"refundedAmountPence"`
	RefundStatus        string       `json:"refundStatus,omitempty"`
	FailureReason       string       `json:"failureReason,omitempty"`
	CreatedAt           time.Time    `json:"createdAt"`
	UpdatedAt           time.Time    `json:"updatedAt"`
}

// RemainingPence is the refundable amount still held.
func (p *Payment) RemainingPence() int64 {
	return p.AmountPence - p.RefundedAmountPence
}

// ReleasablePence is what escrow release hands to the payout engine:
// amount minus refunds already issued minus the platform fee.
func (p *Payment) ReleasablePence() int64 {
	v := p.AmountPence - p.RefundedAmountPence - p.PlatformFeePence
	if v < 0 {
		return 0
	}
	return v
}

// Settled reports whether escrow reached a terminal state.
func (p *Payment) Settled() bool {
	return p.EscrowStatus == EscrowReleased || p.EscrowStatus == EscrowRefunded
}

// Store persists payments. Mutating methods that return a bool use
// conditional updates: false means the guard did not match (someone else
// already performed the transition).
type Store interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	GetByIntent(ctx context.Context, intentID string) (*Payment, error)
	// GetActiveByBooking returns the booking's payment with
	// status ∈ {initiated, succeeded}. At most one exists.
	GetActiveByBooking(ctx context.Context, bookingID string) (*Payment, error)

	MarkSucceeded(ctx context.Context, intentID string) (bool, error)
	MarkFailed(ctx context.Context, intentID, reason string) (bool, error)
	// ReleaseEscrow flips held → released.
	ReleaseEscrow(ctx context.Context, id string) (bool, error)
	// ApplyRefund records a provider refund. full flips held → refunded;
	// partial leaves escrow held and accumulates the refunded amount.
	ApplyRefund(ctx context.Context, id, refundID string, amountPence int64, full bool) (bool, error)

	// ListStaleInitiated returns payments still initiated since before the
	// given time, for the reconciliation sweep.
	ListStaleInitiated(ctx context.Context, before time.Time, limit int) ([]*Payment, error)
}
