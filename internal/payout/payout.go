// Package payout pays freelancers their share of released escrow.
//
// A payout is created when escrow is released and carries the net amount
// after the platform commission and the fixed booking fee. Per-transaction
// accounts are paid on the next processor run; weekly and bi-weekly
// accounts batch up for their Friday run. One payout per booking, enforced
// by the store.
package payout

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPayoutNotFound  = errors.New("payout not found")
	ErrDuplicatePayout = errors.New("payout already exists for booking")
	ErrAccountNotReady = errors.New("payout account is not enabled and verified")
	ErrAccountNotFound = errors.New("payout account not found")
)

// Status is the payout lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"    // waiting for its batch day
	StatusScheduled  Status = "scheduled"  // due on the next processor run
	StatusProcessing Status = "processing" // transfer in flight
	StatusPaid       Status = "paid"
	StatusFailed     Status = "failed"
)

// Schedule is how often a freelancer is paid.
type Schedule string

const (
	SchedulePerTransaction Schedule = "per_transaction"
	ScheduleWeekly         Schedule = "weekly"
	ScheduleBiWeekly       Schedule = "bi_weekly"
)

// Payout is one transfer owed to a freelancer for one booking.
// All amounts are integer pence.
type Payout struct {
	ID           string `json:"id"`
	BookingID    string `json:"bookingId"`
	FreelancerID string `json:"freelancerId"`

	ServiceAmountPence int64 `json:"serviceAmountPence"`
	CommissionPence    int64 `json:"commissionPence"`
	FixedFeePence      int64 `json:"fixedFeePence"`
	NetAmountPence     int64 `json:"netAmountPence"`

	Status        Status    `json:"status"`
	ScheduledFor  time.Time `json:"scheduledFor"`
	TransferID    string    `json:"transferId,omitempty"`
	FailureReason string    `json:"failureReason,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	PaidAt    *time.Time `json:"paidAt,omitempty"`
}

// Account is a freelancer's payout destination and cadence.
type Account struct {
	FreelancerID      string    `json:"freelancerId"`
	ProviderAccountID string    `json:"providerAccountId"`
	Schedule          Schedule  `json:"schedule"`
	Enabled           bool      `json:"enabled"`
	Verified          bool      `json:"verified"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Ready reports whether transfers may be sent to the account.
func (a *Account) Ready() bool {
	return a.Enabled && a.Verified
}

// Store persists payouts. Mutating methods returning a bool are
// conditional updates; false means another caller got there first.
type Store interface {
	// Create inserts the payout. A second payout for the same booking
	// fails with ErrDuplicatePayout.
	Create(ctx context.Context, p *Payout) error
	Get(ctx context.Context, id string) (*Payout, error)
	GetByBooking(ctx context.Context, bookingID string) (*Payout, error)
	ListByFreelancer(ctx context.Context, freelancerID string, limit int) ([]*Payout, error)

	// ListDue returns pending or scheduled payouts whose scheduled_for
	// has passed.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Payout, error)

	// MarkProcessing: pending|scheduled → processing.
	MarkProcessing(ctx context.Context, id string) (bool, error)
	// MarkPaid: processing → paid with the provider transfer ID.
	MarkPaid(ctx context.Context, id, transferID string) (bool, error)
	// MarkFailed: processing → failed.
	MarkFailed(ctx context.Context, id, reason string) (bool, error)
	// Reschedule: failed → scheduled for a retry.
	Reschedule(ctx context.Context, id string, at time.Time) (bool, error)
}

// AccountStore persists payout accounts.
type AccountStore interface {
	Get(ctx context.Context, freelancerID string) (*Account, error)
	Upsert(ctx context.Context, a *Account) error
}
