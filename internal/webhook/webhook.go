// Package webhook ingests provider events and applies them to payments
// and bookings exactly once. Events are journaled by provider event ID;
// a replayed event that was already processed is acknowledged without
// reapplying, while a previously failed event is retried.
package webhook

import (
	"context"
	"errors"
	"time"
)

var ErrEventNotFound = errors.New("webhook event not found")

// Event types this service reacts to.
const (
	TypePaymentSucceeded = "payment_intent.succeeded"
	TypePaymentFailed    = "payment_intent.payment_failed"
	TypeChargeRefunded   = "charge.refunded"
)

// Event is the journal entry for a received provider event.
type Event struct {
	EventID     string     `json:"eventId"` // provider-assigned, the dedup key
	Type        string     `json:"type"`
	IntentID    string     `json:"intentId,omitempty"`
	BookingID   string     `json:"bookingId,omitempty"`
	Processed   bool       `json:"processed"`
	Error       string     `json:"error,omitempty"`
	ReceivedAt  time.Time  `json:"receivedAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
}

// Store journals webhook events.
type Store interface {
	// Insert journals a new event. Returns false if the event ID was
	// already recorded.
	Insert(ctx context.Context, e *Event) (bool, error)
	Get(ctx context.Context, eventID string) (*Event, error)
	MarkProcessed(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID, errMsg string) error
}
