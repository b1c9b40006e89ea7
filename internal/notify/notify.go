// Package notify defines the outbound notification contract.
//
// Delivery (email, push, preference filtering) is owned by an external
// dispatcher. This core only emits notifications; failures are logged and
// never propagated to the caller.
package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Types emitted by the booking and payment lifecycle.
const (
	TypeBookingRequested = "booking_requested"
	TypeBookingAccepted  = "booking_accepted"
	TypeBookingDeclined  = "booking_declined"
	TypeBookingCancelled = "booking_cancelled"
	TypeBookingExpired   = "booking_expired"
	TypeBookingCompleted = "booking_completed"
	TypePaymentReceived  = "payment_received"
	TypePaymentFailed    = "payment_failed"
	TypeRefundIssued     = "refund_issued"
	TypePayoutSent       = "payout_sent"
	TypePayoutFailed     = "payout_failed"
	TypeDisputeOpened    = "dispute_opened"
	TypeDisputeResolved  = "dispute_resolved"
)

// Notification is a single outbound message.
type Notification struct {
	UserID  string
	Type    string
	Title   string
	Message string
	Data    map[string]any
}

// Notifier delivers notifications best-effort.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier logs notifications instead of delivering them.
// Used until a real dispatcher is wired in deployment.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) Notify(ctx context.Context, n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		"user_id", n.UserID,
		"type", n.Type,
		"title", n.Title,
	)
}

// Recorder captures notifications for test assertions.
type Recorder struct {
	mu   sync.Mutex
	Sent []Notification
}

func (r *Recorder) Notify(ctx context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sent = append(r.Sent, n)
}

// ByType returns recorded notifications of the given type.
func (r *Recorder) ByType(typ string) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.Sent {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

// Count returns the number of recorded notifications.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Sent)
}
