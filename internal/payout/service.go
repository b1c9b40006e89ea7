package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/taskvine/taskvine/internal/audit"
	"github.com/taskvine/taskvine/internal/idgen"
	"github.com/taskvine/taskvine/internal/metrics"
	"github.com/taskvine/taskvine/internal/notify"
	"github.com/taskvine/taskvine/internal/payment"
	"github.com/taskvine/taskvine/internal/settings"
)

// TransferProvider is the slice of the payment provider payouts use.
type TransferProvider interface {
	Transfer(ctx context.Context, accountID string, amountPence int64, currency, idempotencyKey string) (*payment.TransferResult, error)
}

// Engine creates and processes payouts.
type Engine struct {
	store    Store
	accounts AccountStore
	provider TransferProvider
	settings *settings.Provider
	auditLog audit.Logger
	notifier notify.Notifier
	logger   *slog.Logger
	currency string
	now      func() time.Time
}

// NewEngine creates a payout engine.
func NewEngine(store Store, accounts AccountStore, provider TransferProvider,
	set *settings.Provider, auditLog audit.Logger, notifier notify.Notifier,
	logger *slog.Logger, currency string) *Engine {
	return &Engine{
		store:    store,
		accounts: accounts,
		provider: provider,
		settings: set,
		auditLog: auditLog,
		notifier: notifier,
		logger:   logger,
		currency: currency,
		now:      time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Store returns the underlying payout store.
func (e *Engine) Store() Store { return e.store }

// Accounts returns the underlying account store.
func (e *Engine) Accounts() AccountStore { return e.accounts }

// CreateForRelease records the payout owed for a released escrow.
// serviceAmountPence is the amount remaining for the freelancer after
// refunds and the platform fee; commission and the fixed booking fee
// are deducted from it here.
func (e *Engine) CreateForRelease(ctx context.Context, bookingID, freelancerID string, serviceAmountPence int64) error {
	now := e.now()
	set := e.settings.Snapshot(ctx)

	commission := int64(math.Round(float64(serviceAmountPence) * set.CommissionPercent / 100))
	net := serviceAmountPence - commission - set.FixedBookingFeePence
	if net < 0 {
		net = 0
	}

	schedule := SchedulePerTransaction
	if acct, err := e.accounts.Get(ctx, freelancerID); err == nil {
		schedule = acct.Schedule
	} else if !errors.Is(err, ErrAccountNotFound) {
		return err
	}

	status := StatusScheduled
	scheduledFor := now
	switch schedule {
	case ScheduleWeekly:
		status = StatusPending
		scheduledFor = nextFriday(now)
	case ScheduleBiWeekly:
		status = StatusPending
		scheduledFor = nextFriday(now).AddDate(0, 0, 7)
	}

	p := &Payout{
		ID:                 idgen.WithPrefix(idgen.PayoutPrefix),
		BookingID:          bookingID,
		FreelancerID:       freelancerID,
		ServiceAmountPence: serviceAmountPence,
		CommissionPence:    commission,
		FixedFeePence:      set.FixedBookingFeePence,
		NetAmountPence:     net,
		Status:             status,
		ScheduledFor:       scheduledFor,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := e.store.Create(ctx, p); err != nil {
		if errors.Is(err, ErrDuplicatePayout) {
			// Escrow releases exactly once, so a duplicate here means a
			// replayed confirm; the first payout stands.
			e.logger.Info("payout already exists", "booking_id", bookingID)
			return nil
		}
		return fmt.Errorf("failed to create payout: %w", err)
	}

	metrics.PayoutsTotal.WithLabelValues(string(status)).Inc()
	audit.Record(ctx, e.auditLog, "payout_created", bookingID, p.ID, net,
		"", string(status), fmt.Sprintf("commission=%d fixed_fee=%d", commission, set.FixedBookingFeePence))
	return nil
}

// ProcessDue sends transfers for every payout whose time has come.
// Returns the number paid.
func (e *Engine) ProcessDue(ctx context.Context) (int, error) {
	due, err := e.store.ListDue(ctx, e.now(), 100)
	if err != nil {
		return 0, err
	}

	paid := 0
	for _, p := range due {
		if err := e.processOne(ctx, p); err != nil {
			e.logger.Warn("payout processing failed", "payout_id", p.ID, "error", err)
			continue
		}
		paid++
	}
	return paid, nil
}

func (e *Engine) processOne(ctx context.Context, p *Payout) error {
	acct, err := e.accounts.Get(ctx, p.FreelancerID)
	if err != nil {
		return fmt.Errorf("no payout account for %s: %w", p.FreelancerID, err)
	}
	if !acct.Ready() {
		// Leave the payout due; it is picked up once the account is ready.
		return fmt.Errorf("%w: %s", ErrAccountNotReady, p.FreelancerID)
	}

	ok, err := e.store.MarkProcessing(ctx, p.ID)
	if err != nil {
		return err
	}
	if !ok {
		// A concurrent run claimed it.
		return nil
	}
	audit.Record(ctx, e.auditLog, "payout_processing", p.BookingID, p.ID, p.NetAmountPence,
		string(p.Status), string(StatusProcessing), "")

	// The idempotency key pins the transfer to this payout, so a retry
	// after a lost response cannot pay twice.
	idemKey := fmt.Sprintf("payout:%s", p.ID)
	res, err := e.provider.Transfer(ctx, acct.ProviderAccountID, p.NetAmountPence, e.currency, idemKey)
	if err != nil {
		if _, mErr := e.store.MarkFailed(ctx, p.ID, err.Error()); mErr != nil {
			e.logger.Error("failed to record payout failure", "payout_id", p.ID, "error", mErr)
		}
		metrics.PayoutsTotal.WithLabelValues(string(StatusFailed)).Inc()
		audit.Record(ctx, e.auditLog, "payout_failed", p.BookingID, p.ID, p.NetAmountPence,
			string(StatusProcessing), string(StatusFailed), err.Error())
		e.notifier.Notify(ctx, notify.Notification{
			UserID: p.FreelancerID, Type: notify.TypePayoutFailed,
			Title:   "Payout failed",
			Message: "We could not send your payout. Our team is looking into it.",
			Data:    map[string]any{"payoutId": p.ID},
		})
		return fmt.Errorf("transfer failed: %w", err)
	}

	if _, err := e.store.MarkPaid(ctx, p.ID, res.ID); err != nil {
		// The money moved; this must be visible in the logs.
		e.logger.Error("CRITICAL: transfer sent but payout not marked paid",
			"payout_id", p.ID, "transfer_id", res.ID, "error", err)
		return err
	}

	metrics.PayoutsTotal.WithLabelValues(string(StatusPaid)).Inc()
	audit.Record(ctx, e.auditLog, "payout_paid", p.BookingID, p.ID, p.NetAmountPence,
		string(StatusProcessing), string(StatusPaid), "transfer="+res.ID)
	e.notifier.Notify(ctx, notify.Notification{
		UserID: p.FreelancerID, Type: notify.TypePayoutSent,
		Title:   "Payout sent",
		Message: "Your payout is on its way.",
		Data:    map[string]any{"payoutId": p.ID, "amountPence": p.NetAmountPence},
	})
	return nil
}

// RetryFailed reschedules a failed payout for the next processor run.
// Admin surface.
func (e *Engine) RetryFailed(ctx context.Context, payoutID string) (*Payout, error) {
	p, err := e.store.Get(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	ok, err := e.store.Reschedule(ctx, payoutID, e.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("payout %s is not failed", payoutID)
	}
	audit.Record(ctx, e.auditLog, "payout_retried", p.BookingID, p.ID, p.NetAmountPence,
		string(StatusFailed), string(StatusScheduled), "")
	return e.store.Get(ctx, payoutID)
}

// ListByFreelancer returns a freelancer's payouts, newest first.
func (e *Engine) ListByFreelancer(ctx context.Context, freelancerID string, limit int) ([]*Payout, error) {
	if limit <= 0 {
		limit = 50
	}
	return e.store.ListByFreelancer(ctx, freelancerID, limit)
}

// nextFriday returns the first Friday strictly after t, at the same
// clock time. Batch runs land on Fridays.
func nextFriday(t time.Time) time.Time {
	days := (int(time.Friday) - int(t.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return t.AddDate(0, 0, days)
}
