package webhook

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/taskvine/taskvine/internal/booking"
	"github.com/taskvine/taskvine/internal/notify"
	"github.com/taskvine/taskvine/internal/payment"
)

type mockPayments struct {
	succeeded []string
	failed    []string
	amount    int64
	refunded  int64
	err       error
}

func (m *mockPayments) pay(intentID string) *payment.Payment {
	pm := &payment.Payment{
		ID: "pay_1", BookingID: "bk_1", ClientID: "client_1", FreelancerID: "freelancer_1",
		IntentID: intentID, Status: payment.StatusSucceeded,
		AmountPence: m.amount, RefundedAmountPence: m.refunded,
	}
	if m.amount > 0 && m.refunded >= m.amount {
		pm.Status = payment.StatusRefunded
	}
	return pm
}

func (m *mockPayments) MarkSucceeded(ctx context.Context, intentID string) (*payment.Payment, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.succeeded = append(m.succeeded, intentID)
	return m.pay(intentID), nil
}

func (m *mockPayments) MarkFailed(ctx context.Context, intentID, reason string) (*payment.Payment, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.failed = append(m.failed, intentID)
	return m.pay(intentID), nil
}

func (m *mockPayments) ApplyExternalRefund(ctx context.Context, intentID, refundID string, amountRefunded int64) (*payment.Payment, int64, error) {
	if m.err != nil {
		return nil, 0, m.err
	}
	delta := amountRefunded - m.refunded
	if delta < 0 {
		delta = 0
	}
	m.refunded += delta
	return m.pay(intentID), delta, nil
}

type mockBookings struct {
	paid     []string
	failed   []string
	refunded []string
	partial  []bool
}

func (m *mockBookings) MarkPaid(ctx context.Context, id string) (*booking.Booking, error) {
	m.paid = append(m.paid, id)
	return &booking.Booking{ID: id}, nil
}

func (m *mockBookings) MarkPaymentFailed(ctx context.Context, id string) (*booking.Booking, error) {
	m.failed = append(m.failed, id)
	return &booking.Booking{ID: id}, nil
}

func (m *mockBookings) MarkRefunded(ctx context.Context, id string, partial bool) (*booking.Booking, error) {
	m.refunded = append(m.refunded, id)
	m.partial = append(m.partial, partial)
	return &booking.Booking{ID: id}, nil
}

func newProcessor(t *testing.T) (*Processor, *MemoryStore, *mockPayments, *mockBookings, *notify.Recorder) {
	t.Helper()
	store := NewMemoryStore()
	payments := &mockPayments{amount: 10000}
	bookings := &mockBookings{}
	rec := &notify.Recorder{}
	logger := slog.New(slog.DiscardHandler)
	return NewProcessor(store, payments, bookings, rec, logger), store, payments, bookings, rec
}

func TestProcessPaymentSucceeded(t *testing.T) {
	p, store, payments, bookings, rec := newProcessor(t)

	err := p.Process(context.Background(), Incoming{
		EventID: "evt_1", Type: TypePaymentSucceeded, IntentID: "pi_1", BookingID: "bk_1",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(payments.succeeded) != 1 || payments.succeeded[0] != "pi_1" {
		t.Fatalf("succeeded = %v", payments.succeeded)
	}
	if len(bookings.paid) != 1 || bookings.paid[0] != "bk_1" {
		t.Fatalf("paid = %v", bookings.paid)
	}
	if got := rec.ByType(notify.TypePaymentReceived); len(got) != 2 {
		t.Fatalf("expected both parties notified, got %d", len(got))
	}

	e, err := store.Get(context.Background(), "evt_1")
	if err != nil || !e.Processed {
		t.Fatalf("event not marked processed: %+v err=%v", e, err)
	}
}

func TestProcessReplayIsNoOp(t *testing.T) {
	p, _, payments, bookings, _ := newProcessor(t)
	in := Incoming{EventID: "evt_1", Type: TypePaymentSucceeded, IntentID: "pi_1"}

	for i := 0; i < 3; i++ {
		if err := p.Process(context.Background(), in); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	if len(payments.succeeded) != 1 {
		t.Fatalf("payment applied %d times", len(payments.succeeded))
	}
	if len(bookings.paid) != 1 {
		t.Fatalf("booking marked paid %d times", len(bookings.paid))
	}
}

func TestProcessFailedEventIsRetried(t *testing.T) {
	p, store, payments, _, _ := newProcessor(t)
	in := Incoming{EventID: "evt_1", Type: TypePaymentSucceeded, IntentID: "pi_1"}

	// First delivery races the checkout transaction and loses.
	payments.err = payment.ErrPaymentNotFound
	if err := p.Process(context.Background(), in); err == nil {
		t.Fatal("expected error on first delivery")
	}
	e, _ := store.Get(context.Background(), "evt_1")
	if e.Processed || e.Error == "" {
		t.Fatalf("event = %+v", e)
	}

	// Redelivery succeeds and clears the recorded failure.
	payments.err = nil
	if err := p.Process(context.Background(), in); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	e, _ = store.Get(context.Background(), "evt_1")
	if !e.Processed || e.Error != "" {
		t.Fatalf("event = %+v", e)
	}
	if len(payments.succeeded) != 1 {
		t.Fatalf("succeeded = %v", payments.succeeded)
	}
}

func TestProcessPaymentFailed(t *testing.T) {
	p, _, payments, bookings, rec := newProcessor(t)

	err := p.Process(context.Background(), Incoming{
		EventID: "evt_2", Type: TypePaymentFailed, IntentID: "pi_1", FailureReason: "card_declined",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(payments.failed) != 1 {
		t.Fatalf("failed = %v", payments.failed)
	}
	if len(bookings.failed) != 1 || bookings.failed[0] != "bk_1" {
		t.Fatalf("booking failed = %v", bookings.failed)
	}
	got := rec.ByType(notify.TypePaymentFailed)
	if len(got) != 1 || got[0].UserID != "client_1" {
		t.Fatalf("expected one failure notification to the client, got %v", got)
	}
}

func TestProcessUnknownTypeAcknowledged(t *testing.T) {
	p, store, payments, bookings, _ := newProcessor(t)

	err := p.Process(context.Background(), Incoming{EventID: "evt_3", Type: "customer.created"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(payments.succeeded)+len(payments.failed)+len(bookings.paid)+len(bookings.failed) != 0 {
		t.Fatal("unknown event touched state")
	}
	e, _ := store.Get(context.Background(), "evt_3")
	if !e.Processed {
		t.Fatal("unknown event not acknowledged")
	}
}

func TestProcessChargeRefundedWithoutAmountAcknowledged(t *testing.T) {
	p, store, payments, bookings, _ := newProcessor(t)

	err := p.Process(context.Background(), Incoming{
		EventID: "evt_4", Type: TypeChargeRefunded, IntentID: "pi_1",
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if payments.refunded != 0 || len(bookings.refunded) != 0 {
		t.Fatal("amountless refund event touched state")
	}
	e, _ := store.Get(context.Background(), "evt_4")
	if !e.Processed {
		t.Fatal("refund event not acknowledged")
	}
}

func TestProcessChargeRefundedAppliesExternalRefund(t *testing.T) {
	p, _, payments, bookings, rec := newProcessor(t)

	// Partial refund issued from the provider dashboard.
	err := p.Process(context.Background(), Incoming{
		EventID: "evt_5", Type: TypeChargeRefunded, IntentID: "pi_1",
		RefundID: "re_ext_1", AmountRefunded: 4000,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if payments.refunded != 4000 {
		t.Fatalf("refunded = %d", payments.refunded)
	}
	if len(bookings.refunded) != 1 || bookings.refunded[0] != "bk_1" || !bookings.partial[0] {
		t.Fatalf("booking refund marks = %v partial = %v", bookings.refunded, bookings.partial)
	}
	got := rec.ByType(notify.TypeRefundIssued)
	if len(got) != 1 || got[0].UserID != "client_1" {
		t.Fatalf("expected one refund notification to the client, got %v", got)
	}

	// Topped up to the full amount by a second provider refund.
	err = p.Process(context.Background(), Incoming{
		EventID: "evt_6", Type: TypeChargeRefunded, IntentID: "pi_1",
		RefundID: "re_ext_2", AmountRefunded: 10000,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if payments.refunded != 10000 {
		t.Fatalf("refunded = %d", payments.refunded)
	}
	if len(bookings.refunded) != 2 || bookings.partial[1] {
		t.Fatalf("booking refund marks = %v partial = %v", bookings.refunded, bookings.partial)
	}
}

func TestProcessChargeRefundedAlreadyRecordedIsNoOp(t *testing.T) {
	p, _, payments, bookings, rec := newProcessor(t)
	payments.refunded = 4000 // we issued this refund ourselves

	err := p.Process(context.Background(), Incoming{
		EventID: "evt_7", Type: TypeChargeRefunded, IntentID: "pi_1",
		RefundID: "re_ours", AmountRefunded: 4000,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(bookings.refunded) != 0 {
		t.Fatal("confirmation of our own refund touched booking state")
	}
	if rec.Count() != 0 {
		t.Fatal("confirmation of our own refund notified")
	}
}

func TestProcessDistinctEventsBothApplied(t *testing.T) {
	p, _, payments, _, _ := newProcessor(t)

	for _, id := range []string{"evt_a", "evt_b"} {
		if err := p.Process(context.Background(), Incoming{
			EventID: id, Type: TypePaymentSucceeded, IntentID: "pi_" + id,
		}); err != nil {
			t.Fatalf("Process %s: %v", id, err)
		}
	}
	if len(payments.succeeded) != 2 {
		t.Fatalf("succeeded = %v", payments.succeeded)
	}
}

func TestProcessApplyErrorSurfaces(t *testing.T) {
	p, _, payments, _, _ := newProcessor(t)
	payments.err = errors.New("db down")

	err := p.Process(context.Background(), Incoming{
		EventID: "evt_5", Type: TypePaymentSucceeded, IntentID: "pi_1",
	})
	if err == nil {
		t.Fatal("expected error so the provider redelivers")
	}
}
