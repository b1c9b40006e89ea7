package dispute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/taskvine/taskvine/internal/audit"
	"github.com/taskvine/taskvine/internal/booking"
	"github.com/taskvine/taskvine/internal/notify"
	"github.com/taskvine/taskvine/internal/payment"
)

// stubProvider answers every provider call successfully. The dispute
// tests drive a real payment engine so the escrow arithmetic is the
// production arithmetic.
type stubProvider struct {
	refunds int
}

func (s *stubProvider) CreateIntent(ctx context.Context, amountPence int64, currency string, metadata map[string]string) (*payment.Intent, error) {
	return &payment.Intent{ID: "pi_test", ClientSecret: "secret"}, nil
}

func (s *stubProvider) CancelIntent(ctx context.Context, intentID string) error { return nil }

func (s *stubProvider) Refund(ctx context.Context, intentID string, amountPence int64, reason, idempotencyKey string) (*payment.RefundResult, error) {
	s.refunds++
	return &payment.RefundResult{ID: fmt.Sprintf("re_%d", s.refunds), AmountPence: amountPence}, nil
}

func (s *stubProvider) Transfer(ctx context.Context, accountID string, amountPence int64, currency, idempotencyKey string) (*payment.TransferResult, error) {
	return &payment.TransferResult{ID: "tr_test"}, nil
}

func (s *stubProvider) IntentStatus(ctx context.Context, intentID string) (string, error) {
	return "succeeded", nil
}

type mockPayouts struct {
	created []payoutCall
}

type payoutCall struct {
	bookingID    string
	freelancerID string
	amount       int64
}

func (m *mockPayouts) CreateForRelease(ctx context.Context, bookingID, freelancerID string, serviceAmountPence int64) error {
	m.created = append(m.created, payoutCall{bookingID, freelancerID, serviceAmountPence})
	return nil
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	bookings *booking.MemoryStore
	engine   *payment.Engine
	payouts  *mockPayouts
	notifier *notify.Recorder
}

// newFixture seeds a confirmed, paid booking with a 10000p payment held
// in escrow, of which 1000p is the platform fee.
func newFixture(t *testing.T) (*fixture, *booking.Booking) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	f := &fixture{
		store:    NewMemoryStore(),
		bookings: booking.NewMemoryStore(),
		payouts:  &mockPayouts{},
		notifier: &notify.Recorder{},
	}
	f.engine = payment.NewEngine(payment.NewMemoryStore(), &stubProvider{}, audit.NewMemoryLogger(), logger, "gbp")
	f.svc = NewService(f.store, f.bookings, f.engine, f.payouts, audit.NewMemoryLogger(), f.notifier, logger)

	b := &booking.Booking{
		ID:           "bk_1",
		ClientID:     "client_1",
		FreelancerID: "freelancer_1",
		ServiceID:    "svc_1",
		Status:       booking.StatusConfirmed,
		PaymentStatus: booking.PaymentPaid,
		ScheduledStart: time.Now().Add(-3 * time.Hour),
		ScheduledEnd:   time.Now().Add(-time.Hour),
		CreatedAt:      time.Now(),
	}
	if err := f.bookings.Create(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	pm, err := f.engine.CreateForBooking(context.Background(), payment.CreateRequest{
		BookingID: b.ID, ClientID: b.ClientID, FreelancerID: b.FreelancerID,
		AmountPence: 10000, PlatformFeePence: 1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.MarkSucceeded(context.Background(), pm.IntentID); err != nil {
		t.Fatal(err)
	}
	return f, b
}

func (f *fixture) open(t *testing.T, b *booking.Booking) *Dispute {
	t.Helper()
	d, err := f.svc.Open(context.Background(), b.ID, "service not delivered",
		booking.Actor{ID: b.ClientID, Role: booking.RoleClient})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return d
}

func TestOpenDispute(t *testing.T) {
	f, b := newFixture(t)
	d := f.open(t, b)

	if d.Status != StatusOpen || d.OpenedBy != "client_1" {
		t.Fatalf("dispute = %+v", d)
	}
	open, err := f.svc.HasOpenDispute(context.Background(), b.ID)
	if err != nil || !open {
		t.Fatalf("open=%v err=%v", open, err)
	}
	if got := f.notifier.ByType(notify.TypeDisputeOpened); len(got) != 2 {
		t.Fatalf("notifications = %+v", got)
	}
}

func TestOpenDisputeAuthorization(t *testing.T) {
	f, b := newFixture(t)

	_, err := f.svc.Open(context.Background(), b.ID, "x", booking.Actor{ID: "stranger", Role: booking.RoleClient})
	if !errors.Is(err, booking.ErrUnauthorized) {
		t.Fatalf("stranger: %v", err)
	}
}

func TestOpenDisputeRequiresHeldFunds(t *testing.T) {
	f, b := newFixture(t)
	if _, _, err := f.engine.Release(context.Background(), b.ID); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Open(context.Background(), b.ID, "x", booking.Actor{ID: b.ClientID, Role: booking.RoleClient})
	if !errors.Is(err, ErrNotDisputable) {
		t.Fatalf("released escrow: %v", err)
	}
}

func TestOpenDisputeOnePerBooking(t *testing.T) {
	f, b := newFixture(t)
	f.open(t, b)

	_, err := f.svc.Open(context.Background(), b.ID, "again", booking.Actor{ID: b.FreelancerID, Role: booking.RoleFreelancer})
	if !errors.Is(err, ErrDisputeExists) {
		t.Fatalf("second dispute: %v", err)
	}
}

func TestResolveFullRefund(t *testing.T) {
	f, b := newFixture(t)
	d := f.open(t, b)

	got, err := f.svc.Resolve(context.Background(), d.ID, ResolveRequest{Resolution: ResolutionFullRefund}, "admin_1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Status != StatusResolved || got.RefundPence != 10000 {
		t.Fatalf("dispute = %+v", got)
	}

	pm, _ := f.engine.GetByBooking(context.Background(), b.ID)
	if pm != nil {
		t.Fatalf("payment still active: %+v", pm)
	}
	bk, _ := f.bookings.Get(context.Background(), b.ID)
	if bk.Status != booking.StatusCancelled || bk.PaymentStatus != booking.PaymentRefunded {
		t.Fatalf("booking = %s/%s", bk.Status, bk.PaymentStatus)
	}
	if len(f.payouts.created) != 0 {
		t.Fatalf("payout created on full refund: %+v", f.payouts.created)
	}
}

func TestResolvePartialRefundSplitsEscrow(t *testing.T) {
	f, b := newFixture(t)
	d := f.open(t, b)

	got, err := f.svc.Resolve(context.Background(), d.ID, ResolveRequest{
		Resolution: ResolutionPartialRefund, RefundPence: 3000,
	}, "admin_1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.RefundPence != 3000 {
		t.Fatalf("refund = %d", got.RefundPence)
	}

	// 10000 held, 3000 back to the client, 1000 platform fee: the
	// freelancer's payout basis is 6000.
	if len(f.payouts.created) != 1 || f.payouts.created[0].amount != 6000 {
		t.Fatalf("payouts = %+v", f.payouts.created)
	}
	bk, _ := f.bookings.Get(context.Background(), b.ID)
	if bk.Status != booking.StatusCompleted || bk.PaymentStatus != booking.PaymentPartiallyRefunded {
		t.Fatalf("booking = %s/%s", bk.Status, bk.PaymentStatus)
	}
}

func TestResolvePartialRefundOfEverythingHeld(t *testing.T) {
	f, b := newFixture(t)
	d := f.open(t, b)

	// A partial refund of the whole held amount leaves nothing to release;
	// it must land exactly like a full refund, not wedge on the release.
	got, err := f.svc.Resolve(context.Background(), d.ID, ResolveRequest{
		Resolution: ResolutionPartialRefund, RefundPence: 10000,
	}, "admin_1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Status != StatusResolved || got.RefundPence != 10000 {
		t.Fatalf("dispute = %+v", got)
	}

	bk, _ := f.bookings.Get(context.Background(), b.ID)
	if bk.Status != booking.StatusCancelled || bk.PaymentStatus != booking.PaymentRefunded {
		t.Fatalf("booking = %s/%s", bk.Status, bk.PaymentStatus)
	}
	if len(f.payouts.created) != 0 {
		t.Fatalf("payout created with nothing held: %+v", f.payouts.created)
	}
	open, _ := f.svc.HasOpenDispute(context.Background(), b.ID)
	if open {
		t.Fatal("dispute still open")
	}
}

func TestResolvePartialRefundClampsToHeldAmount(t *testing.T) {
	f, b := newFixture(t)
	d := f.open(t, b)

	got, err := f.svc.Resolve(context.Background(), d.ID, ResolveRequest{
		Resolution: ResolutionPartialRefund, RefundPence: 15000,
	}, "admin_1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.RefundPence != 10000 {
		t.Fatalf("refund = %d, want clamped to 10000", got.RefundPence)
	}
	bk, _ := f.bookings.Get(context.Background(), b.ID)
	if bk.Status != booking.StatusCancelled || bk.PaymentStatus != booking.PaymentRefunded {
		t.Fatalf("booking = %s/%s", bk.Status, bk.PaymentStatus)
	}
}

func TestResolveReleaseToFreelancer(t *testing.T) {
	f, b := newFixture(t)
	d := f.open(t, b)

	if _, err := f.svc.Resolve(context.Background(), d.ID, ResolveRequest{Resolution: ResolutionRelease}, "admin_1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if len(f.payouts.created) != 1 || f.payouts.created[0].amount != 9000 {
		t.Fatalf("payouts = %+v", f.payouts.created)
	}
	bk, _ := f.bookings.Get(context.Background(), b.ID)
	if bk.Status != booking.StatusCompleted {
		t.Fatalf("booking = %s", bk.Status)
	}
}

func TestResolveNoAction(t *testing.T) {
	f, b := newFixture(t)
	d := f.open(t, b)

	if _, err := f.svc.Resolve(context.Background(), d.ID, ResolveRequest{Resolution: ResolutionNoAction}, "admin_1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// Nothing moved; the auto-confirm path takes over from here.
	pm, err := f.engine.GetByBooking(context.Background(), b.ID)
	if err != nil || pm.EscrowStatus != payment.EscrowHeld {
		t.Fatalf("payment = %+v err=%v", pm, err)
	}
	open, _ := f.svc.HasOpenDispute(context.Background(), b.ID)
	if open {
		t.Fatal("dispute still open")
	}
}

func TestResolveTwiceRejected(t *testing.T) {
	f, b := newFixture(t)
	d := f.open(t, b)

	if _, err := f.svc.Resolve(context.Background(), d.ID, ResolveRequest{Resolution: ResolutionNoAction}, "admin_1"); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Resolve(context.Background(), d.ID, ResolveRequest{Resolution: ResolutionFullRefund}, "admin_1")
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("second resolve: %v", err)
	}
}

func TestResolvePartialRefundNeedsAmount(t *testing.T) {
	f, b := newFixture(t)
	d := f.open(t, b)

	_, err := f.svc.Resolve(context.Background(), d.ID, ResolveRequest{Resolution: ResolutionPartialRefund}, "admin_1")
	if !errors.Is(err, ErrInvalidResolution) {
		t.Fatalf("missing amount: %v", err)
	}
}
