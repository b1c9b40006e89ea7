package booking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/taskvine/taskvine/internal/notify"
	"github.com/taskvine/taskvine/internal/payment"
	"github.com/taskvine/taskvine/internal/pricing"
	"github.com/taskvine/taskvine/internal/settings"
)

type mockEscrow struct {
	mu        sync.Mutex
	created   []payment.CreateRequest
	createErr error

	released   []string
	releasable int64
	releaseErr error

	refunds   []refundCall
	refundErr error

	abandoned []string
}

type refundCall struct {
	bookingID string
	amount    int64
	reason    string
}

func (m *mockEscrow) CreateForBooking(ctx context.Context, req payment.CreateRequest) (*payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, req)
	return &payment.Payment{
		ID: "pay_test", BookingID: req.BookingID, IntentID: "pi_test",
		AmountPence: req.AmountPence, PlatformFeePence: req.PlatformFeePence,
		Status: payment.StatusInitiated, EscrowStatus: payment.EscrowHeld,
	}, nil
}

func (m *mockEscrow) Release(ctx context.Context, bookingID string) (*payment.Payment, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.releaseErr != nil {
		return nil, 0, m.releaseErr
	}
	for _, id := range m.released {
		if id == bookingID {
			return nil, 0, payment.ErrAlreadySettled
		}
	}
	m.released = append(m.released, bookingID)
	return &payment.Payment{ID: "pay_test", BookingID: bookingID}, m.releasable, nil
}

func (m *mockEscrow) Refund(ctx context.Context, bookingID string, amountPence int64, reason string) (*payment.RefundOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refundErr != nil {
		return nil, m.refundErr
	}
	m.refunds = append(m.refunds, refundCall{bookingID, amountPence, reason})
	full := amountPence <= 0
	amt := amountPence
	if full {
		amt = 10000
	}
	return &payment.RefundOutcome{RefundID: "re_test", AmountPence: amt, Full: full}, nil
}

func (m *mockEscrow) Abandon(ctx context.Context, bookingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abandoned = append(m.abandoned, bookingID)
	return nil
}

type mockPayouts struct {
	mu      sync.Mutex
	created []payoutCall
	err     error
}

type payoutCall struct {
	bookingID    string
	freelancerID string
	amount       int64
}

func (m *mockPayouts) CreateForRelease(ctx context.Context, bookingID, freelancerID string, serviceAmountPence int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.created = append(m.created, payoutCall{bookingID, freelancerID, serviceAmountPence})
	return nil
}

type mockDisputes struct{ open bool }

func (m *mockDisputes) HasOpenDispute(ctx context.Context, bookingID string) (bool, error) {
	return m.open, nil
}

type mockCatalog struct{ services map[string]*ServiceInfo }

func (m *mockCatalog) ServiceInfo(ctx context.Context, serviceID string) (*ServiceInfo, error) {
	svc, ok := m.services[serviceID]
	if !ok {
		return nil, errors.New("service not found")
	}
	return svc, nil
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	escrow   *mockEscrow
	payouts  *mockPayouts
	disputes *mockDisputes
	notifier *notify.Recorder
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    NewMemoryStore(),
		escrow:   &mockEscrow{releasable: 9000},
		payouts:  &mockPayouts{},
		disputes: &mockDisputes{},
		notifier: &notify.Recorder{},
		now:      time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
	catalog := &mockCatalog{services: map[string]*ServiceInfo{
		"svc_1": {
			ID: "svc_1", FreelancerID: "freelancer_1", Active: true,
			BasePricePence: 8000, MaterialsPricePence: 1500, TravelPricePence: 500,
			MaterialsPolicy: pricing.MaterialsFreelancer,
		},
		"svc_inactive": {ID: "svc_inactive", FreelancerID: "freelancer_1", Active: false},
	}}
	provider := settings.NewProvider(settings.NewMemoryStore())
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	f.svc = NewService(f.store, catalog, f.escrow, f.payouts, f.disputes, provider, f.notifier, logger).
		WithClock(func() time.Time { return f.now })
	return f
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func (f *fixture) createBooking(t *testing.T) *Booking {
	t.Helper()
	res, err := f.svc.Create(context.Background(), CreateRequest{
		ClientID:       "client_1",
		ServiceID:      "svc_1",
		ScheduledStart: f.now.Add(72 * time.Hour),
		ScheduledEnd:   f.now.Add(74 * time.Hour),
		Location:       pricing.LocationClient,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return res.Booking
}

func (f *fixture) confirmedPaidBooking(t *testing.T) *Booking {
	t.Helper()
	b := f.createBooking(t)
	if _, err := f.svc.Accept(context.Background(), b.ID, Actor{ID: "freelancer_1", Role: RoleFreelancer}); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if _, err := f.svc.MarkPaid(context.Background(), b.ID); err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	b, err := f.store.Get(context.Background(), b.ID)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestCreateBooking(t *testing.T) {
	f := newFixture(t)
	b := f.createBooking(t)

	if b.Status != StatusPending || b.PaymentStatus != PaymentPending {
		t.Fatalf("got status=%s payment=%s", b.Status, b.PaymentStatus)
	}
	if stored, _ := f.store.Get(context.Background(), b.ID); stored.PaymentStatus != PaymentPending {
		t.Fatalf("stored payment status = %s", stored.PaymentStatus)
	}
	if b.ExpiresAt == nil || !b.ExpiresAt.Equal(f.now.Add(24*time.Hour)) {
		t.Fatalf("expected 24h acceptance deadline, got %v", b.ExpiresAt)
	}
	// base + materials + travel; the platform fee is deducted from the
	// freelancer side, never added to the client total.
	if b.Price.TotalPence != 10000 {
		t.Fatalf("total = %d, want 10000", b.Price.TotalPence)
	}
	if b.Price.PlatformFeePence == 0 {
		t.Fatal("expected a platform fee")
	}
	if len(f.escrow.created) != 1 || f.escrow.created[0].AmountPence != 10000 {
		t.Fatalf("escrow created = %+v", f.escrow.created)
	}
	if got := f.notifier.ByType(notify.TypeBookingRequested); len(got) != 1 || got[0].UserID != "freelancer_1" {
		t.Fatalf("freelancer not notified: %+v", got)
	}
}

func TestCreateBookingValidation(t *testing.T) {
	f := newFixture(t)
	base := CreateRequest{
		ClientID:       "client_1",
		ServiceID:      "svc_1",
		ScheduledStart: f.now.Add(48 * time.Hour),
		ScheduledEnd:   f.now.Add(50 * time.Hour),
		Location:       pricing.LocationRemote,
	}

	past := base
	past.ScheduledStart = f.now.Add(-time.Hour)
	if _, err := f.svc.Create(context.Background(), past); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("past start: %v", err)
	}

	inverted := base
	inverted.ScheduledEnd = inverted.ScheduledStart.Add(-time.Hour)
	if _, err := f.svc.Create(context.Background(), inverted); !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("inverted schedule: %v", err)
	}

	inactive := base
	inactive.ServiceID = "svc_inactive"
	if _, err := f.svc.Create(context.Background(), inactive); !errors.Is(err, ErrServiceInactive) {
		t.Fatalf("inactive service: %v", err)
	}

	own := base
	own.ClientID = "freelancer_1"
	if _, err := f.svc.Create(context.Background(), own); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("own service: %v", err)
	}
}

func TestCreateBookingRejectsOverlap(t *testing.T) {
	f := newFixture(t)
	f.createBooking(t)

	_, err := f.svc.Create(context.Background(), CreateRequest{
		ClientID:       "client_2",
		ServiceID:      "svc_1",
		ScheduledStart: f.now.Add(73 * time.Hour),
		ScheduledEnd:   f.now.Add(75 * time.Hour),
		Location:       pricing.LocationRemote,
	})
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}
}

func TestCreateBookingPaymentFailure(t *testing.T) {
	f := newFixture(t)
	f.escrow.createErr = errors.New("provider down")

	_, err := f.svc.Create(context.Background(), CreateRequest{
		ClientID:       "client_1",
		ServiceID:      "svc_1",
		ScheduledStart: f.now.Add(48 * time.Hour),
		ScheduledEnd:   f.now.Add(50 * time.Hour),
		Location:       pricing.LocationRemote,
	})
	if err == nil {
		t.Fatal("expected error")
	}

	// The orphaned booking must not hold the slot.
	bookings, _ := f.store.ListByUser(context.Background(), "client_1", 10)
	for _, b := range bookings {
		if b.Status != StatusCancelled {
			t.Fatalf("booking left in %s after payment failure", b.Status)
		}
	}
}

func TestAcceptBooking(t *testing.T) {
	f := newFixture(t)
	b := f.createBooking(t)

	if _, err := f.svc.Accept(context.Background(), b.ID, Actor{ID: "client_1", Role: RoleClient}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("client accept: %v", err)
	}

	got, err := f.svc.Accept(context.Background(), b.ID, Actor{ID: "freelancer_1", Role: RoleFreelancer})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if got.Status != StatusConfirmed || got.ExpiresAt != nil {
		t.Fatalf("got status=%s expiresAt=%v", got.Status, got.ExpiresAt)
	}
	// Not paid yet, so no auto-confirm timer either.
	if got.AutoConfirmAt != nil {
		t.Fatalf("auto-confirm armed on unpaid booking: %v", got.AutoConfirmAt)
	}

	if _, err := f.svc.Accept(context.Background(), b.ID, Actor{ID: "freelancer_1", Role: RoleFreelancer}); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("second accept: %v", err)
	}
}

func TestAcceptanceAndAutoConfirmTimersNeverCoexist(t *testing.T) {
	f := newFixture(t)
	b := f.createBooking(t)

	// Payment landing while still pending must not arm auto-confirm; the
	// acceptance deadline stays the only live timer.
	if _, err := f.svc.MarkPaid(context.Background(), b.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := f.store.Get(context.Background(), b.ID)
	if got.AutoConfirmAt != nil {
		t.Fatalf("auto-confirm armed while pending: %v", got.AutoConfirmAt)
	}
	if got.ExpiresAt == nil {
		t.Fatal("acceptance deadline lost")
	}

	// Acceptance swaps the deadline for the auto-confirm timer.
	got, err := f.svc.Accept(context.Background(), b.ID, Actor{ID: "freelancer_1", Role: RoleFreelancer})
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if got.ExpiresAt != nil || got.AutoConfirmAt == nil {
		t.Fatalf("expiresAt=%v autoConfirmAt=%v", got.ExpiresAt, got.AutoConfirmAt)
	}
	// Default grace is 24h past the scheduled end.
	if want := b.ScheduledEnd.Add(24 * time.Hour); !got.AutoConfirmAt.Equal(want) {
		t.Fatalf("autoConfirmAt = %v, want %v", got.AutoConfirmAt, want)
	}
}

func TestDeclineRefundsInFull(t *testing.T) {
	f := newFixture(t)
	b := f.createBooking(t)
	if _, err := f.svc.MarkPaid(context.Background(), b.ID); err != nil {
		t.Fatal(err)
	}

	res, err := f.svc.Decline(context.Background(), b.ID, Actor{ID: "freelancer_1", Role: RoleFreelancer}, "fully booked")
	if err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if res.RefundPercent != 100 {
		t.Fatalf("refund percent = %v", res.RefundPercent)
	}
	if len(f.escrow.refunds) != 1 || f.escrow.refunds[0].amount != 0 {
		t.Fatalf("expected one full refund, got %+v", f.escrow.refunds)
	}
	if res.Booking.Status != StatusCancelled || res.Booking.PaymentStatus != PaymentRefunded {
		t.Fatalf("got status=%s payment=%s", res.Booking.Status, res.Booking.PaymentStatus)
	}
	if res.Booking.DeclinedReason != "fully booked" {
		t.Fatalf("declined reason = %q", res.Booking.DeclinedReason)
	}
}

func TestDeclineUnpaidAbandonsIntent(t *testing.T) {
	f := newFixture(t)
	b := f.createBooking(t)

	res, err := f.svc.Decline(context.Background(), b.ID, Actor{ID: "freelancer_1", Role: RoleFreelancer}, "")
	if err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if len(f.escrow.refunds) != 0 {
		t.Fatalf("unexpected refund: %+v", f.escrow.refunds)
	}
	if len(f.escrow.abandoned) != 1 {
		t.Fatalf("expected intent abandonment, got %+v", f.escrow.abandoned)
	}
	if res.Booking.Status != StatusCancelled {
		t.Fatalf("status = %s", res.Booking.Status)
	}
}

func TestClientCancelRefundTiers(t *testing.T) {
	cases := []struct {
		name        string
		hoursBefore time.Duration
		wantPercent float64
		wantRefunds int
	}{
		{"free window", 72 * time.Hour, 100, 1},
		{"partial window", 36 * time.Hour, 50, 1},
		{"late", 10 * time.Hour, 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			b := f.confirmedPaidBooking(t)

			f.now = b.ScheduledStart.Add(-tc.hoursBefore)
			res, err := f.svc.Cancel(context.Background(), b.ID, Actor{ID: "client_1", Role: RoleClient}, "change of plans")
			if err != nil {
				t.Fatalf("Cancel: %v", err)
			}
			if res.RefundPercent != tc.wantPercent {
				t.Fatalf("percent = %v, want %v", res.RefundPercent, tc.wantPercent)
			}
			if len(f.escrow.refunds) != tc.wantRefunds {
				t.Fatalf("refunds = %+v", f.escrow.refunds)
			}
			if res.Booking.Status != StatusCancelled {
				t.Fatalf("status = %s", res.Booking.Status)
			}
			if res.Reliability != SignalNone {
				t.Fatalf("client cancel produced reliability signal %q", res.Reliability)
			}
		})
	}
}

func TestClientCancelPartialAmount(t *testing.T) {
	f := newFixture(t)
	b := f.confirmedPaidBooking(t)

	f.now = b.ScheduledStart.Add(-36 * time.Hour)
	res, err := f.svc.Cancel(context.Background(), b.ID, Actor{ID: "client_1", Role: RoleClient}, "")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if f.escrow.refunds[0].amount != 5000 {
		t.Fatalf("refund amount = %d, want 5000", f.escrow.refunds[0].amount)
	}
	if res.Booking.PaymentStatus != PaymentPartiallyRefunded {
		t.Fatalf("payment status = %s", res.Booking.PaymentStatus)
	}
}

func TestFreelancerCancelAlwaysFullRefund(t *testing.T) {
	f := newFixture(t)
	b := f.confirmedPaidBooking(t)

	// Two hours before start: a client would get nothing.
	f.now = b.ScheduledStart.Add(-2 * time.Hour)
	res, err := f.svc.Cancel(context.Background(), b.ID, Actor{ID: "freelancer_1", Role: RoleFreelancer}, "emergency")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if res.RefundPercent != 100 {
		t.Fatalf("percent = %v", res.RefundPercent)
	}
	if len(f.escrow.refunds) != 1 || f.escrow.refunds[0].amount != 0 {
		t.Fatalf("refunds = %+v", f.escrow.refunds)
	}
	if res.Booking.PaymentStatus != PaymentRefunded {
		t.Fatalf("payment status = %s", res.Booking.PaymentStatus)
	}
}

func TestFreelancerReliabilitySignals(t *testing.T) {
	f := newFixture(t)
	actor := Actor{ID: "freelancer_1", Role: RoleFreelancer}
	var last *CancelResult

	for i := 0; i < 4; i++ {
		b := f.confirmedPaidBooking(t)
		saved := f.now
		f.now = b.ScheduledStart.Add(-2 * time.Hour)
		res, err := f.svc.Cancel(context.Background(), b.ID, actor, "emergency")
		if err != nil {
			t.Fatalf("cancel %d: %v", i, err)
		}
		last = res
		f.now = saved

		switch i {
		case 0:
			if res.Reliability != SignalNone {
				t.Fatalf("cancel 1 signal = %q", res.Reliability)
			}
		case 1, 2:
			if res.Reliability != SignalWarning {
				t.Fatalf("cancel %d signal = %q", i+1, res.Reliability)
			}
		}
	}
	if last.Reliability != SignalSuspend {
		t.Fatalf("cancel 4 signal = %q", last.Reliability)
	}
}

func TestEarlyFreelancerCancelNoSignal(t *testing.T) {
	f := newFixture(t)
	b := f.confirmedPaidBooking(t)

	// 72h before start is not last-minute.
	f.now = b.ScheduledStart.Add(-72 * time.Hour)
	res, err := f.svc.Cancel(context.Background(), b.ID, Actor{ID: "freelancer_1", Role: RoleFreelancer}, "")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if res.Reliability != SignalNone {
		t.Fatalf("signal = %q", res.Reliability)
	}
}

func TestConfirmService(t *testing.T) {
	f := newFixture(t)
	b := f.confirmedPaidBooking(t)

	if _, err := f.svc.ConfirmService(context.Background(), b.ID, Actor{ID: "freelancer_1", Role: RoleFreelancer}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("freelancer confirm: %v", err)
	}

	got, err := f.svc.ConfirmService(context.Background(), b.ID, Actor{ID: "client_1", Role: RoleClient})
	if err != nil {
		t.Fatalf("ConfirmService: %v", err)
	}
	if got.Status != StatusCompleted || got.AutoConfirmAt != nil {
		t.Fatalf("got status=%s autoConfirmAt=%v", got.Status, got.AutoConfirmAt)
	}
	if len(f.payouts.created) != 1 {
		t.Fatalf("payouts = %+v", f.payouts.created)
	}
	if f.payouts.created[0].amount != 9000 {
		t.Fatalf("payout amount = %d, want releasable 9000", f.payouts.created[0].amount)
	}
}

func TestConfirmServiceRequiresPaid(t *testing.T) {
	f := newFixture(t)
	b := f.createBooking(t)
	if _, err := f.svc.Accept(context.Background(), b.ID, Actor{ID: "freelancer_1", Role: RoleFreelancer}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.ConfirmService(context.Background(), b.ID, Actor{ID: "client_1", Role: RoleClient}); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("unpaid confirm: %v", err)
	}
}

func TestConfirmServiceExactlyOnce(t *testing.T) {
	f := newFixture(t)
	b := f.confirmedPaidBooking(t)

	if _, err := f.svc.ConfirmService(context.Background(), b.ID, Actor{ID: "client_1", Role: RoleClient}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ConfirmService(context.Background(), b.ID, Actor{ID: "client_1", Role: RoleClient}); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("second confirm: %v", err)
	}
	if len(f.payouts.created) != 1 {
		t.Fatalf("payouts = %+v", f.payouts.created)
	}
}

func TestExpireDue(t *testing.T) {
	f := newFixture(t)
	b := f.createBooking(t)

	// Before the deadline nothing happens.
	n, err := f.svc.ExpireDue(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("early sweep: n=%d err=%v", n, err)
	}

	f.now = f.now.Add(25 * time.Hour)
	n, err = f.svc.ExpireDue(context.Background())
	if err != nil {
		t.Fatalf("ExpireDue: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired = %d", n)
	}

	got, _ := f.store.Get(context.Background(), b.ID)
	if got.Status != StatusExpired {
		t.Fatalf("status = %s", got.Status)
	}
	if len(f.escrow.abandoned) != 1 {
		t.Fatalf("abandoned = %+v", f.escrow.abandoned)
	}
	if f.notifier.ByType(notify.TypeBookingExpired) == nil {
		t.Fatal("no expiry notifications")
	}

	// Sweep is idempotent.
	n, err = f.svc.ExpireDue(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("second sweep: n=%d err=%v", n, err)
	}
}

func TestAutoConfirmDue(t *testing.T) {
	f := newFixture(t)
	b := f.confirmedPaidBooking(t)

	// Grace period after the scheduled end has not elapsed yet.
	f.now = b.ScheduledEnd.Add(time.Hour)
	n, err := f.svc.AutoConfirmDue(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("early sweep: n=%d err=%v", n, err)
	}

	f.now = b.ScheduledEnd.Add(25 * time.Hour)
	n, err = f.svc.AutoConfirmDue(context.Background())
	if err != nil {
		t.Fatalf("AutoConfirmDue: %v", err)
	}
	if n != 1 {
		t.Fatalf("completed = %d", n)
	}

	got, _ := f.store.Get(context.Background(), b.ID)
	if got.Status != StatusCompleted {
		t.Fatalf("status = %s", got.Status)
	}
	if len(f.payouts.created) != 1 {
		t.Fatalf("payouts = %+v", f.payouts.created)
	}
}

func TestAutoConfirmSkipsDisputed(t *testing.T) {
	f := newFixture(t)
	b := f.confirmedPaidBooking(t)
	f.disputes.open = true

	f.now = b.ScheduledEnd.Add(25 * time.Hour)
	n, err := f.svc.AutoConfirmDue(context.Background())
	if err != nil {
		t.Fatalf("AutoConfirmDue: %v", err)
	}
	if n != 0 {
		t.Fatalf("completed = %d, want 0 while disputed", n)
	}

	got, _ := f.store.Get(context.Background(), b.ID)
	if got.Status != StatusConfirmed {
		t.Fatalf("status = %s", got.Status)
	}
	if len(f.escrow.released) != 0 {
		t.Fatalf("released = %+v", f.escrow.released)
	}
}

func TestMarkPaidArmsAutoConfirm(t *testing.T) {
	f := newFixture(t)
	b := f.createBooking(t)
	if _, err := f.svc.Accept(context.Background(), b.ID, Actor{ID: "freelancer_1", Role: RoleFreelancer}); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	got, err := f.svc.MarkPaid(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("MarkPaid: %v", err)
	}
	if got.PaymentStatus != PaymentPaid {
		t.Fatalf("payment status = %s", got.PaymentStatus)
	}
	want := b.ScheduledEnd.Add(24 * time.Hour)
	if got.AutoConfirmAt == nil || !got.AutoConfirmAt.Equal(want) {
		t.Fatalf("autoConfirmAt = %v, want %v", got.AutoConfirmAt, want)
	}
}
