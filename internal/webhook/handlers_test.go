package webhook

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskvine/taskvine/internal/notify"
)

func newTestRouter(t *testing.T, h *Handler) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r.Group("/v1"))
	return r
}

func TestReceiveAppliesEvent(t *testing.T) {
	store := NewMemoryStore()
	payments := &mockPayments{}
	bookings := &mockBookings{}
	p := NewProcessor(store, payments, bookings, &notify.Recorder{}, slog.New(slog.DiscardHandler))

	h := NewHandler(p, "whsec_test")
	h.verify = func(payload []byte, sigHeader, secret string) (stripe.Event, error) {
		require.Equal(t, "whsec_test", secret)
		require.Equal(t, "sig_ok", sigHeader)
		return stripe.Event{
			ID:   "evt_1",
			Type: stripe.EventType(TypePaymentSucceeded),
			Data: &stripe.EventData{Raw: []byte(`{"id":"pi_1","metadata":{"booking_id":"bk_1"}}`)},
		}, nil
	}
	r := newTestRouter(t, h)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", bytes.NewBufferString(`{}`))
	req.Header.Set("Stripe-Signature", "sig_ok")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"pi_1"}, payments.succeeded)
	assert.Equal(t, []string{"bk_1"}, bookings.paid)
}

func TestReceiveRejectsBadSignature(t *testing.T) {
	p := NewProcessor(NewMemoryStore(), &mockPayments{}, &mockBookings{}, &notify.Recorder{}, slog.New(slog.DiscardHandler))
	h := NewHandler(p, "whsec_test")
	h.verify = func(payload []byte, sigHeader, secret string) (stripe.Event, error) {
		return stripe.Event{}, errors.New("bad signature")
	}
	r := newTestRouter(t, h)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReceiveProcessingFailureTriggersRedelivery(t *testing.T) {
	payments := &mockPayments{err: errors.New("db down")}
	p := NewProcessor(NewMemoryStore(), payments, &mockBookings{}, &notify.Recorder{}, slog.New(slog.DiscardHandler))
	h := NewHandler(p, "whsec_test")
	h.verify = func(payload []byte, sigHeader, secret string) (stripe.Event, error) {
		return stripe.Event{
			ID:   "evt_1",
			Type: stripe.EventType(TypePaymentSucceeded),
			Data: &stripe.EventData{Raw: []byte(`{"id":"pi_1"}`)},
		}, nil
	}
	r := newTestRouter(t, h)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
