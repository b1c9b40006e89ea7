package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	stripe "github.com/stripe/stripe-go/v81"
	stripewebhook "github.com/stripe/stripe-go/v81/webhook"
)

const maxBodyBytes = 64 * 1024

// Handler receives Stripe webhook deliveries.
type Handler struct {
	processor *Processor
	secret    string

	// verify is swappable in tests.
	verify func(payload []byte, sigHeader, secret string) (stripe.Event, error)
}

// NewHandler creates a Stripe webhook handler. secret is the endpoint
// signing secret from the Stripe dashboard.
func NewHandler(processor *Processor, secret string) *Handler {
	return &Handler{
		processor: processor,
		secret:    secret,
		verify:    stripewebhook.ConstructEvent,
	}
}

// RegisterRoutes sets up the webhook route. Authentication is the
// signature check, not the actor middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/stripe", h.Receive)
}

// Receive handles POST /v1/webhooks/stripe
func (h *Handler) Receive(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Failed to read body"})
		return
	}

	event, err := h.verify(payload, c.GetHeader("Stripe-Signature"), h.secret)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature", "message": "Signature verification failed"})
		return
	}

	in := Incoming{EventID: event.ID, Type: string(event.Type)}
	if event.Data != nil {
		var obj struct {
			ID             string `json:"id"`
			PaymentIntent  string `json:"payment_intent"`
			AmountRefunded int64  `json:"amount_refunded"`
			Metadata       struct {
				BookingID string `json:"booking_id"`
			} `json:"metadata"`
			LastPaymentError struct {
				Message string `json:"message"`
			} `json:"last_payment_error"`
			Refunds struct {
				Data []struct {
					ID string `json:"id"`
				} `json:"data"`
			} `json:"refunds"`
		}
		if err := json.Unmarshal(event.Data.Raw, &obj); err == nil {
			in.IntentID = obj.ID
			if obj.PaymentIntent != "" {
				// Charge events reference the intent indirectly.
				in.IntentID = obj.PaymentIntent
			}
			in.BookingID = obj.Metadata.BookingID
			in.FailureReason = obj.LastPaymentError.Message
			in.AmountRefunded = obj.AmountRefunded
			if len(obj.Refunds.Data) > 0 {
				// Stripe lists refunds newest first.
				in.RefundID = obj.Refunds.Data[0].ID
			}
		}
	}

	if err := h.processor.Process(c.Request.Context(), in); err != nil {
		// Non-2xx makes the provider redeliver.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing_failed", "message": "Event processing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
