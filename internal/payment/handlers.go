package payment

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/taskvine/taskvine/internal/validation"
)

// Handler provides HTTP endpoints for payments.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new payment handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterAdminRoutes sets up admin-only payment routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/payments/:bookingId", h.GetPayment)
	r.POST("/payments/:bookingId/refund", h.RefundPayment)
}

// GetPayment handles GET /v1/admin/payments/:bookingId
func (h *Handler) GetPayment(c *gin.Context) {
	pm, err := h.engine.GetByBooking(c.Request.Context(), c.Param("bookingId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pm)
}

type refundRequest struct {
	// AmountPence of zero (or omitted) refunds the full remaining amount.
	AmountPence int64  `json:"amountPence"`
	Reason      string `json:"reason"`
}

// RefundPayment handles POST /v1/admin/payments/:bookingId/refund.
// Manual escape hatch for support; normal refunds flow through
// cancellation and dispute resolution.
func (h *Handler) RefundPayment(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}
	if req.AmountPence < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "amountPence must not be negative"})
		return
	}

	reason := validation.SanitizeString(req.Reason, 500)
	if reason == "" {
		reason = "admin refund"
	}
	out, err := h.engine.Refund(c.Request.Context(), c.Param("bookingId"), req.AmountPence, reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Payment not found"})
	case errors.Is(err, ErrAlreadySettled), errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": err.Error()})
	case errors.Is(err, ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "payment_failed", "message": "Payment operation failed"})
	}
}
