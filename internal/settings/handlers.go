package settings

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides the admin endpoints for platform settings.
type Handler struct {
	store    Store
	provider *Provider
}

// NewHandler creates a new settings handler.
func NewHandler(store Store, provider *Provider) *Handler {
	return &Handler{store: store, provider: provider}
}

// RegisterAdminRoutes sets up admin-only settings routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/settings", h.GetSettings)
	r.PUT("/settings", h.UpdateSettings)
}

// GetSettings handles GET /v1/admin/settings
func (h *Handler) GetSettings(c *gin.Context) {
	s, err := h.store.Load(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load_failed", "message": "Failed to load settings"})
		return
	}
	c.JSON(http.StatusOK, s)
}

// UpdateSettings handles PUT /v1/admin/settings. The full snapshot is
// replaced; clients should GET, modify, and PUT back.
func (h *Handler) UpdateSettings(c *gin.Context) {
	var s Snapshot
	if err := c.ShouldBindJSON(&s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}
	if err := validate(s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if err := h.store.Save(c.Request.Context(), s); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save_failed", "message": "Failed to save settings"})
		return
	}
	h.provider.Invalidate()
	c.JSON(http.StatusOK, s)
}

func validate(s Snapshot) error {
	if s.CommissionPercent < 0 || s.CommissionPercent > 100 {
		return errors.New("commissionPercent must be between 0 and 100")
	}
	if s.PlatformFeePercent < 0 || s.PlatformFeePercent > 100 {
		return errors.New("platformFeePercent must be between 0 and 100")
	}
	if s.PartialRefundPercent < 0 || s.PartialRefundPercent > 100 {
		return errors.New("partialRefundPercent must be between 0 and 100")
	}
	if s.FixedBookingFeePence < 0 {
		return errors.New("fixedBookingFeePence must not be negative")
	}
	if s.PartialRefundHours > s.FreeCancelHours {
		return errors.New("partialRefundHours must not exceed freeCancelHours")
	}
	if s.FreeCancelHours < 0 || s.PartialRefundHours < 0 ||
		s.AutoConfirmGraceHours < 0 || s.PendingTimeoutHours < 0 ||
		s.LastMinuteCancelHours < 0 {
		return errors.New("hour thresholds must not be negative")
	}
	if s.CancelWarnThreshold < 1 || s.CancelSuspendThreshold < s.CancelWarnThreshold {
		return errors.New("cancel thresholds must be positive and ordered")
	}
	return nil
}
