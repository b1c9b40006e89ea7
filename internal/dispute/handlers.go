package dispute

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/taskvine/taskvine/internal/booking"
	"github.com/taskvine/taskvine/internal/validation"
)

// Handler provides HTTP endpoints for disputes.
type Handler struct {
	service *Service
}

// NewHandler creates a new dispute handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up dispute routes for authenticated users.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/disputes", h.OpenDispute)
	r.GET("/disputes/:id", h.GetDispute)
}

// RegisterAdminRoutes sets up admin-only dispute routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/disputes", h.ListOpenDisputes)
	r.POST("/disputes/:id/resolve", h.ResolveDispute)
}

type openRequest struct {
	BookingID string `json:"bookingId" binding:"required"`
	Reason    string `json:"reason" binding:"required"`
}

// OpenDispute handles POST /v1/disputes
func (h *Handler) OpenDispute(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}
	if verrs := validation.Validate(
		validation.ValidID("bookingId", req.BookingID),
		validation.MaxLength("reason", req.Reason, 2000),
	); verrs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": verrs.Error()})
		return
	}

	actor := booking.Actor{ID: c.GetString("actorID"), Role: c.GetString("actorRole")}
	d, err := h.service.Open(c.Request.Context(), req.BookingID, validation.SanitizeString(req.Reason, 2000), actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// GetDispute handles GET /v1/disputes/:id
func (h *Handler) GetDispute(c *gin.Context) {
	actor := booking.Actor{ID: c.GetString("actorID"), Role: c.GetString("actorRole")}
	d, err := h.service.Get(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// ListOpenDisputes handles GET /v1/disputes (admin)
func (h *Handler) ListOpenDisputes(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	disputes, err := h.service.ListOpen(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "message": "Failed to list disputes"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"disputes": disputes, "count": len(disputes)})
}

// ResolveDispute handles POST /v1/disputes/:id/resolve (admin)
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	d, err := h.service.Resolve(c.Request.Context(), c.Param("id"), req, c.GetString("actorID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrDisputeNotFound), errors.Is(err, booking.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, booking.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "unauthorized", "message": err.Error()})
	case errors.Is(err, ErrDisputeExists), errors.Is(err, ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": err.Error()})
	case errors.Is(err, ErrNotDisputable), errors.Is(err, ErrInvalidResolution):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dispute_failed", "message": "Dispute operation failed"})
	}
}
