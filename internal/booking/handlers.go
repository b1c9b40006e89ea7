package booking

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/taskvine/taskvine/internal/validation"
)

// Handler provides HTTP endpoints for booking operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new booking handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up booking routes. All require an authenticated actor.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/bookings", h.CreateBooking)
	r.GET("/bookings/:id", h.GetBooking)
	r.POST("/bookings/:id/accept", h.AcceptBooking)
	r.POST("/bookings/:id/decline", h.DeclineBooking)
	r.POST("/bookings/:id/cancel", h.CancelBooking)
	r.POST("/bookings/:id/confirm", h.ConfirmBooking)
	r.GET("/users/:id/bookings", h.ListUserBookings)
}

func actorFrom(c *gin.Context) Actor {
	return Actor{ID: c.GetString("actorID"), Role: c.GetString("actorRole")}
}

// CreateBooking handles POST /v1/bookings
func (h *Handler) CreateBooking(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	actor := actorFrom(c)
	req.ClientID = actor.ID

	res, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err, "booking_failed", "Failed to create booking")
		return
	}
	c.JSON(http.StatusCreated, res)
}

// GetBooking handles GET /v1/bookings/:id
func (h *Handler) GetBooking(c *gin.Context) {
	b, err := h.service.Get(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		writeError(c, err, "booking_failed", "Failed to load booking")
		return
	}
	c.JSON(http.StatusOK, b)
}

// AcceptBooking handles POST /v1/bookings/:id/accept
func (h *Handler) AcceptBooking(c *gin.Context) {
	b, err := h.service.Accept(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		writeError(c, err, "accept_failed", "Failed to accept booking")
		return
	}
	c.JSON(http.StatusOK, b)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// DeclineBooking handles POST /v1/bookings/:id/decline
func (h *Handler) DeclineBooking(c *gin.Context) {
	var req reasonRequest
	_ = c.ShouldBindJSON(&req)

	res, err := h.service.Decline(c.Request.Context(), c.Param("id"), actorFrom(c),
		validation.SanitizeString(req.Reason, 500))
	if err != nil {
		writeError(c, err, "decline_failed", "Failed to decline booking")
		return
	}
	c.JSON(http.StatusOK, res)
}

// CancelBooking handles POST /v1/bookings/:id/cancel
func (h *Handler) CancelBooking(c *gin.Context) {
	var req reasonRequest
	_ = c.ShouldBindJSON(&req)

	res, err := h.service.Cancel(c.Request.Context(), c.Param("id"), actorFrom(c),
		validation.SanitizeString(req.Reason, 500))
	if err != nil {
		writeError(c, err, "cancel_failed", "Failed to cancel booking")
		return
	}
	c.JSON(http.StatusOK, res)
}

// ConfirmBooking handles POST /v1/bookings/:id/confirm
func (h *Handler) ConfirmBooking(c *gin.Context) {
	b, err := h.service.ConfirmService(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		writeError(c, err, "confirm_failed", "Failed to confirm booking")
		return
	}
	c.JSON(http.StatusOK, b)
}

// ListUserBookings handles GET /v1/users/:id/bookings
func (h *Handler) ListUserBookings(c *gin.Context) {
	actor := actorFrom(c)
	userID := c.Param("id")
	if actor.Role != RoleAdmin && actor.ID != userID {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "You can only list your own bookings",
		})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	bookings, err := h.service.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err, "list_failed", "Failed to list bookings")
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings, "count": len(bookings)})
}

func writeError(c *gin.Context, err error, code, fallback string) {
	switch {
	case errors.Is(err, ErrBookingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Booking not found"})
	case errors.Is(err, ErrServiceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Service not found"})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "unauthorized", "message": err.Error()})
	case errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_status", "message": err.Error()})
	case errors.Is(err, ErrSlotTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "slot_taken", "message": err.Error()})
	case errors.Is(err, ErrServiceInactive), errors.Is(err, ErrInvalidSchedule):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": code, "message": fallback})
	}
}
