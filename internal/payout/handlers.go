package payout

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for payouts.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new payout handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up payout routes for authenticated users.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/users/:id/payouts", h.ListPayouts)
	r.PUT("/users/:id/payout-account", h.UpsertAccount)
}

// RegisterAdminRoutes sets up admin-only payout routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/payouts/:id/retry", h.RetryPayout)
}

// ListPayouts handles GET /v1/users/:id/payouts
func (h *Handler) ListPayouts(c *gin.Context) {
	userID := c.Param("id")
	if !selfOrAdmin(c, userID) {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	payouts, err := h.engine.ListByFreelancer(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "message": "Failed to list payouts"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payouts": payouts, "count": len(payouts)})
}

type accountRequest struct {
	ProviderAccountID string   `json:"providerAccountId" binding:"required"`
	Schedule          Schedule `json:"schedule"`
	Enabled           bool     `json:"enabled"`
	Verified          bool     `json:"verified"`
}

// UpsertAccount handles PUT /v1/users/:id/payout-account
func (h *Handler) UpsertAccount(c *gin.Context) {
	userID := c.Param("id")
	if !selfOrAdmin(c, userID) {
		return
	}

	var req accountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}
	switch req.Schedule {
	case "":
		req.Schedule = SchedulePerTransaction
	case SchedulePerTransaction, ScheduleWeekly, ScheduleBiWeekly:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Unknown payout schedule"})
		return
	}

	// Verification state is set by the provider onboarding flow, not the
	// user; only admins may flip it directly.
	if c.GetString("actorRole") != "admin" {
		req.Verified = false
		if existing, err := h.engine.Accounts().Get(c.Request.Context(), userID); err == nil {
			req.Verified = existing.Verified
		}
	}

	a := &Account{
		FreelancerID:      userID,
		ProviderAccountID: req.ProviderAccountID,
		Schedule:          req.Schedule,
		Enabled:           req.Enabled,
		Verified:          req.Verified,
	}
	if err := h.engine.Accounts().Upsert(c.Request.Context(), a); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "account_failed", "message": "Failed to save payout account"})
		return
	}
	c.JSON(http.StatusOK, a)
}

// RetryPayout handles POST /v1/payouts/:id/retry
func (h *Handler) RetryPayout(c *gin.Context) {
	p, err := h.engine.RetryFailed(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrPayoutNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Payout not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": "retry_failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, p)
}

func selfOrAdmin(c *gin.Context, userID string) bool {
	if c.GetString("actorRole") == "admin" || c.GetString("actorID") == userID {
		return true
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "unauthorized", "message": "Not your payouts"})
	return false
}
