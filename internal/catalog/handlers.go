package catalog

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskvine/taskvine/internal/idgen"
	"github.com/taskvine/taskvine/internal/pricing"
	"github.com/taskvine/taskvine/internal/validation"
)

// Handler provides HTTP endpoints for service listings.
type Handler struct {
	store Store
}

// NewHandler creates a new catalog handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up catalog routes for authenticated users.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/services", h.CreateService)
	r.GET("/services/:id", h.GetService)
	r.PUT("/services/:id", h.UpdateService)
	r.GET("/users/:id/services", h.ListUserServices)
}

type serviceRequest struct {
	Title               string                  `json:"title" binding:"required"`
	Description         string                  `json:"description"`
	BasePricePence      int64                   `json:"basePricePence"`
	MaterialsPricePence int64                   `json:"materialsPricePence"`
	TravelPricePence    int64                   `json:"travelPricePence"`
	MaterialsPolicy     pricing.MaterialsPolicy `json:"materialsPolicy"`
	Active              *bool                   `json:"active"`
}

func (r *serviceRequest) validate() error {
	if err := validation.Validate(
		validation.Required("title", r.Title),
		validation.MaxLength("title", r.Title, 200),
		validation.MaxLength("description", r.Description, 2000),
		validation.PositiveAmount("basePricePence", r.BasePricePence),
	); err != nil {
		return err
	}
	if r.MaterialsPricePence < 0 || r.TravelPricePence < 0 {
		return errors.New("prices must not be negative")
	}
	switch r.MaterialsPolicy {
	case "":
		r.MaterialsPolicy = pricing.MaterialsFreelancer
	case pricing.MaterialsFreelancer, pricing.MaterialsClient, pricing.MaterialsEither:
	default:
		return errors.New("unknown materials policy")
	}
	return nil
}

// CreateService handles POST /v1/services
func (h *Handler) CreateService(c *gin.Context) {
	var req serviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	freelancerID := c.GetString("actorID")
	now := time.Now()
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	s := &Service{
		ID:                  idgen.WithPrefix(idgen.ServicePrefix),
		FreelancerID:        freelancerID,
		Title:               validation.SanitizeString(req.Title, 200),
		Description:         validation.SanitizeString(req.Description, 2000),
		BasePricePence:      req.BasePricePence,
		MaterialsPricePence: req.MaterialsPricePence,
		TravelPricePence:    req.TravelPricePence,
		MaterialsPolicy:     req.MaterialsPolicy,
		Active:              active,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := h.store.Create(c.Request.Context(), s); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed", "message": "Failed to create service"})
		return
	}
	c.JSON(http.StatusCreated, s)
}

// GetService handles GET /v1/services/:id
func (h *Handler) GetService(c *gin.Context) {
	s, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrServiceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Service not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed", "message": "Failed to load service"})
		return
	}
	c.JSON(http.StatusOK, s)
}

// UpdateService handles PUT /v1/services/:id
func (h *Handler) UpdateService(c *gin.Context) {
	s, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrServiceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Service not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed", "message": "Failed to load service"})
		return
	}
	if c.GetString("actorRole") != "admin" && c.GetString("actorID") != s.FreelancerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "unauthorized", "message": "Not your service"})
		return
	}

	var req serviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	s.Title = validation.SanitizeString(req.Title, 200)
	s.Description = validation.SanitizeString(req.Description, 2000)
	s.BasePricePence = req.BasePricePence
	s.MaterialsPricePence = req.MaterialsPricePence
	s.TravelPricePence = req.TravelPricePence
	s.MaterialsPolicy = req.MaterialsPolicy
	if req.Active != nil {
		s.Active = *req.Active
	}
	s.UpdatedAt = time.Now()

	if err := h.store.Update(c.Request.Context(), s); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed", "message": "Failed to update service"})
		return
	}
	c.JSON(http.StatusOK, s)
}

// ListUserServices handles GET /v1/users/:id/services
func (h *Handler) ListUserServices(c *gin.Context) {
	services, err := h.store.ListByFreelancer(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed", "message": "Failed to list services"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"services": services, "count": len(services)})
}
