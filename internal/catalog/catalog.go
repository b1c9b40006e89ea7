// Package catalog manages the bookable service listings freelancers offer.
//
// Bookings only consume a narrow view of a listing (activity flag and
// pricing inputs); the full listing record lives here.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/taskvine/taskvine/internal/pricing"
)

var (
	ErrServiceNotFound = errors.New("service not found")
	ErrUnauthorized    = errors.New("not authorized for this service")
	ErrInvalidService  = errors.New("invalid service")
)

// Service is a bookable listing owned by a freelancer.
type Service struct {
	ID                  string                  `json:"id"`
	FreelancerID        string                  `json:"freelancerId"`
	Title               string                  `json:"title"`
	Description         string                  `json:"description,omitempty"`
	BasePricePence      int64                   `json:"basePricePence"`
	MaterialsPricePence int64                   `json:"materialsPricePence"`
	TravelPricePence    int64                   `json:"travelPricePence"`
	MaterialsPolicy     pricing.MaterialsPolicy `json:"materialsPolicy"`
	Active              bool                    `json:"active"`
	CreatedAt           time.Time               `json:"createdAt"`
	UpdatedAt           time.Time               `json:"updatedAt"`
}

// Store persists service listings.
type Store interface {
	Create(ctx context.Context, s *Service) error
	Get(ctx context.Context, id string) (*Service, error)
	ListByFreelancer(ctx context.Context, freelancerID string) ([]*Service, error)
	Update(ctx context.Context, s *Service) error
}
