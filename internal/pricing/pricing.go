// Package pricing computes the price breakdown for a booking.
//
// The calculator is pure: no I/O, no clock, identical input produces
// identical output. All amounts are integer pence.
package pricing

import "math"

// MaterialsPolicy describes who supplies materials for a service.
type MaterialsPolicy string

const (
	MaterialsFreelancer MaterialsPolicy = "freelancer" // freelancer always supplies
	MaterialsClient     MaterialsPolicy = "client"     // client always supplies
	MaterialsEither     MaterialsPolicy = "both"       // client may opt to supply their own
)

// LocationType describes where the service takes place.
type LocationType string

const (
	LocationClient     LocationType = "client_location"     // freelancer travels to client
	LocationFreelancer LocationType = "freelancer_location" // client comes to freelancer
	LocationRemote     LocationType = "remote"
)

// Input is everything the calculator needs.
type Input struct {
	BasePricePence      int64
	MaterialsPricePence int64
	TravelPricePence    int64
	MaterialsPolicy     MaterialsPolicy
	ClientOwnMaterials  bool // client opted to provide their own (only meaningful for MaterialsEither)
	Location            LocationType
	PlatformFeePercent  float64
}

// Breakdown is the computed price split.
//
// The platform fee is deducted from the freelancer's side at payout time.
// TotalPence is what the client pays and equals the subtotal; the fee is
// never added on top.
type Breakdown struct {
	BasePricePence      int64 `json:"basePricePence"`
	MaterialsPricePence int64 `json:"materialsPricePence"`
	TravelPricePence    int64 `json:"travelPricePence"`
	PlatformFeePence    int64 `json:"platformFeePence"`
	TotalPence          int64 `json:"totalPence"`
}

// Calculate produces the price breakdown for a booking.
func Calculate(in Input) Breakdown {
	b := Breakdown{BasePricePence: in.BasePricePence}

	if includeMaterials(in) {
		b.MaterialsPricePence = in.MaterialsPricePence
	}
	if in.Location == LocationClient {
		b.TravelPricePence = in.TravelPricePence
	}

	subtotal := b.BasePricePence + b.MaterialsPricePence + b.TravelPricePence
	b.PlatformFeePence = int64(math.Round(float64(subtotal) * in.PlatformFeePercent / 100))
	b.TotalPence = subtotal

	return b
}

func includeMaterials(in Input) bool {
	switch in.MaterialsPolicy {
	case MaterialsFreelancer:
		return true
	case MaterialsEither:
		return !in.ClientOwnMaterials
	default:
		return false
	}
}
