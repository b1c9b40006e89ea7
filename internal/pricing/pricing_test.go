package pricing

import "testing"

func TestCalculateBaseOnly(t *testing.T) {
	b := Calculate(Input{
		BasePricePence:     10000,
		MaterialsPolicy:    MaterialsClient,
		Location:           LocationRemote,
		PlatformFeePercent: 10,
	})

	if b.TotalPence != 10000 {
		t.Errorf("total = %d, want 10000", b.TotalPence)
	}
	if b.PlatformFeePence != 1000 {
		t.Errorf("platform fee = %d, want 1000", b.PlatformFeePence)
	}
	if b.MaterialsPricePence != 0 || b.TravelPricePence != 0 {
		t.Errorf("unexpected materials/travel: %+v", b)
	}
}

func TestFeeNotAddedToTotal(t *testing.T) {
	// The fee comes out of the freelancer's side; the client pays the subtotal.
	b := Calculate(Input{
		BasePricePence:     5000,
		MaterialsPolicy:    MaterialsClient,
		Location:           LocationRemote,
		PlatformFeePercent: 20,
	})
	if b.TotalPence != 5000 {
		t.Errorf("total = %d, want subtotal 5000 (fee must not be added)", b.TotalPence)
	}
	if b.PlatformFeePence != 1000 {
		t.Errorf("platform fee = %d, want 1000", b.PlatformFeePence)
	}
}

func TestMaterialsInclusion(t *testing.T) {
	tests := []struct {
		name         string
		policy       MaterialsPolicy
		clientOwn    bool
		wantIncluded bool
	}{
		{"freelancer supplies", MaterialsFreelancer, false, true},
		{"freelancer supplies, client flag ignored", MaterialsFreelancer, true, true},
		{"client supplies", MaterialsClient, false, false},
		{"either, client declines own", MaterialsEither, false, true},
		{"either, client brings own", MaterialsEither, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Calculate(Input{
				BasePricePence:      1000,
				MaterialsPricePence: 500,
				MaterialsPolicy:     tt.policy,
				ClientOwnMaterials:  tt.clientOwn,
				Location:            LocationRemote,
				PlatformFeePercent:  0,
			})
			got := b.MaterialsPricePence == 500
			if got != tt.wantIncluded {
				t.Errorf("materials included = %v, want %v", got, tt.wantIncluded)
			}
		})
	}
}

func TestTravelOnlyForClientLocation(t *testing.T) {
	for _, loc := range []LocationType{LocationFreelancer, LocationRemote} {
		b := Calculate(Input{BasePricePence: 1000, TravelPricePence: 300, Location: loc})
		if b.TravelPricePence != 0 {
			t.Errorf("location %s: travel = %d, want 0", loc, b.TravelPricePence)
		}
	}

	b := Calculate(Input{BasePricePence: 1000, TravelPricePence: 300, Location: LocationClient})
	if b.TravelPricePence != 300 {
		t.Errorf("travel = %d, want 300", b.TravelPricePence)
	}
	if b.TotalPence != 1300 {
		t.Errorf("total = %d, want 1300", b.TotalPence)
	}
}

func TestFeeRounding(t *testing.T) {
	// 333 * 7.5% = 24.975 → rounds to 25
	b := Calculate(Input{BasePricePence: 333, Location: LocationRemote, PlatformFeePercent: 7.5})
	if b.PlatformFeePence != 25 {
		t.Errorf("platform fee = %d, want 25", b.PlatformFeePence)
	}
}

func TestCalculateIsPure(t *testing.T) {
	in := Input{
		BasePricePence:      7200,
		MaterialsPricePence: 1100,
		TravelPricePence:    450,
		MaterialsPolicy:     MaterialsEither,
		Location:            LocationClient,
		PlatformFeePercent:  12.5,
	}
	a := Calculate(in)
	b := Calculate(in)
	if a != b {
		t.Errorf("two calls with identical input differ: %+v vs %+v", a, b)
	}
}
