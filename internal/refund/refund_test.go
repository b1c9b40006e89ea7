package refund

import (
	"testing"
	"time"
)

var testPolicy = Policy{
	FreeCancelHours:      48,
	PartialRefundHours:   24,
	PartialRefundPercent: 50,
}

func at(hoursBefore float64) (start, cancelled time.Time) {
	start = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	cancelled = start.Add(-time.Duration(hoursBefore * float64(time.Hour)))
	return
}

func TestFreelancerAlwaysFullRefund(t *testing.T) {
	for _, hours := range []float64{100, 48, 24, 10, 1, 0, -2} {
		start, cancelled := at(hours)
		d := Evaluate(10000, start, cancelled, RoleFreelancer, testPolicy)
		if d.Percent != 100 {
			t.Errorf("freelancer cancel at %vh: percent = %v, want 100", hours, d.Percent)
		}
		if d.AmountPence != 10000 {
			t.Errorf("freelancer cancel at %vh: amount = %d, want 10000", hours, d.AmountPence)
		}
	}
}

func TestClientTiers(t *testing.T) {
	tests := []struct {
		hours       float64
		wantPercent float64
		wantAmount  int64
	}{
		{72, 100, 10000},
		{48, 100, 10000}, // boundary: inclusive
		{47.999, 50, 5000},
		{30, 50, 5000},
		{24, 50, 5000}, // boundary: inclusive
		{23.999, 0, 0},
		{10, 0, 0},
		{0, 0, 0},
	}

	for _, tt := range tests {
		start, cancelled := at(tt.hours)
		d := Evaluate(10000, start, cancelled, RoleClient, testPolicy)
		if d.Percent != tt.wantPercent {
			t.Errorf("client cancel at %vh: percent = %v, want %v", tt.hours, d.Percent, tt.wantPercent)
		}
		if d.AmountPence != tt.wantAmount {
			t.Errorf("client cancel at %vh: amount = %d, want %d", tt.hours, d.AmountPence, tt.wantAmount)
		}
	}
}

func TestTenHoursBeforeIsZero(t *testing.T) {
	start, cancelled := at(10)
	d := Evaluate(10000, start, cancelled, RoleClient, testPolicy)
	if d.Percent != 0 {
		t.Errorf("percent = %v, want 0", d.Percent)
	}
	if d.HoursBeforeService < 9.99 || d.HoursBeforeService > 10.01 {
		t.Errorf("hoursBeforeService = %v, want ~10", d.HoursBeforeService)
	}
}

func TestPartialAmountRounds(t *testing.T) {
	start, cancelled := at(30)
	// 50% of 3333 = 1666.5 → rounds to 1667
	d := Evaluate(3333, start, cancelled, RoleClient, testPolicy)
	if d.AmountPence != 1667 {
		t.Errorf("amount = %d, want 1667", d.AmountPence)
	}
}
