// Package refund computes cancellation refunds.
//
// Freelancer-initiated cancellations always refund 100%; the freelancer
// absorbs the loss regardless of timing. Client cancellations are tiered by
// hours remaining before the scheduled start, against admin-configurable
// thresholds. Tier bounds are inclusive on the lower edge: a cancellation
// exactly at the free-cancel threshold still refunds in full.
package refund

import (
	"math"
	"time"
)

// Role identifies the cancelling party.
type Role string

const (
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
	RoleAdmin      Role = "admin"
)

// Policy holds the refund tier thresholds.
type Policy struct {
	FreeCancelHours      float64 // >= this: 100%
	PartialRefundHours   float64 // >= this (and < FreeCancelHours): PartialRefundPercent
	PartialRefundPercent float64 // 0-100
}

// Decision is the computed refund outcome.
type Decision struct {
	Percent            float64 `json:"percent"`
	AmountPence        int64   `json:"amountPence"`
	HoursBeforeService float64 `json:"hoursBeforeService"`
}

// Evaluate computes the refund for a cancellation.
// amountPence is the refundable amount remaining on the payment.
func Evaluate(amountPence int64, scheduledStart, cancelledAt time.Time, role Role, p Policy) Decision {
	hours := scheduledStart.Sub(cancelledAt).Hours()

	d := Decision{HoursBeforeService: hours}

	switch {
	case role == RoleFreelancer:
		d.Percent = 100
	case hours >= p.FreeCancelHours:
		d.Percent = 100
	case hours >= p.PartialRefundHours:
		d.Percent = p.PartialRefundPercent
	default:
		d.Percent = 0
	}

	d.AmountPence = int64(math.Round(float64(amountPence) * d.Percent / 100))
	return d
}
