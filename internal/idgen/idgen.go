// Package idgen provides cryptographically random ID generation.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

// Domain prefixes used across the platform.
const (
	BookingPrefix = "bk_"
	ServicePrefix = "svc_"
	PaymentPrefix = "pay_"
	PayoutPrefix  = "po_"
	DisputePrefix = "dsp_"
	EventPrefix   = "evt_"
	AuditPrefix   = "aud_"
)

// WithPrefix generates a random ID with a prefix (e.g. "bk_", "pay_").
// Result is prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
