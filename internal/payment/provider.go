package payment

import (
	"context"
	"errors"
)

// ErrProviderUnavailable wraps provider transport failures after retries
// are exhausted or while the circuit is open.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

// Intent is a provider-side payment intent.
type Intent struct {
	ID           string
	ClientSecret string
}

// RefundResult is the provider's answer to a refund request.
type RefundResult struct {
	ID          string
	AmountPence int64
	Status      string
}

// TransferResult is the provider's answer to a payout transfer.
type TransferResult struct {
	ID string
}

// Provider abstracts the external payment provider. Refund and Transfer
// take an idempotency key: the same key with the same parameters must not
// move money twice even if we retry after a lost response.
type Provider interface {
	CreateIntent(ctx context.Context, amountPence int64, currency string, metadata map[string]string) (*Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
	Refund(ctx context.Context, intentID string, amountPence int64, reason, idempotencyKey string) (*RefundResult, error)
	Transfer(ctx context.Context, accountID string, amountPence int64, currency, idempotencyKey string) (*TransferResult, error)
	// IntentStatus returns the provider's authoritative view of an intent,
	// used by the reconciliation sweep.
	IntentStatus(ctx context.Context, intentID string) (string, error)
}
