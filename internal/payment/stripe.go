package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/taskvine/taskvine/internal/circuitbreaker"
	"github.com/taskvine/taskvine/internal/retry"
)

// Breaker operation keys, one circuit per call family so a refund outage
// does not block new checkouts.
const (
	opIntent   = "intent"
	opRefund   = "refund"
	opTransfer = "transfer"
)

// StripeProvider implements Provider against the Stripe API, with retry
// and a per-operation circuit breaker around every call.
type StripeProvider struct {
	sc      *client.API
	breaker *circuitbreaker.Breaker
}

// NewStripeProvider creates a Stripe-backed payment provider.
func NewStripeProvider(secretKey string) *StripeProvider {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeProvider{
		sc:      sc,
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

func (s *StripeProvider) CreateIntent(ctx context.Context, amountPence int64, currency string, metadata map[string]string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountPence),
		Currency: stripe.String(currency),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	var pi *stripe.PaymentIntent
	err := s.call(ctx, opIntent, func() error {
		var err error
		pi, err = s.sc.PaymentIntents.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (s *StripeProvider) CancelIntent(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	return s.call(ctx, opIntent, func() error {
		_, err := s.sc.PaymentIntents.Cancel(intentID, params)
		return err
	})
}

func (s *StripeProvider) Refund(ctx context.Context, intentID string, amountPence int64, reason, idempotencyKey string) (*RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(amountPence),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)
	if reason != "" {
		params.AddMetadata("reason", reason)
	}

	var r *stripe.Refund
	err := s.call(ctx, opRefund, func() error {
		var err error
		r, err = s.sc.Refunds.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &RefundResult{ID: r.ID, AmountPence: r.Amount, Status: string(r.Status)}, nil
}

func (s *StripeProvider) Transfer(ctx context.Context, accountID string, amountPence int64, currency, idempotencyKey string) (*TransferResult, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(amountPence),
		Currency:    stripe.String(currency),
		Destination: stripe.String(accountID),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	var tr *stripe.Transfer
	err := s.call(ctx, opTransfer, func() error {
		var err error
		tr, err = s.sc.Transfers.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &TransferResult{ID: tr.ID}, nil
}

func (s *StripeProvider) IntentStatus(ctx context.Context, intentID string) (string, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	var pi *stripe.PaymentIntent
	err := s.call(ctx, opIntent, func() error {
		var err error
		pi, err = s.sc.PaymentIntents.Get(intentID, params)
		return err
	})
	if err != nil {
		return "", err
	}
	return string(pi.Status), nil
}

// call wraps a Stripe request in the circuit breaker and a short retry.
// Card declines and invalid requests are permanent; transport and 5xx
// errors are retried and count against the circuit.
func (s *StripeProvider) call(ctx context.Context, op string, fn func() error) error {
	if !s.breaker.Allow(op) {
		return fmt.Errorf("%w: circuit open for %s", ErrProviderUnavailable, op)
	}

	err := retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		err := fn()
		if err == nil {
			return nil
		}
		var se *stripe.Error
		if errors.As(err, &se) {
			switch se.Type {
			case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest, stripe.ErrorTypeIdempotency:
				return retry.Permanent(err)
			}
		}
		return err
	})

	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && (se.Type == stripe.ErrorTypeCard || se.Type == stripe.ErrorTypeInvalidRequest) {
			// The provider answered; not an availability problem.
			s.breaker.RecordSuccess(op)
			return err
		}
		s.breaker.RecordFailure(op)
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	s.breaker.RecordSuccess(op)
	return nil
}
