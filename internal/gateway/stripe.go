package gateway

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"

	"tidepay/internal/config"
)

// StripeGateway initiates card deposits through Stripe PaymentIntents.
type StripeGateway struct {
	api *client.API
}

// NewStripeGateway builds a Stripe client from config.
func NewStripeGateway(cfg config.GatewayConfig) *StripeGateway {
	api := &client.API{}
	api.Init(cfg.APIKey, nil)
	return &StripeGateway{api: api}
}

func (g *StripeGateway) Name() string { return "stripe" }

// InitiateDeposit creates and confirms a PaymentIntent. The caller's
// idempotency key is forwarded so a retried initiation never double-charges.
func (g *StripeGateway) InitiateDeposit(ctx context.Context, req InitiationRequest) (*InitiationResult, error) {
	return withRetry(ctx, func() (*InitiationResult, error) {
		params := &stripe.PaymentIntentParams{
			Amount:      stripe.Int64(toMinorUnits(req.Amount)),
			Currency:    stripe.String(req.Currency),
			Description: stripe.String(req.Description),
			Confirm:     stripe.Bool(true),
		}
		params.Context = ctx
		if req.PaymentToken != "" {
			params.PaymentMethod = stripe.String(req.PaymentToken)
		}
		if req.IdempotencyKey != "" {
			params.SetIdempotencyKey(req.IdempotencyKey)
		}
		params.AddMetadata("reference_code", req.ReferenceCode)

		intent, err := g.api.PaymentIntents.New(params)
		if err != nil {
			return nil, classifyStripeError(err)
		}

		return &InitiationResult{
			TransactionID: intent.ID,
			SessionURL:    checkoutURL(intent),
			AutoComplete:  intent.Status == stripe.PaymentIntentStatusSucceeded,
			Raw: map[string]interface{}{
				"status": string(intent.Status),
			},
		}, nil
	})
}

func classifyStripeError(err error) error {
	if stripeErr, ok := err.(*stripe.Error); ok {
		// Card declines and bad requests are terminal; provider-side
		// failures are worth a retry under the same idempotency key.
		if stripeErr.HTTPStatusCode >= 500 {
			return retryable(fmt.Errorf("%w: %s", ErrInitiation, stripeErr.Msg))
		}
		return fmt.Errorf("%w: %s", ErrInitiation, stripeErr.Msg)
	}
	return retryable(fmt.Errorf("%w: %v", ErrInitiation, err))
}

func checkoutURL(intent *stripe.PaymentIntent) string {
	if intent.NextAction != nil && intent.NextAction.RedirectToURL != nil {
		return intent.NextAction.RedirectToURL.URL
	}
	return ""
}

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).IntPart()
}
