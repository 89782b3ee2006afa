// ABOUTME: Stripe implementation of the checkout Provider interface
// ABOUTME: One-time payment sessions with device/product metadata

package checkout

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
)

// StripeProvider creates Stripe Checkout sessions in payment mode.
type StripeProvider struct {
	apiKey string
}

// NewStripeProvider configures the Stripe client with the given secret key.
func NewStripeProvider(apiKey string) *StripeProvider {
	stripe.Key = apiKey
	return &StripeProvider{apiKey: apiKey}
}

// CreateSession creates a one-time payment Checkout session. DeviceID and
// ProductSKU are attached as session metadata so the completed webhook event
// carries them back for fulfillment.
func (p *StripeProvider) CreateSession(ctx context.Context, params SessionParams) (*ProviderSession, error) {
	lineItem := &stripe.CheckoutSessionLineItemParams{
		Quantity: stripe.Int64(1),
	}
	if params.Product.StripePriceID != "" {
		lineItem.Price = stripe.String(params.Product.StripePriceID)
	} else {
		lineItem.PriceData = &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency: stripe.String(string(stripe.CurrencyUSD)),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(params.Product.Name),
			},
			UnitAmount: stripe.Int64(int64(params.Product.PriceCents)),
		}
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:  []*stripe.CheckoutSessionLineItemParams{lineItem},
		SuccessURL: stripe.String(params.SuccessURL),
		Metadata: map[string]string{
			"device_id":   params.DeviceID,
			"product_sku": params.Product.SKU,
		},
	}
	if params.CustomerEmail != "" {
		sessionParams.CustomerEmail = stripe.String(params.CustomerEmail)
	}
	sessionParams.Context = ctx

	s, err := session.New(sessionParams)
	if err != nil {
		return nil, fmt.Errorf("creating stripe session: %w", err)
	}

	return &ProviderSession{ID: s.ID, URL: s.URL}, nil
}
