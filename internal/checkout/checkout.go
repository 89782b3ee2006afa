// ABOUTME: Checkout Orchestrator mapping products to payment-provider sessions
// ABOUTME: Creates pending CheckoutSessions; no quota side effects

package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/densematrix/imageforge/internal/catalog"
	"github.com/densematrix/imageforge/internal/store"
)

// ErrProviderUnavailable is returned when the payment provider rejects or
// fails the session request. Callers may retry.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

// ProviderSession is a hosted checkout session returned by the provider.
type ProviderSession struct {
	ID  string
	URL string
}

// SessionParams describes the checkout session requested from the provider.
// DeviceID and ProductSKU travel as opaque metadata so the completion event
// carries them back.
type SessionParams struct {
	Product       catalog.Product
	DeviceID      string
	SuccessURL    string
	CustomerEmail string
}

// Provider creates hosted checkout sessions with the payment provider.
type Provider interface {
	CreateSession(ctx context.Context, params SessionParams) (*ProviderSession, error)
}

// Result is the outcome of Create: the provider's hosted URL plus the
// local session ID for later reconciliation.
type Result struct {
	CheckoutURL string
	SessionID   string
}

// Orchestrator validates purchase requests and records purchase intent.
type Orchestrator struct {
	catalog  *catalog.Catalog
	provider Provider
	sessions store.SessionStore
	logger   *slog.Logger
}

// New creates a checkout orchestrator.
func New(cat *catalog.Catalog, provider Provider, sessions store.SessionStore, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		catalog:  cat,
		provider: provider,
		sessions: sessions,
		logger:   logger.With("component", "checkout"),
	}
}

// Create validates the SKU, requests a hosted checkout session and records it
// locally as pending. Purchase intent only: no quota or token side effects.
// Returns catalog.ErrUnknownProduct for unknown SKUs and
// ErrProviderUnavailable when the provider call fails.
func (o *Orchestrator) Create(ctx context.Context, deviceID, productSKU, successURL, email string) (*Result, error) {
	product, err := o.catalog.Get(productSKU)
	if err != nil {
		return nil, err
	}

	providerSession, err := o.provider.CreateSession(ctx, SessionParams{
		Product:       product,
		DeviceID:      deviceID,
		SuccessURL:    successURL,
		CustomerEmail: email,
	})
	if err != nil {
		o.logger.Error("provider session creation failed", "error", err, "product_sku", productSKU)
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	session := &store.CheckoutSession{
		SessionID:  providerSession.ID,
		DeviceID:   deviceID,
		ProductSKU: productSKU,
		Status:     store.SessionStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.sessions.CreateSession(ctx, session); err != nil {
		// The provider session exists either way; surface the local failure
		// so the caller can retry with a fresh session.
		return nil, fmt.Errorf("recording checkout session: %w", err)
	}

	o.logger.Info("created checkout session",
		"session_id", providerSession.ID,
		"device_id", deviceID,
		"product_sku", productSKU,
	)

	return &Result{
		CheckoutURL: providerSession.URL,
		SessionID:   providerSession.ID,
	}, nil
}
