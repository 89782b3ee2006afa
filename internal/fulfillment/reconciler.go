// ABOUTME: Fulfillment Reconciler converting completed payments into tokens
// ABOUTME: Idempotent grants keyed by checkout session ID

package fulfillment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/densematrix/imageforge/internal/catalog"
	"github.com/densematrix/imageforge/internal/ledger"
	"github.com/densematrix/imageforge/internal/store"
)

// Reconciler converts completed payment events into generation tokens and
// keeps checkout sessions consistent with what the payment provider reports.
type Reconciler struct {
	catalog       *catalog.Catalog
	ledger        *ledger.Ledger
	store         store.Store
	tokenValidity time.Duration
	logger        *slog.Logger
}

// New creates a fulfillment reconciler. tokenValidity controls how long
// granted tokens remain usable.
func New(cat *catalog.Catalog, led *ledger.Ledger, st store.Store, tokenValidity time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		catalog:       cat,
		ledger:        led,
		store:         st,
		tokenValidity: tokenValidity,
		logger:        logger.With("component", "fulfillment"),
	}
}

// OnPaymentCompleted handles a completed-payment event for the given checkout
// session. It grants the purchased token and marks the session completed.
// Safe to call multiple times for the same session: duplicate events produce
// no additional tokens.
//
// If no local session row exists (the intent write was lost or the event
// raced ahead of it), a completed session is recorded from the event's
// metadata so the grant still lands.
func (r *Reconciler) OnPaymentCompleted(ctx context.Context, sessionID, deviceID, productSKU string) (*store.Token, error) {
	session, err := r.store.GetSession(ctx, sessionID)
	switch {
	case err == store.ErrNotFound:
		r.logger.Warn("payment completed for unknown session, recording from event",
			"session_id", sessionID, "device_id", deviceID)
		session = &store.CheckoutSession{
			SessionID:  sessionID,
			DeviceID:   deviceID,
			ProductSKU: productSKU,
			Status:     store.SessionStatusPending,
			CreatedAt:  time.Now().UTC(),
		}
		if err := r.store.CreateSession(ctx, session); err != nil && err != store.ErrDuplicateSession {
			return nil, fmt.Errorf("recording session from event: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("loading session: %w", err)
	default:
		// The local row is authoritative for device and product; event
		// metadata fills gaps only when the row was missing.
		deviceID = session.DeviceID
		productSKU = session.ProductSKU
	}

	product, err := r.catalog.Get(productSKU)
	if err != nil {
		return nil, fmt.Errorf("resolving product %q: %w", productSKU, err)
	}

	expiresAt := time.Now().UTC().Add(r.tokenValidity)
	token, created, err := r.ledger.Grant(ctx, deviceID, product.SKU, product.Generations, sessionID, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("granting token: %w", err)
	}

	if err := r.store.CompleteSession(ctx, sessionID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("completing session: %w", err)
	}

	if created {
		r.logger.Info("fulfilled payment",
			"session_id", sessionID,
			"device_id", deviceID,
			"product_sku", product.SKU,
			"generations", product.Generations,
		)
	} else {
		r.logger.Info("duplicate payment event ignored", "session_id", sessionID)
	}

	return token, nil
}

// TokenBySession returns the token granted for a checkout session, or
// store.ErrNotFound if fulfillment has not happened yet. Clients poll this
// after returning from the hosted checkout page.
func (r *Reconciler) TokenBySession(ctx context.Context, sessionID string) (*store.Token, error) {
	return r.store.GetTokenBySession(ctx, sessionID)
}

// ExpireStaleSessions marks pending sessions older than maxAge as expired.
// Run periodically; expired sessions can no longer be fulfilled locally,
// though a late provider event still lands via OnPaymentCompleted's
// missing-row path.
func (r *Reconciler) ExpireStaleSessions(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	n, err := r.store.ExpirePendingSessions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expiring sessions: %w", err)
	}
	if n > 0 {
		r.logger.Info("expired stale checkout sessions", "count", n)
	}
	return n, nil
}
