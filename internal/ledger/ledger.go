// ABOUTME: Quota Ledger service for per-device entitlement accounting
// ABOUTME: Free-first debits, earliest-expiry token draining, idempotent grants

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/densematrix/imageforge/internal/store"
)

// ErrExhausted is returned by TryDebit when neither free nor paid quota
// has remaining units for the device.
var ErrExhausted = errors.New("quota exhausted")

// DebitSource identifies which entitlement pool a debit consumed.
type DebitSource string

const (
	SourceFreeTrial DebitSource = "free_trial"
	SourcePaidToken DebitSource = "paid_token"
)

// DebitResult describes a successful debit.
type DebitResult struct {
	Source DebitSource
	// Token is set when Source is SourcePaidToken.
	Token *store.Token
	// Remaining is the unit count left in the debited pool after the debit.
	Remaining int
}

// Remaining is the per-device entitlement summary returned by GetRemaining.
type Remaining struct {
	FreeRemaining  int
	PaidRemaining  int
	TotalRemaining int
}

// Ledger is the per-device quota ledger. All entitlement reads and mutations
// go through it; atomicity lives in the store's guarded updates.
type Ledger struct {
	store     store.QuotaStore
	freeLimit int
	logger    *slog.Logger
}

// New creates a quota ledger with the given free tier limit.
func New(s store.QuotaStore, freeLimit int, logger *slog.Logger) *Ledger {
	return &Ledger{
		store:     s,
		freeLimit: freeLimit,
		logger:    logger.With("component", "ledger"),
	}
}

// FreeLimit returns the configured free tier limit.
func (l *Ledger) FreeLimit() int {
	return l.freeLimit
}

// GetRemaining returns the entitlement summary for a device. Read-only apart
// from lazily creating the free trial record on first sight of the device.
func (l *Ledger) GetRemaining(ctx context.Context, deviceID string) (*Remaining, error) {
	usage, err := l.store.EnsureFreeTrial(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("loading free trial: %w", err)
	}

	freeRemaining := l.freeLimit - usage.UsedCount
	if freeRemaining < 0 {
		freeRemaining = 0
	}

	tokens, err := l.store.ListActiveTokens(ctx, deviceID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}

	paidRemaining := 0
	for _, t := range tokens {
		paidRemaining += t.RemainingGenerations
	}

	return &Remaining{
		FreeRemaining:  freeRemaining,
		PaidRemaining:  paidRemaining,
		TotalRemaining: freeRemaining + paidRemaining,
	}, nil
}

// TryDebit atomically consumes one unit of entitlement for the device,
// preferring free quota, then paid tokens ordered by earliest expiry.
// preferredToken, when non-empty, is tried first among paid tokens.
// Returns ErrExhausted when nothing is left to consume.
func (l *Ledger) TryDebit(ctx context.Context, deviceID, preferredToken string) (*DebitResult, error) {
	if _, err := l.store.EnsureFreeTrial(ctx, deviceID); err != nil {
		return nil, fmt.Errorf("loading free trial: %w", err)
	}

	used, ok, err := l.store.DebitFreeTrial(ctx, deviceID, l.freeLimit)
	if err != nil {
		return nil, fmt.Errorf("debiting free trial: %w", err)
	}
	if ok {
		return &DebitResult{
			Source:    SourceFreeTrial,
			Remaining: l.freeLimit - used,
		}, nil
	}

	now := time.Now()

	if preferredToken != "" {
		token, err := l.store.GetToken(ctx, preferredToken)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("loading preferred token: %w", err)
		}
		// Only honor the preference for the requesting device
		if err == nil && token.DeviceID == deviceID {
			if result, ok, err := l.debitOne(ctx, token, now); err != nil {
				return nil, err
			} else if ok {
				return result, nil
			}
		}
	}

	tokens, err := l.store.ListActiveTokens(ctx, deviceID, now)
	if err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}

	// A token may drain between listing and debit; the guarded update
	// rejects it and the loop moves to the next candidate.
	for _, token := range tokens {
		if result, ok, err := l.debitOne(ctx, token, now); err != nil {
			return nil, err
		} else if ok {
			return result, nil
		}
	}

	return nil, ErrExhausted
}

func (l *Ledger) debitOne(ctx context.Context, token *store.Token, now time.Time) (*DebitResult, bool, error) {
	remaining, ok, err := l.store.DebitToken(ctx, token.TokenID, now)
	if err != nil {
		return nil, false, fmt.Errorf("debiting token %s: %w", token.TokenID, err)
	}
	if !ok {
		return nil, false, nil
	}

	debited := *token
	debited.RemainingGenerations = remaining
	return &DebitResult{
		Source:    SourcePaidToken,
		Token:     &debited,
		Remaining: remaining,
	}, true, nil
}

// Refund returns one unit to the pool a previous debit consumed. Only called
// when the refund-on-failure policy is enabled.
func (l *Ledger) Refund(ctx context.Context, deviceID string, result *DebitResult) error {
	switch result.Source {
	case SourceFreeTrial:
		if err := l.store.CreditFreeTrial(ctx, deviceID); err != nil {
			return fmt.Errorf("refunding free trial: %w", err)
		}
	case SourcePaidToken:
		if err := l.store.CreditToken(ctx, result.Token.TokenID); err != nil {
			return fmt.Errorf("refunding token: %w", err)
		}
	default:
		return fmt.Errorf("unknown debit source %q", result.Source)
	}

	l.logger.Info("refunded debit", "device_id", deviceID, "source", result.Source)
	return nil
}

// Grant creates a token for a completed checkout session. Idempotent: a
// second grant for the same sourceSessionID returns the existing token
// unchanged, with created=false.
func (l *Ledger) Grant(ctx context.Context, deviceID, productSKU string, totalGenerations int, sourceSessionID string, expiresAt time.Time) (*store.Token, bool, error) {
	token := &store.Token{
		TokenID:              uuid.New().String(),
		DeviceID:             deviceID,
		ProductSKU:           productSKU,
		TotalGenerations:     totalGenerations,
		RemainingGenerations: totalGenerations,
		ExpiresAt:            expiresAt,
		SourceSessionID:      sourceSessionID,
		CreatedAt:            time.Now().UTC(),
	}

	granted, created, err := l.store.CreateToken(ctx, token)
	if err != nil {
		return nil, false, fmt.Errorf("granting token: %w", err)
	}

	if created {
		l.logger.Info("granted token",
			"device_id", deviceID,
			"product_sku", productSKU,
			"generations", totalGenerations,
			"session_id", sourceSessionID,
		)
	} else {
		l.logger.Debug("grant already applied", "session_id", sourceSessionID)
	}

	return granted, created, nil
}

// ListTokens returns the active tokens for a device, earliest expiry first.
func (l *Ledger) ListTokens(ctx context.Context, deviceID string) ([]*store.Token, error) {
	return l.store.ListActiveTokens(ctx, deviceID, time.Now())
}
