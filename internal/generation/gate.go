// ABOUTME: Generation Gate: quota check, debit, upstream call, audit record
// ABOUTME: Debit is finalized before the upstream call; refund is opt-in

package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/densematrix/imageforge/internal/ledger"
	"github.com/densematrix/imageforge/internal/store"
)

// MaxPromptLength bounds accepted prompts, counted in characters.
const MaxPromptLength = 1000

// Validation and quota errors returned by Gate.Generate.
var (
	ErrEmptyPrompt    = errors.New("prompt must not be empty")
	ErrPromptTooLong  = errors.New("prompt too long")
	ErrUnknownStyle   = errors.New("unknown style preset")
	ErrQuotaExhausted = errors.New("no generations remaining")
)

// Request is a single generation attempt for a device.
type Request struct {
	DeviceID string
	Prompt   string
	Style    string
	// Token optionally names a paid token to prefer when debiting.
	Token string
}

// Result carries the generated image plus the post-debit entitlement view.
type Result struct {
	ImageURL    string
	Remaining   int
	IsFreeTrial bool
	// Err is the upstream failure when generation did not complete. The
	// debit outcome in Remaining is still accurate.
	Err error
}

// Gate admits generation requests against the device's entitlements.
type Gate struct {
	ledger          *ledger.Ledger
	provider        Provider
	generations     store.GenerationStore
	model           string
	refundOnFailure bool
	logger          *slog.Logger
}

// New creates a generation gate. When refundOnFailure is true, upstream
// failures credit the debit back; otherwise a failed generation still
// consumes one unit.
func New(led *ledger.Ledger, provider Provider, generations store.GenerationStore, model string, refundOnFailure bool, logger *slog.Logger) *Gate {
	return &Gate{
		ledger:          led,
		provider:        provider,
		generations:     generations,
		model:           model,
		refundOnFailure: refundOnFailure,
		logger:          logger.With("component", "generation"),
	}
}

// Generate validates the request, debits one generation and calls the
// upstream provider. The debit is committed before the upstream call, so a
// crash mid-generation never produces an un-billed image. Upstream failures
// are reported in Result.Err rather than the error return; the error return
// covers validation, quota and storage problems.
func (g *Gate) Generate(ctx context.Context, req Request) (*Result, error) {
	if req.Prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if n := utf8.RuneCountInString(req.Prompt); n > MaxPromptLength {
		return nil, fmt.Errorf("%w: %d characters (max %d)", ErrPromptTooLong, n, MaxPromptLength)
	}
	if !ValidStyle(req.Style) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStyle, req.Style)
	}

	debit, err := g.ledger.TryDebit(ctx, req.DeviceID, req.Token)
	if err != nil {
		if errors.Is(err, ledger.ErrExhausted) {
			return nil, ErrQuotaExhausted
		}
		return nil, fmt.Errorf("debiting quota: %w", err)
	}

	record := &store.Generation{
		ID:        uuid.New().String(),
		DeviceID:  req.DeviceID,
		Prompt:    req.Prompt,
		Style:     req.Style,
		Model:     g.model,
		Status:    store.GenerationStatusProcessing,
		CreatedAt: time.Now().UTC(),
	}
	if debit.Source == ledger.SourcePaidToken {
		record.TokenID = debit.Token.TokenID
	}
	if err := g.generations.SaveGeneration(ctx, record); err != nil {
		return nil, fmt.Errorf("recording generation: %w", err)
	}

	start := time.Now()
	imageURL, genErr := g.provider.Generate(ctx, req.Prompt, req.Style)

	result := &Result{
		Remaining:   debit.Remaining,
		IsFreeTrial: debit.Source == ledger.SourceFreeTrial,
	}

	if genErr != nil {
		g.logger.Warn("generation failed",
			"device_id", req.DeviceID,
			"style", req.Style,
			"error", genErr,
		)
		if err := g.generations.UpdateGenerationResult(ctx, record.ID, store.GenerationStatusFailed, "", genErr.Error()); err != nil {
			g.logger.Error("updating generation record failed", "id", record.ID, "error", err)
		}
		if g.refundOnFailure {
			if err := g.ledger.Refund(ctx, req.DeviceID, debit); err != nil {
				g.logger.Error("refund failed", "device_id", req.DeviceID, "error", err)
			} else {
				result.Remaining++
			}
		}
		result.Err = genErr
		return result, nil
	}

	if err := g.generations.UpdateGenerationResult(ctx, record.ID, store.GenerationStatusCompleted, imageURL, ""); err != nil {
		g.logger.Error("updating generation record failed", "id", record.ID, "error", err)
	}

	g.logger.Info("generated image",
		"device_id", req.DeviceID,
		"style", req.Style,
		"source", debit.Source,
		"duration", time.Since(start),
	)

	result.ImageURL = imageURL
	return result, nil
}
