// ABOUTME: Bounded polling for post-checkout fulfillment
// ABOUTME: Fixed initial delay, capped attempts, explicit pending error

package client

import (
	"context"
	"errors"
	"time"

	"github.com/densematrix/imageforge/internal/httpapi"
)

// ErrFulfillmentPending is returned when polling gives up before the
// purchased token appeared. The purchase may still land later; callers
// should surface a "still processing" state rather than a hard failure.
var ErrFulfillmentPending = errors.New("fulfillment still pending")

// PollOptions tunes WaitForFulfillment.
type PollOptions struct {
	// InitialDelay is how long to wait before the first check, giving the
	// provider's webhook a head start.
	InitialDelay time.Duration
	// Interval separates subsequent checks.
	Interval time.Duration
	// MaxAttempts bounds the number of checks.
	MaxAttempts int
}

// DefaultPollOptions matches typical webhook latency: first check after two
// seconds, then every two seconds, giving up after ten checks.
func DefaultPollOptions() PollOptions {
	return PollOptions{
		InitialDelay: 2 * time.Second,
		Interval:     2 * time.Second,
		MaxAttempts:  10,
	}
}

// WaitForFulfillment polls the device's tokens until at least one more than
// baseline is present. Pass baseline 0 for a first purchase, or the token
// count observed before checkout for repeat purchases. Returns
// ErrFulfillmentPending after MaxAttempts; context cancellation aborts the
// wait early.
func (c *APIClient) WaitForFulfillment(ctx context.Context, deviceID string, baseline int, opts PollOptions) (*httpapi.TokenListResponse, error) {
	if opts.MaxAttempts <= 0 {
		opts = DefaultPollOptions()
	}

	if err := sleepCtx(ctx, opts.InitialDelay); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, opts.Interval); err != nil {
				return nil, err
			}
		}

		tokens, err := c.TokensByDevice(ctx, deviceID)
		if err != nil {
			// Transient API failures count as an attempt but keep polling.
			continue
		}
		if len(tokens.Tokens) > baseline {
			return tokens, nil
		}
	}

	return nil, ErrFulfillmentPending
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
