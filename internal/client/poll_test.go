// ABOUTME: Tests for bounded fulfillment polling
// ABOUTME: Covers the pending window, give-up behavior and cancellation

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/densematrix/imageforge/internal/httpapi"
)

// tokenServer serves an empty token list until readyAfter requests have
// been seen.
func tokenServer(readyAfter int32) (*httptest.Server, *int32) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		resp := httpapi.TokenListResponse{}
		if n > readyAfter {
			resp.Tokens = []httpapi.TokenResponse{{
				Token:                "tok-1",
				RemainingGenerations: 10,
				TotalGenerations:     10,
				ProductSKU:           "starter_10",
			}}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	return srv, &requests
}

func fastPoll(maxAttempts int) PollOptions {
	return PollOptions{
		InitialDelay: time.Millisecond,
		Interval:     time.Millisecond,
		MaxAttempts:  maxAttempts,
	}
}

func TestWaitForFulfillment_TokenAppears(t *testing.T) {
	srv, _ := tokenServer(2)
	defer srv.Close()

	c := NewAPIClient(srv.URL, time.Second)
	tokens, err := c.WaitForFulfillment(context.Background(), "device-1", 0, fastPoll(10))
	require.NoError(t, err)
	require.Len(t, tokens.Tokens, 1)
	assert.Equal(t, "tok-1", tokens.Tokens[0].Token)
}

func TestWaitForFulfillment_GivesUp(t *testing.T) {
	srv, requests := tokenServer(1000)
	defer srv.Close()

	c := NewAPIClient(srv.URL, time.Second)
	_, err := c.WaitForFulfillment(context.Background(), "device-1", 0, fastPoll(4))
	assert.ErrorIs(t, err, ErrFulfillmentPending)
	assert.Equal(t, int32(4), atomic.LoadInt32(requests), "attempts are bounded")
}

func TestWaitForFulfillment_Baseline(t *testing.T) {
	// One token is always present; with baseline 1 the poll keeps waiting
	// for a second one and gives up.
	srv, _ := tokenServer(0)
	defer srv.Close()

	c := NewAPIClient(srv.URL, time.Second)

	tokens, err := c.WaitForFulfillment(context.Background(), "device-1", 0, fastPoll(3))
	require.NoError(t, err)
	require.Len(t, tokens.Tokens, 1)

	_, err = c.WaitForFulfillment(context.Background(), "device-1", 1, fastPoll(3))
	assert.ErrorIs(t, err, ErrFulfillmentPending)
}

func TestWaitForFulfillment_ContextCanceled(t *testing.T) {
	srv, _ := tokenServer(1000)
	defer srv.Close()

	c := NewAPIClient(srv.URL, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.WaitForFulfillment(ctx, "device-1", 0, PollOptions{
		InitialDelay: time.Minute,
		Interval:     time.Minute,
		MaxAttempts:  3,
	})
	assert.ErrorIs(t, err, context.Canceled)
}
