// ABOUTME: Package documentation for the API client
// ABOUTME: Covers identity resolution and fulfillment polling

// Package client is a Go client for the imageforge HTTP API.
//
// Device identity is resolved through an injectable IdentityProvider and
// cached on disk, so a device keeps one identity across runs even when the
// provider fails; a random "fallback_" ID is minted as a last resort.
//
// After checkout, WaitForFulfillment polls the token list with a bounded
// number of attempts. Webhook delivery latency means an empty list right
// after redirect is normal, not a failure; only exhausting the attempts
// yields ErrFulfillmentPending.
package client
