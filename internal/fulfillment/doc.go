// ABOUTME: Package documentation for payment fulfillment
// ABOUTME: Covers idempotency and the reconciliation paths

// Package fulfillment converts completed payments into generation tokens.
//
// Fulfillment is driven by payment-provider events. OnPaymentCompleted is
// the single entry point: it resolves the session, grants the purchased
// token through the ledger and marks the session completed. The grant is
// keyed on the checkout session ID, so replayed or duplicated events are
// absorbed without minting extra tokens.
//
// Clients that return from the hosted checkout page before the event has
// been processed poll TokenBySession until the token appears.
//
// ExpireStaleSessions sweeps abandoned pending sessions so they do not
// accumulate. A provider event that arrives after local expiry is still
// honored.
package fulfillment
