// ABOUTME: Package documentation for the checkout orchestrator
// ABOUTME: Covers session lifecycle and the provider abstraction

// Package checkout turns product purchases into hosted payment-provider
// checkout sessions.
//
// # Flow
//
// Create validates the requested SKU against the catalog, asks the Provider
// for a hosted session, and records a pending CheckoutSession locally. The
// local row records purchase intent only; tokens are granted later by the
// fulfillment package when the provider reports completion.
//
// # Providers
//
// Provider is a small interface so tests can substitute a fake. The
// production implementation is StripeProvider, which creates one-time
// payment Checkout sessions and attaches the device ID and product SKU as
// session metadata so completion events can be reconciled without extra
// lookups.
package checkout
