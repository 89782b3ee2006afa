// ABOUTME: Package documentation for the generation gate and provider
// ABOUTME: Covers debit ordering and failure accounting

// Package generation admits image-generation requests against a device's
// entitlements and calls the upstream image provider.
//
// # Gate
//
// Gate.Generate validates the prompt and style, debits exactly one
// generation through the ledger, records an audit row, then calls the
// provider. The debit commits before the upstream call: a crash or timeout
// mid-generation can cost the user a unit but can never hand out an
// un-billed image. When configured, upstream failures refund the debit.
//
// # Provider
//
// HTTPProvider talks to an OpenAI-compatible /v1/images/generations
// endpoint. Style presets append a fixed suffix to the prompt before it is
// sent upstream.
package generation
