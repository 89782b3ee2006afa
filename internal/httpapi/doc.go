// ABOUTME: Package documentation for the HTTP API
// ABOUTME: Covers routes and the error contract

// Package httpapi exposes the public JSON API.
//
// # Routes
//
//	POST /api/v1/generate                      generate an image
//	GET  /api/v1/usage/{device_id}             remaining entitlements
//	GET  /api/v1/payment/products              product catalog
//	POST /api/v1/payment/create-checkout       start a purchase
//	POST /api/v1/payment/webhook               provider completion events
//	GET  /api/v1/tokens/by-device/{device_id}  tokens for polling reconciliation
//	GET  /health                               liveness probe
//	GET  /metrics                              Prometheus metrics (optional)
//
// # Errors
//
// Every failure is serialized as {"detail": {"error": string, "code": enum}}.
// Exhausted quota maps to HTTP 402 with code "payment_required". Upstream
// generation failures after a committed debit return 200 with success=false
// so the client still receives the updated remaining count.
package httpapi
