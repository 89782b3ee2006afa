// ABOUTME: Error normalization for the HTTP surface
// ABOUTME: Maps internal failures to one {error, code} shape; parses mixed detail payloads

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/densematrix/imageforge/internal/catalog"
	"github.com/densematrix/imageforge/internal/checkout"
	"github.com/densematrix/imageforge/internal/generation"
	"github.com/densematrix/imageforge/internal/store"
)

// Error codes present in every error response.
const (
	CodeValidation      = "validation_error"
	CodePaymentRequired = "payment_required"
	CodeUpstreamFailed  = "upstream_generation_failed"
	CodeCheckoutFailed  = "checkout_creation_failed"
	CodeNotFound        = "not_found"
	CodeInternal        = "internal_error"
)

// APIError is the single error shape every failure maps to.
type APIError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// errordetail wraps an APIError the way clients receive it.
type errorDetail struct {
	Detail APIError `json:"detail"`
}

// classify maps an internal error to status and normalized shape.
func classify(err error) (int, APIError) {
	switch {
	case errors.Is(err, generation.ErrEmptyPrompt),
		errors.Is(err, generation.ErrPromptTooLong),
		errors.Is(err, generation.ErrUnknownStyle):
		return http.StatusBadRequest, APIError{Error: err.Error(), Code: CodeValidation}
	case errors.Is(err, generation.ErrQuotaExhausted):
		return http.StatusPaymentRequired, APIError{
			Error: "Free trial exhausted. Please purchase a pack to continue.",
			Code:  CodePaymentRequired,
		}
	case errors.Is(err, catalog.ErrUnknownProduct):
		return http.StatusBadRequest, APIError{Error: err.Error(), Code: CodeValidation}
	case errors.Is(err, checkout.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, APIError{Error: err.Error(), Code: CodeCheckoutFailed}
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, APIError{Error: "not found", Code: CodeNotFound}
	default:
		return http.StatusInternalServerError, APIError{Error: "internal error", Code: CodeInternal}
	}
}

// NormalizeDetail extracts a human-readable message from a `detail` payload
// that may be a plain string or an object carrying `error` or `message`
// sub-fields. It never returns a stringified object; unrecognizable shapes
// collapse to the provided fallback.
func NormalizeDetail(raw json.RawMessage, fallback string) string {
	if len(raw) == 0 {
		return fallback
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return fallback
		}
		return s
	}

	var obj struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Error != "" {
			return obj.Error
		}
		if obj.Message != "" {
			return obj.Message
		}
	}
	return fallback
}
