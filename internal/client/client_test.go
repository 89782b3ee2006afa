// ABOUTME: Tests for the API client
// ABOUTME: Covers error detail normalization and request shaping

package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/densematrix/imageforge/internal/httpapi"
)

func TestAPIClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/generate", r.URL.Path)

		var req httpapi.GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "device-1", req.DeviceID)
		assert.Equal(t, "anime", req.Style)

		json.NewEncoder(w).Encode(httpapi.GenerateResponse{
			Success:              true,
			ImageURL:             "https://img.example/1.png",
			RemainingGenerations: 2,
			IsFreeTrial:          true,
		})
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL, 5*time.Second)
	resp, err := c.Generate(context.Background(), "device-1", "a cat", "anime", "")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.RemainingGenerations)
}

func TestAPIClient_ErrorDetail_String(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"detail": "prompt must not be empty"})
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL, 5*time.Second)
	_, err := c.Generate(context.Background(), "device-1", "", "", "")
	require.Error(t, err)

	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, http.StatusBadRequest, reqErr.StatusCode)
	assert.Equal(t, "prompt must not be empty", reqErr.Message)
}

func TestAPIClient_ErrorDetail_Object(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(map[string]any{
			"detail": map[string]string{"error": "No tokens remaining", "code": "payment_required"},
		})
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL, 5*time.Second)
	_, err := c.Generate(context.Background(), "device-1", "p", "", "")
	require.Error(t, err)

	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, "No tokens remaining", reqErr.Message)
	assert.Equal(t, "payment_required", reqErr.Code)
	// The message is never a serialized object.
	assert.NotContains(t, reqErr.Message, "{")
	assert.NotContains(t, reqErr.Message, "object")
}

func TestAPIClient_ErrorDetail_Garbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("<html>gateway error</html>"))
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL, 5*time.Second)
	_, err := c.GetUsage(context.Background(), "device-1")
	require.Error(t, err)

	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Contains(t, reqErr.Message, "status 500")
}

func TestAPIClient_GetProducts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/payment/products", r.URL.Path)
		json.NewEncoder(w).Encode([]httpapi.ProductResponse{
			{SKU: "starter_10", Name: "Starter Pack", PriceCents: 299, Generations: 10},
		})
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL, 5*time.Second)
	products, err := c.GetProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "starter_10", products[0].SKU)
}

func TestAPIClient_TokensByDevice_EscapesPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		json.NewEncoder(w).Encode(httpapi.TokenListResponse{})
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL, 5*time.Second)
	_, err := c.TokensByDevice(context.Background(), "device/../1")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/tokens/by-device/device%2F..%2F1", gotPath)
}
