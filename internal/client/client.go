// ABOUTME: HTTP client for the imageforge API
// ABOUTME: Normalizes heterogeneous error detail payloads into plain messages

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/densematrix/imageforge/internal/httpapi"
)

// APIClient talks to the imageforge HTTP API.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIClient creates a client for the API at baseURL. timeout bounds each
// request; generation requests can take as long as the upstream provider.
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	return &APIClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Generate requests an image for the prompt. token optionally names a paid
// token to prefer.
func (c *APIClient) Generate(ctx context.Context, deviceID, prompt, style, token string) (*httpapi.GenerateResponse, error) {
	var out httpapi.GenerateResponse
	err := c.post(ctx, "/api/v1/generate", httpapi.GenerateRequest{
		Prompt:   prompt,
		Style:    style,
		DeviceID: deviceID,
		Token:    token,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUsage returns the device's remaining entitlements.
func (c *APIClient) GetUsage(ctx context.Context, deviceID string) (*httpapi.UsageResponse, error) {
	var out httpapi.UsageResponse
	if err := c.get(ctx, "/api/v1/usage/"+url.PathEscape(deviceID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProducts returns the purchasable catalog.
func (c *APIClient) GetProducts(ctx context.Context) ([]httpapi.ProductResponse, error) {
	var out []httpapi.ProductResponse
	if err := c.get(ctx, "/api/v1/payment/products", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateCheckout starts a purchase and returns the hosted checkout URL.
func (c *APIClient) CreateCheckout(ctx context.Context, deviceID, productSKU, successURL, email string) (*httpapi.CreateCheckoutResponse, error) {
	var out httpapi.CreateCheckoutResponse
	err := c.post(ctx, "/api/v1/payment/create-checkout", httpapi.CreateCheckoutRequest{
		ProductSKU: productSKU,
		DeviceID:   deviceID,
		SuccessURL: successURL,
		Email:      email,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// TokensByDevice returns the device's granted tokens.
func (c *APIClient) TokensByDevice(ctx context.Context, deviceID string) (*httpapi.TokenListResponse, error) {
	var out httpapi.TokenListResponse
	if err := c.get(ctx, "/api/v1/tokens/by-device/"+url.PathEscape(deviceID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *APIClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	return c.do(req, out)
}

func (c *APIClient) post(ctx context.Context, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *APIClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.asAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// RequestError is a non-2xx API response reduced to a plain message.
type RequestError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *RequestError) Error() string {
	return e.Message
}

// asAPIError extracts a readable message from an error response. The detail
// field can be a plain string or an object with error/message sub-fields,
// depending on which layer produced it.
func (c *APIClient) asAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))

	fallback := fmt.Sprintf("request failed with status %d", resp.StatusCode)

	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &RequestError{StatusCode: resp.StatusCode, Message: fallback}
	}

	var code string
	var detailObj struct {
		Code string `json:"code"`
	}
	if json.Unmarshal(envelope.Detail, &detailObj) == nil {
		code = detailObj.Code
	}

	return &RequestError{
		StatusCode: resp.StatusCode,
		Message:    httpapi.NormalizeDetail(envelope.Detail, fallback),
		Code:       code,
	}
}
