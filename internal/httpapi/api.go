// ABOUTME: HTTP API server for generation, usage, checkout and webhooks
// ABOUTME: JSON endpoints under /api/v1 plus health and metrics

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/densematrix/imageforge/internal/catalog"
	"github.com/densematrix/imageforge/internal/checkout"
	"github.com/densematrix/imageforge/internal/fulfillment"
	"github.com/densematrix/imageforge/internal/generation"
	"github.com/densematrix/imageforge/internal/ledger"
	"github.com/densematrix/imageforge/internal/metrics"
)

// maxWebhookBody bounds webhook payload reads.
const maxWebhookBody = 64 * 1024

// GenerateRequest is the JSON request body for POST /api/v1/generate.
type GenerateRequest struct {
	Prompt   string `json:"prompt"`
	Style    string `json:"style,omitempty"`
	DeviceID string `json:"device_id"`
	Token    string `json:"token,omitempty"`
}

// GenerateResponse is the JSON response for POST /api/v1/generate.
type GenerateResponse struct {
	Success              bool   `json:"success"`
	ImageURL             string `json:"image_url,omitempty"`
	RemainingGenerations int    `json:"remaining_generations"`
	IsFreeTrial          bool   `json:"is_free_trial"`
	Error                string `json:"error,omitempty"`
}

// UsageResponse is the JSON response for GET /api/v1/usage/{device_id}.
type UsageResponse struct {
	FreeRemaining  int `json:"free_remaining"`
	PaidRemaining  int `json:"paid_remaining"`
	TotalRemaining int `json:"total_remaining"`
}

// ProductResponse is one catalog entry in GET /api/v1/payment/products.
type ProductResponse struct {
	SKU             string `json:"sku"`
	Name            string `json:"name"`
	PriceCents      int    `json:"price_cents"`
	Generations     int    `json:"generations"`
	DiscountPercent int    `json:"discount_percent,omitempty"`
}

// CreateCheckoutRequest is the JSON request body for POST /api/v1/payment/create-checkout.
type CreateCheckoutRequest struct {
	ProductSKU string `json:"product_sku"`
	DeviceID   string `json:"device_id"`
	SuccessURL string `json:"success_url"`
	Email      string `json:"optional_email,omitempty"`
}

// CreateCheckoutResponse is the JSON response for POST /api/v1/payment/create-checkout.
type CreateCheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

// TokenResponse is one token in GET /api/v1/tokens/by-device/{device_id}.
type TokenResponse struct {
	Token                string `json:"token"`
	RemainingGenerations int    `json:"remaining_generations"`
	TotalGenerations     int    `json:"total_generations"`
	ExpiresAt            string `json:"expires_at"`
	ProductSKU           string `json:"product_sku"`
}

// TokenListResponse is the JSON response for GET /api/v1/tokens/by-device/{device_id}.
type TokenListResponse struct {
	Tokens []TokenResponse `json:"tokens"`
}

// Server serves the public HTTP API.
type Server struct {
	ledger        *ledger.Ledger
	gate          *generation.Gate
	catalog       *catalog.Catalog
	checkout      *checkout.Orchestrator
	fulfillment   *fulfillment.Reconciler
	webhookSecret string
	metricsOn     bool
	logger        *slog.Logger
}

// NewServer wires the API handlers. webhookSecret enables signature
// verification on the payment webhook; empty disables it.
func NewServer(led *ledger.Ledger, gate *generation.Gate, cat *catalog.Catalog, co *checkout.Orchestrator, ful *fulfillment.Reconciler, webhookSecret string, metricsOn bool, logger *slog.Logger) *Server {
	return &Server{
		ledger:        led,
		gate:          gate,
		catalog:       cat,
		checkout:      co,
		fulfillment:   ful,
		webhookSecret: webhookSecret,
		metricsOn:     metricsOn,
		logger:        logger.With("component", "httpapi"),
	}
}

// Handler returns the root HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/generate", s.handleGenerate)
	mux.HandleFunc("/api/v1/usage/", s.handleUsage)
	mux.HandleFunc("/api/v1/payment/products", s.handleProducts)
	mux.HandleFunc("/api/v1/payment/create-checkout", s.handleCreateCheckout)
	mux.HandleFunc("/api/v1/payment/webhook", s.handleWebhook)
	mux.HandleFunc("/api/v1/tokens/by-device/", s.handleTokensByDevice)
	mux.HandleFunc("/health", s.handleHealth)

	if s.metricsOn {
		mux.Handle("/metrics", metrics.Handler())
		return metrics.InstrumentHandler(mux)
	}
	return mux
}

// handleGenerate handles POST /api/v1/generate.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, APIError{Error: "invalid JSON body", Code: CodeValidation})
		return
	}
	if req.DeviceID == "" {
		s.sendError(w, http.StatusBadRequest, APIError{Error: "device_id is required", Code: CodeValidation})
		return
	}

	start := time.Now()
	result, err := s.gate.Generate(r.Context(), generation.Request{
		DeviceID: req.DeviceID,
		Prompt:   req.Prompt,
		Style:    req.Style,
		Token:    req.Token,
	})
	if err != nil {
		if errors.Is(err, generation.ErrQuotaExhausted) {
			metrics.RecordQuotaRejection()
		}
		status, apiErr := classify(err)
		s.sendError(w, status, apiErr)
		return
	}

	source := "free_trial"
	if !result.IsFreeTrial {
		source = "paid_token"
	}

	if result.Err != nil {
		metrics.RecordGeneration(req.Style, source, false, time.Since(start))
		s.sendJSON(w, http.StatusOK, GenerateResponse{
			Success:              false,
			Error:                result.Err.Error(),
			RemainingGenerations: result.Remaining,
			IsFreeTrial:          result.IsFreeTrial,
		})
		return
	}

	metrics.RecordGeneration(req.Style, source, true, time.Since(start))
	s.sendJSON(w, http.StatusOK, GenerateResponse{
		Success:              true,
		ImageURL:             result.ImageURL,
		RemainingGenerations: result.Remaining,
		IsFreeTrial:          result.IsFreeTrial,
	})
}

// handleUsage handles GET /api/v1/usage/{device_id}.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	deviceID := strings.TrimPrefix(r.URL.Path, "/api/v1/usage/")
	if deviceID == "" || strings.Contains(deviceID, "/") {
		s.sendError(w, http.StatusBadRequest, APIError{Error: "device_id is required", Code: CodeValidation})
		return
	}

	remaining, err := s.ledger.GetRemaining(r.Context(), deviceID)
	if err != nil {
		s.logger.Error("usage lookup failed", "device_id", deviceID, "error", err)
		status, apiErr := classify(err)
		s.sendError(w, status, apiErr)
		return
	}

	s.sendJSON(w, http.StatusOK, UsageResponse{
		FreeRemaining:  remaining.FreeRemaining,
		PaidRemaining:  remaining.PaidRemaining,
		TotalRemaining: remaining.TotalRemaining,
	})
}

// handleProducts handles GET /api/v1/payment/products.
func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	products := s.catalog.List()
	response := make([]ProductResponse, 0, len(products))
	for _, p := range products {
		response = append(response, ProductResponse{
			SKU:             p.SKU,
			Name:            p.Name,
			PriceCents:      p.PriceCents,
			Generations:     p.Generations,
			DiscountPercent: p.DiscountPercent,
		})
	}
	s.sendJSON(w, http.StatusOK, response)
}

// handleCreateCheckout handles POST /api/v1/payment/create-checkout.
func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req CreateCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, APIError{Error: "invalid JSON body", Code: CodeValidation})
		return
	}
	if req.DeviceID == "" || req.ProductSKU == "" || req.SuccessURL == "" {
		s.sendError(w, http.StatusBadRequest, APIError{Error: "product_sku, device_id and success_url are required", Code: CodeValidation})
		return
	}

	result, err := s.checkout.Create(r.Context(), req.DeviceID, req.ProductSKU, req.SuccessURL, req.Email)
	if err != nil {
		status, apiErr := classify(err)
		s.sendError(w, status, apiErr)
		return
	}

	metrics.RecordCheckoutCreated()
	s.sendJSON(w, http.StatusOK, CreateCheckoutResponse{
		CheckoutURL: result.CheckoutURL,
		SessionID:   result.SessionID,
	})
}

// handleTokensByDevice handles GET /api/v1/tokens/by-device/{device_id}.
func (s *Server) handleTokensByDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	deviceID := strings.TrimPrefix(r.URL.Path, "/api/v1/tokens/by-device/")
	if deviceID == "" || strings.Contains(deviceID, "/") {
		s.sendError(w, http.StatusBadRequest, APIError{Error: "device_id is required", Code: CodeValidation})
		return
	}

	tokens, err := s.ledger.ListTokens(r.Context(), deviceID)
	if err != nil {
		s.logger.Error("token listing failed", "device_id", deviceID, "error", err)
		status, apiErr := classify(err)
		s.sendError(w, status, apiErr)
		return
	}

	response := TokenListResponse{Tokens: make([]TokenResponse, 0, len(tokens))}
	for _, t := range tokens {
		response.Tokens = append(response.Tokens, TokenResponse{
			Token:                t.TokenID,
			RemainingGenerations: t.RemainingGenerations,
			TotalGenerations:     t.TotalGenerations,
			ExpiresAt:            t.ExpiresAt.UTC().Format(time.RFC3339),
			ProductSKU:           t.ProductSKU,
		})
	}
	s.sendJSON(w, http.StatusOK, response)
}

// handleWebhook handles the payment provider's webhook. Signature
// verification runs when a webhook secret is configured; otherwise the
// payload is trusted and a warning is logged.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, APIError{Error: "reading payload", Code: CodeValidation})
		return
	}

	var event stripe.Event
	if s.webhookSecret != "" {
		event, err = webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), s.webhookSecret)
		if err != nil {
			s.logger.Warn("webhook signature verification failed", "error", err)
			s.sendError(w, http.StatusBadRequest, APIError{Error: "invalid signature", Code: CodeValidation})
			return
		}
	} else {
		s.logger.Warn("webhook secret not configured, accepting unsigned event")
		if err := json.Unmarshal(payload, &event); err != nil {
			s.sendError(w, http.StatusBadRequest, APIError{Error: "invalid event payload", Code: CodeValidation})
			return
		}
	}

	if event.Type != "checkout.session.completed" {
		// Acknowledge everything else so the provider stops redelivering.
		s.sendJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if event.Data == nil || len(event.Data.Raw) == 0 {
		s.sendError(w, http.StatusBadRequest, APIError{Error: "invalid event payload", Code: CodeValidation})
		return
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		s.sendError(w, http.StatusBadRequest, APIError{Error: "invalid session payload", Code: CodeValidation})
		return
	}

	deviceID := session.Metadata["device_id"]
	productSKU := session.Metadata["product_sku"]

	if _, err := s.fulfillment.OnPaymentCompleted(r.Context(), session.ID, deviceID, productSKU); err != nil {
		s.logger.Error("fulfillment failed", "session_id", session.ID, "error", err)
		// Non-2xx so the provider retries; the grant is idempotent.
		status, apiErr := classify(err)
		s.sendError(w, status, apiErr)
		return
	}

	if product, err := s.catalog.Get(productSKU); err == nil {
		metrics.RecordPayment(product.SKU, int64(product.PriceCents))
	}

	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "imageforge"})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encoding response failed", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, apiErr APIError) {
	s.sendJSON(w, status, errorDetail{Detail: apiErr})
}

// ListenAndServe runs the API server until ctx is canceled, then shuts it
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
