// ABOUTME: Upstream image-generation provider client and style presets
// ABOUTME: OpenAI-compatible POST /v1/images/generations

package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUpstreamTimeout is returned when the provider does not respond within
// the configured timeout.
var ErrUpstreamTimeout = errors.New("image generation timed out")

// stylePrompts maps style preset names to the suffix appended to the user's
// prompt before it is sent upstream.
var stylePrompts = map[string]string{
	"realistic":    "photorealistic, highly detailed, 8k, professional photography",
	"anime":        "anime style, vibrant colors, detailed lineart, studio ghibli inspired",
	"digital_art":  "digital art, concept art, artstation, trending",
	"oil_painting": "oil painting, classical art style, impressionist, textured brushstrokes",
	"watercolor":   "watercolor painting, soft colors, artistic, flowing",
	"sketch":       "pencil sketch, detailed linework, artistic, black and white",
	"cyberpunk":    "cyberpunk style, neon lights, futuristic, sci-fi",
	"fantasy":      "fantasy art, magical, ethereal, epic, detailed",
}

// Styles returns the available style preset names.
func Styles() []string {
	names := make([]string, 0, len(stylePrompts))
	for name := range stylePrompts {
		names = append(names, name)
	}
	return names
}

// ValidStyle reports whether name is a known style preset. The empty string
// is valid and means no styling.
func ValidStyle(name string) bool {
	if name == "" {
		return true
	}
	_, ok := stylePrompts[name]
	return ok
}

// enhancePrompt appends the style suffix when a known preset is given.
func enhancePrompt(prompt, style string) string {
	suffix, ok := stylePrompts[style]
	if !ok {
		return prompt
	}
	return prompt + ", " + suffix
}

// Provider produces an image for a prompt. Implementations must honor the
// context for cancellation.
type Provider interface {
	Generate(ctx context.Context, prompt, style string) (imageURL string, err error)
}

// HTTPProvider calls an OpenAI-compatible image generation endpoint.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPProvider creates a provider client for the given endpoint. timeout
// bounds the full request including response body read.
func NewHTTPProvider(baseURL, apiKey, model string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type imageRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	N       int    `json:"n"`
	Size    string `json:"size"`
	Quality string `json:"quality"`
}

type imageResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// Generate posts the styled prompt upstream and returns the first image URL.
func (p *HTTPProvider) Generate(ctx context.Context, prompt, style string) (string, error) {
	body, err := json.Marshal(imageRequest{
		Model:   p.model,
		Prompt:  enhancePrompt(prompt, style),
		N:       1,
		Size:    "1024x1024",
		Quality: "standard",
	})
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/images/generations", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", ErrUpstreamTimeout
		}
		return "", fmt.Errorf("calling image provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("image generation failed: %s", string(text))
	}

	var parsed imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	if len(parsed.Data) > 0 {
		if parsed.Data[0].URL != "" {
			return parsed.Data[0].URL, nil
		}
		if parsed.Data[0].B64JSON != "" {
			return parsed.Data[0].B64JSON, nil
		}
	}
	return "", errors.New("no image URL in response")
}
