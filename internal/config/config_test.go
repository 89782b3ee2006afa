// ABOUTME: Tests for configuration loading
// ABOUTME: Covers env expansion, duration parsing, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const minimalConfig = `
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "/tmp/test.db"
generation:
  provider_url: "https://llm.example"
`

func TestLoad_Minimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
	assert.Equal(t, "https://llm.example", cfg.Generation.ProviderURL)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, DefaultFreeGenerations, cfg.FreeTrial.GenerationsPerDevice)
	assert.Equal(t, DefaultModel, cfg.Generation.Model)
	assert.Equal(t, DefaultTimeout, cfg.Generation.Timeout)
	assert.Equal(t, DefaultTokenValidity, cfg.Payment.TokenValidity)
	assert.Equal(t, DefaultSessionExpiry, cfg.Payment.SessionExpiry)
	assert.False(t, cfg.Generation.RefundOnFailure)

	require.Len(t, cfg.Products, 3)
	assert.Equal(t, "starter_10", cfg.Products[0].SKU)
	assert.Equal(t, "pro_50", cfg.Products[1].SKU)
	assert.Equal(t, "unlimited_monthly", cfg.Products[2].SKU)
}

func TestLoad_Durations(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
payment:
  token_validity: "720h"
  session_expiry: "6h"
`))
	require.NoError(t, err)
	assert.Equal(t, 720*time.Hour, cfg.Payment.TokenValidity)
	assert.Equal(t, 6*time.Hour, cfg.Payment.SessionExpiry)
}

func TestLoad_BadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
payment:
  token_validity: "one year"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token_validity")
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_STRIPE_KEY", "sk_test_abc")

	cfg, err := Load(writeConfig(t, minimalConfig+`
payment:
  stripe_api_key: "${TEST_STRIPE_KEY}"
`))
	require.NoError(t, err)
	assert.Equal(t, "sk_test_abc", cfg.Payment.StripeAPIKey)
}

func TestLoad_EnvExpansion_Unset(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
payment:
  stripe_api_key: "${DEFINITELY_NOT_SET_VAR_42}"
`))
	require.NoError(t, err)
	assert.Empty(t, cfg.Payment.StripeAPIKey)
}

func TestLoad_CustomProducts(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
products:
  - sku: "mini_5"
    name: "Mini Pack"
    price_cents: 199
    generations: 5
`))
	require.NoError(t, err)
	require.Len(t, cfg.Products, 1)
	assert.Equal(t, "mini_5", cfg.Products[0].SKU)
	assert.Equal(t, 5, cfg.Products[0].Generations)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  string
		wantErr string
	}{
		{
			name: "missing http addr",
			mutate: `
database:
  path: "/tmp/test.db"
generation:
  provider_url: "https://llm.example"
`,
			wantErr: "http_addr",
		},
		{
			name: "missing provider url",
			mutate: `
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "/tmp/test.db"
`,
			wantErr: "provider_url",
		},
		{
			name: "duplicate sku",
			mutate: minimalConfig + `
products:
  - sku: "dup"
    name: "A"
    price_cents: 100
    generations: 1
  - sku: "dup"
    name: "B"
    price_cents: 200
    generations: 2
`,
			wantErr: "duplicated",
		},
		{
			name: "non-positive generations",
			mutate: minimalConfig + `
products:
  - sku: "bad"
    name: "Bad"
    price_cents: 100
    generations: 0
`,
			wantErr: "generations",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.mutate))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
