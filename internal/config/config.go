// ABOUTME: Configuration loading and parsing for imageforge
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete imageforge configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Generation GenerationConfig `yaml:"generation"`
	Payment    PaymentConfig    `yaml:"payment"`
	FreeTrial  FreeTrialConfig  `yaml:"free_trial"`
	Products   []ProductConfig  `yaml:"products"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GenerationConfig holds upstream image provider configuration
type GenerationConfig struct {
	ProviderURL     string `yaml:"provider_url"`
	APIKey          string `yaml:"api_key"`
	Model           string `yaml:"model"`
	RefundOnFailure bool   `yaml:"refund_on_failure"`

	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// PaymentConfig holds payment provider configuration
type PaymentConfig struct {
	StripeAPIKey  string `yaml:"stripe_api_key"`
	WebhookSecret string `yaml:"webhook_secret"`

	TokenValidity time.Duration `yaml:"-"`
	SessionExpiry time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TokenValidityRaw string `yaml:"token_validity"`
	SessionExpiryRaw string `yaml:"session_expiry"`
}

// FreeTrialConfig holds the free tier quota configuration
type FreeTrialConfig struct {
	GenerationsPerDevice int `yaml:"generations_per_device"`
}

// ProductConfig describes one purchasable generation pack
type ProductConfig struct {
	SKU             string `yaml:"sku"`
	Name            string `yaml:"name"`
	PriceCents      int    `yaml:"price_cents"`
	Generations     int    `yaml:"generations"`
	DiscountPercent int    `yaml:"discount_percent"`
	StripePriceID   string `yaml:"stripe_price_id"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults applied when the config file omits a value.
const (
	DefaultFreeGenerations = 3
	DefaultModel           = "dall-e-3"
	DefaultTimeout         = 60 * time.Second
	DefaultTokenValidity   = 365 * 24 * time.Hour
	DefaultSessionExpiry   = 24 * time.Hour
)

// DefaultProducts is the catalog used when the config file lists none.
func DefaultProducts() []ProductConfig {
	return []ProductConfig{
		{SKU: "starter_10", Name: "Starter Pack", PriceCents: 299, Generations: 10},
		{SKU: "pro_50", Name: "Pro Pack", PriceCents: 999, Generations: 50, DiscountPercent: 33},
		{SKU: "unlimited_monthly", Name: "Unlimited Monthly", PriceCents: 1499, Generations: 500, DiscountPercent: 50},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in zero-valued fields with their defaults.
func (c *Config) applyDefaults() {
	if c.FreeTrial.GenerationsPerDevice == 0 {
		c.FreeTrial.GenerationsPerDevice = DefaultFreeGenerations
	}
	if c.Generation.Model == "" {
		c.Generation.Model = DefaultModel
	}
	if c.Generation.Timeout == 0 {
		c.Generation.Timeout = DefaultTimeout
	}
	if c.Payment.TokenValidity == 0 {
		c.Payment.TokenValidity = DefaultTokenValidity
	}
	if c.Payment.SessionExpiry == 0 {
		c.Payment.SessionExpiry = DefaultSessionExpiry
	}
	if len(c.Products) == 0 {
		c.Products = DefaultProducts()
	}
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Generation.ProviderURL == "" {
		return fmt.Errorf("generation.provider_url is required")
	}

	if c.FreeTrial.GenerationsPerDevice < 0 {
		return fmt.Errorf("free_trial.generations_per_device must not be negative")
	}

	seen := make(map[string]bool, len(c.Products))
	for i, p := range c.Products {
		if p.SKU == "" {
			return fmt.Errorf("products[%d].sku is required", i)
		}
		if seen[p.SKU] {
			return fmt.Errorf("products[%d].sku %q is duplicated", i, p.SKU)
		}
		seen[p.SKU] = true
		if p.Generations <= 0 {
			return fmt.Errorf("products[%d].generations must be positive", i)
		}
		if p.PriceCents <= 0 {
			return fmt.Errorf("products[%d].price_cents must be positive", i)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Generation.TimeoutRaw != "" {
		cfg.Generation.Timeout, err = time.ParseDuration(cfg.Generation.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing generation.timeout %q: %w", cfg.Generation.TimeoutRaw, err)
		}
	}

	if cfg.Payment.TokenValidityRaw != "" {
		cfg.Payment.TokenValidity, err = time.ParseDuration(cfg.Payment.TokenValidityRaw)
		if err != nil {
			return fmt.Errorf("parsing payment.token_validity %q: %w", cfg.Payment.TokenValidityRaw, err)
		}
	}

	if cfg.Payment.SessionExpiryRaw != "" {
		cfg.Payment.SessionExpiry, err = time.ParseDuration(cfg.Payment.SessionExpiryRaw)
		if err != nil {
			return fmt.Errorf("parsing payment.session_expiry %q: %w", cfg.Payment.SessionExpiryRaw, err)
		}
	}

	return nil
}
