// Package config handles configuration loading for imageforge.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. The package provides validation and sensible defaults,
// including a built-in product catalog used when none is configured.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from IMAGEFORGE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/imageforge/config.yaml
//  3. ~/.config/imageforge/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	payment:
//	  stripe_api_key: "${STRIPE_API_KEY}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	generation:
//	  timeout: "60s"
//	payment:
//	  token_validity: "8760h"
//	  session_expiry: "24h"
//
// # Configuration Sections
//
// Server and database:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	database:
//	  path: "/var/lib/imageforge/imageforge.db"
//
// Upstream generation provider:
//
//	generation:
//	  provider_url: "https://llm-proxy.example.com"
//	  api_key: "${LLM_PROXY_KEY}"
//	  model: "dall-e-3"
//	  timeout: "60s"
//	  refund_on_failure: false
//
// Payments and free tier:
//
//	payment:
//	  stripe_api_key: "${STRIPE_API_KEY}"
//	  webhook_secret: "${STRIPE_WEBHOOK_SECRET}"
//	free_trial:
//	  generations_per_device: 3
//
// Product catalog:
//
//	products:
//	  - sku: "starter_10"
//	    name: "Starter Pack"
//	    price_cents: 299
//	    generations: 10
package config
