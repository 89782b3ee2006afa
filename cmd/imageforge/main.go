// ABOUTME: Entry point for the imageforge entitlement and generation server
// ABOUTME: Wires the store, ledger, checkout and HTTP API together

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/densematrix/imageforge/internal/catalog"
	"github.com/densematrix/imageforge/internal/checkout"
	"github.com/densematrix/imageforge/internal/config"
	"github.com/densematrix/imageforge/internal/fulfillment"
	"github.com/densematrix/imageforge/internal/generation"
	"github.com/densematrix/imageforge/internal/httpapi"
	"github.com/densematrix/imageforge/internal/ledger"
	"github.com/densematrix/imageforge/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _                            __
(_)_ __ ___   __ _  __ _  ___ / _| ___  _ __ __ _  ___
| | '_ ' _ \ / _' |/ _' |/ _ \ |_ / _ \| '__/ _' |/ _ \
| | | | | | | (_| | (_| |  __/  _| (_) | | | (_| |  __/
|_|_| |_| |_|\__,_|\__, |\___|_|  \___/|_|  \__, |\___|
                   |___/                    |___/
`

// getConfigPath returns the path to the server config file.
// Priority: IMAGEFORGE_CONFIG env var > XDG_CONFIG_HOME/imageforge/server.yaml > ~/.config/imageforge/server.yaml
func getConfigPath() string {
	if envPath := os.Getenv("IMAGEFORGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "server.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "imageforge", "server.yaml")
}

// getDataPath returns the path to the imageforge data directory.
// Priority: XDG_DATA_HOME/imageforge > ~/.local/share/imageforge
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "imageforge")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: imageforge <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve   Start the entitlement and generation server")
		fmt.Println("  init    Create a default config file")
		fmt.Println("  health  Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:  %s\n", cfg.Metrics.Path)
	}
	fmt.Println()

	logger.Info("starting imageforge",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"db_path", cfg.Database.Path,
	)

	slog.SetDefault(logger)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	cat := catalog.New(cfg.Products)
	led := ledger.New(st, cfg.FreeTrial.GenerationsPerDevice, logger)

	provider := generation.NewHTTPProvider(
		cfg.Generation.ProviderURL,
		cfg.Generation.APIKey,
		cfg.Generation.Model,
		cfg.Generation.Timeout,
	)
	gate := generation.New(led, provider, st, cfg.Generation.Model, cfg.Generation.RefundOnFailure, logger)

	stripeProvider := checkout.NewStripeProvider(cfg.Payment.StripeAPIKey)
	co := checkout.New(cat, stripeProvider, st, logger)
	ful := fulfillment.New(cat, led, st, cfg.Payment.TokenValidity, logger)

	srv := httpapi.NewServer(led, gate, cat, co, ful, cfg.Payment.WebhookSecret, cfg.Metrics.Enabled, logger)

	// Sweep abandoned checkout sessions in the background.
	go runSessionSweep(ctx, ful, cfg.Payment.SessionExpiry, logger)

	return srv.ListenAndServe(ctx, cfg.Server.HTTPAddr)
}

// runSessionSweep expires stale pending sessions on a fixed cadence until
// ctx is canceled.
func runSessionSweep(ctx context.Context, ful *fulfillment.Reconciler, maxAge time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := ful.ExpireStaleSessions(ctx, maxAge); err != nil {
				logger.Error("session sweep failed", "error", err)
			}
		}
	}
}

const defaultConfigTemplate = `server:
  http_addr: "127.0.0.1:8080"

database:
  path: "%s"

generation:
  provider_url: "${IMAGE_PROVIDER_URL}"
  api_key: "${IMAGE_PROVIDER_KEY}"
  model: "dall-e-3"
  timeout: "60s"
  refund_on_failure: false

payment:
  stripe_api_key: "${STRIPE_API_KEY}"
  webhook_secret: "${STRIPE_WEBHOOK_SECRET}"
  token_validity: "8760h"
  session_expiry: "24h"

free_trial:
  generations_per_device: 3

logging:
  level: "info"
  format: "text"

metrics:
  enabled: true
  path: "/metrics"
`

func runInit() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	dbPath := filepath.Join(getDataPath(), "imageforge.db")
	content := fmt.Sprintf(defaultConfigTemplate, dbPath)

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Created config at %s\n", configPath)
	fmt.Println("Edit it to set your provider and Stripe credentials, then run: imageforge serve")
	return nil
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
