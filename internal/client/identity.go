// ABOUTME: Device identity resolution for API clients
// ABOUTME: Pluggable provider with persisted cache and random fallback

package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// IdentityProvider produces a stable device identifier. Implementations may
// fingerprint the host, read a hardware serial, or anything else that yields
// a reasonably stable opaque string.
type IdentityProvider interface {
	DeviceID(ctx context.Context) (string, error)
}

// IdentityResolver resolves the device ID once and caches it, both in memory
// and on disk. Resolution order: memory, cache file, provider, random
// fallback. Whatever wins is persisted so the device keeps one identity
// across runs even when the provider is flaky.
type IdentityResolver struct {
	provider  IdentityProvider
	cachePath string

	mu       sync.Mutex
	resolved string
}

// NewIdentityResolver creates a resolver backed by provider. cachePath is
// where the resolved ID is persisted; empty disables persistence.
func NewIdentityResolver(provider IdentityProvider, cachePath string) *IdentityResolver {
	return &IdentityResolver{provider: provider, cachePath: cachePath}
}

// Resolve returns the device ID, computing and persisting it on first call.
func (r *IdentityResolver) Resolve(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved != "" {
		return r.resolved, nil
	}

	if id := r.readCache(); id != "" {
		r.resolved = id
		return id, nil
	}

	if r.provider != nil {
		id, err := r.provider.DeviceID(ctx)
		if err == nil && id != "" {
			r.resolved = id
			r.writeCache(id)
			return id, nil
		}
	}

	id := "fallback_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	r.resolved = id
	r.writeCache(id)
	return id, nil
}

func (r *IdentityResolver) readCache() string {
	if r.cachePath == "" {
		return ""
	}
	data, err := os.ReadFile(r.cachePath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (r *IdentityResolver) writeCache(id string) {
	if r.cachePath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.cachePath), 0o755); err != nil {
		return
	}
	// Best effort; a failed write just means re-resolution next run.
	_ = os.WriteFile(r.cachePath, []byte(id+"\n"), 0o600)
}

// DefaultIdentityCachePath returns the per-user path for the persisted
// device ID.
func DefaultIdentityCachePath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolving config dir: %w", err)
	}
	return filepath.Join(configDir, "imageforge", "device_id"), nil
}
