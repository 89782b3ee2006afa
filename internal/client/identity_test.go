// ABOUTME: Tests for device identity resolution
// ABOUTME: Covers caching, provider fallback and persistence across resolvers

package client

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProvider struct {
	id    string
	err   error
	calls int
}

func (p *staticProvider) DeviceID(ctx context.Context) (string, error) {
	p.calls++
	return p.id, p.err
}

func TestIdentityResolver_UsesProvider(t *testing.T) {
	provider := &staticProvider{id: "fp-abc123"}
	cache := filepath.Join(t.TempDir(), "device_id")
	r := NewIdentityResolver(provider, cache)

	id, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fp-abc123", id)

	// Second resolve hits the in-memory cache, not the provider.
	again, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, provider.calls)
}

func TestIdentityResolver_PersistsAcrossResolvers(t *testing.T) {
	cache := filepath.Join(t.TempDir(), "device_id")

	first := NewIdentityResolver(&staticProvider{id: "fp-abc123"}, cache)
	id, err := first.Resolve(context.Background())
	require.NoError(t, err)

	// A fresh resolver with a failing provider still returns the same ID.
	second := NewIdentityResolver(&staticProvider{err: errors.New("no fingerprint")}, cache)
	again, err := second.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestIdentityResolver_FallbackOnProviderFailure(t *testing.T) {
	provider := &staticProvider{err: errors.New("no fingerprint")}
	cache := filepath.Join(t.TempDir(), "device_id")
	r := NewIdentityResolver(provider, cache)

	id, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "fallback_"), "got %q", id)

	// The fallback is persisted: a new resolver reuses it.
	fresh := NewIdentityResolver(provider, cache)
	again, err := fresh.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestIdentityResolver_NilProvider(t *testing.T) {
	r := NewIdentityResolver(nil, filepath.Join(t.TempDir(), "device_id"))

	id, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "fallback_"))
}

func TestIdentityResolver_NoCachePath(t *testing.T) {
	r := NewIdentityResolver(&staticProvider{id: "fp-1"}, "")

	id, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fp-1", id)
}
