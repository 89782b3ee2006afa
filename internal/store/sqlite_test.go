// ABOUTME: Tests for the SQLite store
// ABOUTME: Covers quota atomicity, token idempotency and session lifecycle

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func testToken(deviceID, sessionID string) *Token {
	return &Token{
		TokenID:              "tok-" + sessionID,
		DeviceID:             deviceID,
		ProductSKU:           "starter_10",
		TotalGenerations:     10,
		RemainingGenerations: 10,
		ExpiresAt:            time.Now().UTC().Add(24 * time.Hour),
		SourceSessionID:      sessionID,
		CreatedAt:            time.Now().UTC(),
	}
}

func TestStore_EnsureFreeTrial(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	usage, err := store.EnsureFreeTrial(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, "device-1", usage.DeviceID)
	assert.Equal(t, 0, usage.UsedCount)

	// Idempotent: second call returns the same row.
	again, err := store.EnsureFreeTrial(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, usage.UsedCount, again.UsedCount)
}

func TestStore_DebitFreeTrial(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.EnsureFreeTrial(ctx, "device-1")
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		used, ok, err := store.DebitFreeTrial(ctx, "device-1", 3)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, i, used)
	}

	// Fourth debit hits the limit.
	_, ok, err := store.DebitFreeTrial(ctx, "device-1", 3)
	require.NoError(t, err)
	assert.False(t, ok)

	usage, err := store.GetFreeTrial(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, 3, usage.UsedCount)
}

func TestStore_DebitFreeTrial_Concurrent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.EnsureFreeTrial(ctx, "device-1")
	require.NoError(t, err)

	const workers = 10
	const limit = 3

	var wg sync.WaitGroup
	granted := make(chan struct{}, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.DebitFreeTrial(ctx, "device-1", limit)
			if err == nil && ok {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	count := 0
	for range granted {
		count++
	}
	assert.Equal(t, limit, count, "exactly limit debits may succeed")

	usage, err := store.GetFreeTrial(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, limit, usage.UsedCount)
}

func TestStore_CreditFreeTrial(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.EnsureFreeTrial(ctx, "device-1")
	require.NoError(t, err)

	_, ok, err := store.DebitFreeTrial(ctx, "device-1", 3)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.CreditFreeTrial(ctx, "device-1"))

	usage, err := store.GetFreeTrial(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, 0, usage.UsedCount)
}

func TestStore_CreateToken_IdempotentBySession(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first, created, err := store.CreateToken(ctx, testToken("device-1", "sess-1"))
	require.NoError(t, err)
	assert.True(t, created)

	// Same session, different token ID: returns the existing token.
	dup := testToken("device-1", "sess-1")
	dup.TokenID = "tok-other"
	second, created, err := store.CreateToken(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.TokenID, second.TokenID)
}

func TestStore_GetToken_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetToken(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListActiveTokens_OrderAndFiltering(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	late := testToken("device-1", "sess-late")
	late.ExpiresAt = now.Add(48 * time.Hour)
	_, _, err := store.CreateToken(ctx, late)
	require.NoError(t, err)

	soon := testToken("device-1", "sess-soon")
	soon.TokenID = "tok-soon"
	soon.ExpiresAt = now.Add(1 * time.Hour)
	_, _, err = store.CreateToken(ctx, soon)
	require.NoError(t, err)

	expired := testToken("device-1", "sess-expired")
	expired.TokenID = "tok-expired"
	expired.ExpiresAt = now.Add(-1 * time.Hour)
	_, _, err = store.CreateToken(ctx, expired)
	require.NoError(t, err)

	drained := testToken("device-1", "sess-drained")
	drained.TokenID = "tok-drained"
	drained.RemainingGenerations = 0
	_, _, err = store.CreateToken(ctx, drained)
	require.NoError(t, err)

	tokens, err := store.ListActiveTokens(ctx, "device-1", now)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	// Earliest expiry first.
	assert.Equal(t, "tok-soon", tokens[0].TokenID)
	assert.Equal(t, late.TokenID, tokens[1].TokenID)
}

func TestStore_DebitToken(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	token := testToken("device-1", "sess-1")
	token.RemainingGenerations = 2
	_, _, err := store.CreateToken(ctx, token)
	require.NoError(t, err)

	remaining, ok, err := store.DebitToken(ctx, token.TokenID, now)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)

	remaining, ok, err = store.DebitToken(ctx, token.TokenID, now)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, remaining)

	// Drained.
	_, ok, err = store.DebitToken(ctx, token.TokenID, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_DebitToken_Expired(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	token := testToken("device-1", "sess-1")
	token.ExpiresAt = now.Add(-time.Minute)
	_, _, err := store.CreateToken(ctx, token)
	require.NoError(t, err)

	_, ok, err := store.DebitToken(ctx, token.TokenID, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_DebitToken_Concurrent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	token := testToken("device-1", "sess-1")
	token.RemainingGenerations = 1
	_, _, err := store.CreateToken(ctx, token)
	require.NoError(t, err)

	var wg sync.WaitGroup
	granted := make(chan struct{}, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.DebitToken(ctx, token.TokenID, now)
			if err == nil && ok {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	count := 0
	for range granted {
		count++
	}
	assert.Equal(t, 1, count, "a single remaining unit admits exactly one debit")
}

func TestStore_SessionLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	session := &CheckoutSession{
		SessionID:  "sess-1",
		DeviceID:   "device-1",
		ProductSKU: "starter_10",
		Status:     SessionStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.CreateSession(ctx, session))

	got, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, SessionStatusPending, got.Status)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, store.CompleteSession(ctx, "sess-1", time.Now().UTC()))

	got, err = store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, SessionStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	// Completing again is a no-op, not an error.
	require.NoError(t, store.CompleteSession(ctx, "sess-1", time.Now().UTC()))

	// Completing a missing session reports ErrNotFound.
	err = store.CompleteSession(ctx, "sess-missing", time.Now().UTC())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CreateSession_Duplicate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	session := &CheckoutSession{
		SessionID:  "sess-1",
		DeviceID:   "device-1",
		ProductSKU: "starter_10",
		Status:     SessionStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.CreateSession(ctx, session))
	assert.ErrorIs(t, store.CreateSession(ctx, session), ErrDuplicateSession)
}

func TestStore_ExpirePendingSessions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, age := range []time.Duration{48 * time.Hour, 36 * time.Hour, time.Hour} {
		session := &CheckoutSession{
			SessionID:  fmt.Sprintf("sess-%d", i),
			DeviceID:   "device-1",
			ProductSKU: "starter_10",
			Status:     SessionStatusPending,
			CreatedAt:  now.Add(-age),
		}
		require.NoError(t, store.CreateSession(ctx, session))
	}

	// Completed sessions are never expired.
	require.NoError(t, store.CompleteSession(ctx, "sess-1", now))

	n, err := store.ExpirePendingSessions(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	expired, err := store.GetSession(ctx, "sess-0")
	require.NoError(t, err)
	assert.Equal(t, SessionStatusExpired, expired.Status)

	fresh, err := store.GetSession(ctx, "sess-2")
	require.NoError(t, err)
	assert.Equal(t, SessionStatusPending, fresh.Status)
}

func TestStore_GenerationRecords(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	gen := &Generation{
		ID:        "gen-1",
		DeviceID:  "device-1",
		Prompt:    "a lighthouse at dusk",
		Style:     "watercolor",
		Model:     "dall-e-3",
		Status:    GenerationStatusProcessing,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveGeneration(ctx, gen))

	require.NoError(t, store.UpdateGenerationResult(ctx, "gen-1", GenerationStatusCompleted, "https://img.example/1.png", ""))

	got, err := store.GetGeneration(ctx, "gen-1")
	require.NoError(t, err)
	assert.Equal(t, GenerationStatusCompleted, got.Status)
	assert.Equal(t, "https://img.example/1.png", got.ImageURL)
	assert.Empty(t, got.ErrorMessage)

	require.NoError(t, store.UpdateGenerationResult(ctx, "gen-1", GenerationStatusFailed, "", "timeout"))
	got, err = store.GetGeneration(ctx, "gen-1")
	require.NoError(t, err)
	assert.Equal(t, GenerationStatusFailed, got.Status)
	assert.Equal(t, "timeout", got.ErrorMessage)
}
