// ABOUTME: Store interface and data types for imageforge persistence
// ABOUTME: Defines FreeTrialUsage, CheckoutSession, Token, Generation structs and store interfaces

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateSession is returned when trying to create a checkout session that already exists
var ErrDuplicateSession = errors.New("checkout session already exists")

// FreeTrialUsage tracks free tier consumption for one device.
// used_count only increases, except through CreditFreeTrial when the
// refund-on-failure policy is enabled.
type FreeTrialUsage struct {
	DeviceID    string
	UsedCount   int
	FirstUsedAt time.Time
	LastUsedAt  time.Time
}

// SessionStatus constants for checkout session states
const (
	SessionStatusPending   = "pending"
	SessionStatusCompleted = "completed"
	SessionStatusExpired   = "expired"
)

// CheckoutSession records one purchase intent with the payment provider.
// Transitions pending -> completed (webhook) or pending -> expired (sweep);
// completed and expired are terminal.
type CheckoutSession struct {
	SessionID   string
	DeviceID    string
	ProductSKU  string
	Status      string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Token is a ledger grant of purchased generations. At most one Token exists
// per SourceSessionID; RemainingGenerations never goes negative.
type Token struct {
	TokenID              string
	DeviceID             string
	ProductSKU           string
	TotalGenerations     int
	RemainingGenerations int
	ExpiresAt            time.Time
	SourceSessionID      string
	CreatedAt            time.Time
}

// GenerationStatus constants for generation record states
const (
	GenerationStatusProcessing = "processing"
	GenerationStatusCompleted  = "completed"
	GenerationStatusFailed     = "failed"
)

// Generation is an audit record of one image generation attempt.
type Generation struct {
	ID           string
	DeviceID     string
	TokenID      string // empty for free trial generations
	Prompt       string
	Style        string
	Model        string
	ImageURL     string
	Status       string
	ErrorMessage string
	CreatedAt    time.Time
}

// QuotaStore defines the persistence operations backing the quota ledger.
type QuotaStore interface {
	// Free trial
	EnsureFreeTrial(ctx context.Context, deviceID string) (*FreeTrialUsage, error)
	GetFreeTrial(ctx context.Context, deviceID string) (*FreeTrialUsage, error)
	DebitFreeTrial(ctx context.Context, deviceID string, limit int) (used int, ok bool, err error)
	CreditFreeTrial(ctx context.Context, deviceID string) error

	// Tokens
	CreateToken(ctx context.Context, token *Token) (*Token, bool, error)
	GetToken(ctx context.Context, tokenID string) (*Token, error)
	GetTokenBySession(ctx context.Context, sessionID string) (*Token, error)
	ListActiveTokens(ctx context.Context, deviceID string, now time.Time) ([]*Token, error)
	DebitToken(ctx context.Context, tokenID string, now time.Time) (remaining int, ok bool, err error)
	CreditToken(ctx context.Context, tokenID string) error
}

// SessionStore defines persistence for checkout sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session *CheckoutSession) error
	GetSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
	CompleteSession(ctx context.Context, sessionID string, completedAt time.Time) error
	ExpirePendingSessions(ctx context.Context, olderThan time.Time) (int64, error)
}

// GenerationStore defines persistence for generation audit records.
type GenerationStore interface {
	SaveGeneration(ctx context.Context, gen *Generation) error
	UpdateGenerationResult(ctx context.Context, id, status, imageURL, errorMessage string) error
	GetGeneration(ctx context.Context, id string) (*Generation, error)
	ListGenerations(ctx context.Context, deviceID string, limit int) ([]*Generation, error)
}

// Store combines all persistence interfaces plus lifecycle management.
type Store interface {
	QuotaStore
	SessionStore
	GenerationStore

	// Close releases any resources held by the store
	Close() error
}
