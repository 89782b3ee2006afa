// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides quota/session/token persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Single connection so the pragmas below apply to every statement and
	// guarded UPDATEs serialize instead of hitting SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Concurrent debits contend on single rows; wait instead of failing.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS free_trial_usage (
			device_id     TEXT PRIMARY KEY,
			used_count    INTEGER NOT NULL DEFAULT 0,
			first_used_at TEXT NOT NULL,
			last_used_at  TEXT NOT NULL,

			CHECK (used_count >= 0)
		);

		CREATE TABLE IF NOT EXISTS checkout_sessions (
			session_id   TEXT PRIMARY KEY,
			device_id    TEXT NOT NULL,
			product_sku  TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'pending',
			created_at   TEXT NOT NULL,
			completed_at TEXT,

			CHECK (status IN ('pending', 'completed', 'expired'))
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_device ON checkout_sessions(device_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_status ON checkout_sessions(status, created_at);

		CREATE TABLE IF NOT EXISTS generation_tokens (
			token_id              TEXT PRIMARY KEY,
			device_id             TEXT NOT NULL,
			product_sku           TEXT NOT NULL,
			total_generations     INTEGER NOT NULL,
			remaining_generations INTEGER NOT NULL,
			expires_at            TEXT NOT NULL,
			source_session_id     TEXT NOT NULL UNIQUE,
			created_at            TEXT NOT NULL,

			CHECK (remaining_generations >= 0)
		);

		CREATE INDEX IF NOT EXISTS idx_tokens_device ON generation_tokens(device_id, expires_at);

		CREATE TABLE IF NOT EXISTS image_generations (
			id            TEXT PRIMARY KEY,
			device_id     TEXT NOT NULL,
			token_id      TEXT,
			prompt        TEXT NOT NULL,
			style         TEXT,
			model         TEXT NOT NULL,
			image_url     TEXT,
			status        TEXT NOT NULL DEFAULT 'processing',
			error_message TEXT,
			created_at    TEXT NOT NULL,

			CHECK (status IN ('processing', 'completed', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_generations_device ON image_generations(device_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// EnsureFreeTrial returns the free trial record for a device, creating it with
// zero usage if none exists. Concurrent callers for the same device converge
// on the single row via INSERT OR IGNORE.
func (s *SQLiteStore) EnsureFreeTrial(ctx context.Context, deviceID string) (*FreeTrialUsage, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO free_trial_usage (device_id, used_count, first_used_at, last_used_at)
		VALUES (?, 0, ?, ?)
	`, deviceID, now, now)
	if err != nil {
		return nil, fmt.Errorf("inserting free trial record: %w", err)
	}

	return s.GetFreeTrial(ctx, deviceID)
}

// GetFreeTrial retrieves the free trial record for a device.
// Returns ErrNotFound if the device has never been seen.
func (s *SQLiteStore) GetFreeTrial(ctx context.Context, deviceID string) (*FreeTrialUsage, error) {
	query := `
		SELECT device_id, used_count, first_used_at, last_used_at
		FROM free_trial_usage
		WHERE device_id = ?
	`

	var usage FreeTrialUsage
	var firstUsedStr, lastUsedStr string

	err := s.db.QueryRowContext(ctx, query, deviceID).Scan(
		&usage.DeviceID,
		&usage.UsedCount,
		&firstUsedStr,
		&lastUsedStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying free trial: %w", err)
	}

	usage.FirstUsedAt, err = time.Parse(time.RFC3339, firstUsedStr)
	if err != nil {
		return nil, fmt.Errorf("parsing first_used_at: %w", err)
	}

	usage.LastUsedAt, err = time.Parse(time.RFC3339, lastUsedStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_used_at: %w", err)
	}

	return &usage, nil
}

// DebitFreeTrial consumes one free generation if the device is under the
// limit. The guarded UPDATE is the atomicity point: two concurrent debits for
// a device with one unit left produce exactly one affected row.
func (s *SQLiteStore) DebitFreeTrial(ctx context.Context, deviceID string, limit int) (int, bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, `
		UPDATE free_trial_usage
		SET used_count = used_count + 1, last_used_at = ?
		WHERE device_id = ? AND used_count < ?
	`, now, deviceID, limit)
	if err != nil {
		return 0, false, fmt.Errorf("debiting free trial: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return 0, false, nil
	}

	usage, err := s.GetFreeTrial(ctx, deviceID)
	if err != nil {
		return 0, false, err
	}

	s.logger.Debug("debited free trial", "device_id", deviceID, "used_count", usage.UsedCount)
	return usage.UsedCount, true, nil
}

// CreditFreeTrial returns one free generation to a device. Used only when the
// refund-on-failure policy is enabled. Never decrements below zero.
func (s *SQLiteStore) CreditFreeTrial(ctx context.Context, deviceID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE free_trial_usage
		SET used_count = used_count - 1
		WHERE device_id = ? AND used_count > 0
	`, deviceID)
	if err != nil {
		return fmt.Errorf("crediting free trial: %w", err)
	}
	s.logger.Debug("credited free trial", "device_id", deviceID)
	return nil
}

// CreateToken inserts a token grant. The UNIQUE constraint on
// source_session_id makes this idempotent: if a token already exists for the
// session, the existing token is returned with created=false.
func (s *SQLiteStore) CreateToken(ctx context.Context, token *Token) (*Token, bool, error) {
	query := `
		INSERT INTO generation_tokens (
			token_id, device_id, product_sku, total_generations,
			remaining_generations, expires_at, source_session_id, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		token.TokenID,
		token.DeviceID,
		token.ProductSKU,
		token.TotalGenerations,
		token.RemainingGenerations,
		token.ExpiresAt.UTC().Format(time.RFC3339),
		token.SourceSessionID,
		token.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			existing, getErr := s.GetTokenBySession(ctx, token.SourceSessionID)
			if getErr != nil {
				return nil, false, fmt.Errorf("loading existing token for session %s: %w", token.SourceSessionID, getErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("inserting token: %w", err)
	}

	s.logger.Info("created token",
		"token_id", token.TokenID,
		"device_id", token.DeviceID,
		"product_sku", token.ProductSKU,
		"generations", token.TotalGenerations,
	)
	return token, true, nil
}

// GetToken retrieves a token by ID.
// Returns ErrNotFound if the token doesn't exist.
func (s *SQLiteStore) GetToken(ctx context.Context, tokenID string) (*Token, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token_id, device_id, product_sku, total_generations,
		       remaining_generations, expires_at, source_session_id, created_at
		FROM generation_tokens
		WHERE token_id = ?
	`, tokenID)
	return scanToken(row)
}

// GetTokenBySession retrieves the token granted for a checkout session.
// Returns ErrNotFound if no grant has landed for the session.
func (s *SQLiteStore) GetTokenBySession(ctx context.Context, sessionID string) (*Token, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token_id, device_id, product_sku, total_generations,
		       remaining_generations, expires_at, source_session_id, created_at
		FROM generation_tokens
		WHERE source_session_id = ?
	`, sessionID)
	return scanToken(row)
}

// rowScanner abstracts sql.Row and sql.Rows for scanToken.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*Token, error) {
	var token Token
	var expiresStr, createdStr string

	err := row.Scan(
		&token.TokenID,
		&token.DeviceID,
		&token.ProductSKU,
		&token.TotalGenerations,
		&token.RemainingGenerations,
		&expiresStr,
		&token.SourceSessionID,
		&createdStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning token: %w", err)
	}

	token.ExpiresAt, err = time.Parse(time.RFC3339, expiresStr)
	if err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}

	token.CreatedAt, err = time.Parse(time.RFC3339, createdStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &token, nil
}

// ListActiveTokens returns unexpired tokens with remaining generations for a
// device, earliest expiry first so debits drain the most perishable pack.
func (s *SQLiteStore) ListActiveTokens(ctx context.Context, deviceID string, now time.Time) ([]*Token, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token_id, device_id, product_sku, total_generations,
		       remaining_generations, expires_at, source_session_id, created_at
		FROM generation_tokens
		WHERE device_id = ? AND remaining_generations > 0 AND expires_at > ?
		ORDER BY expires_at ASC
	`, deviceID, now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("querying active tokens: %w", err)
	}
	defer rows.Close()

	var tokens []*Token
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating token rows: %w", err)
	}

	return tokens, nil
}

// DebitToken consumes one generation from a token if it still has remaining
// units and has not expired. Atomic per token via the guarded UPDATE.
func (s *SQLiteStore) DebitToken(ctx context.Context, tokenID string, now time.Time) (int, bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE generation_tokens
		SET remaining_generations = remaining_generations - 1
		WHERE token_id = ? AND remaining_generations > 0 AND expires_at > ?
	`, tokenID, now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, false, fmt.Errorf("debiting token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return 0, false, nil
	}

	token, err := s.GetToken(ctx, tokenID)
	if err != nil {
		return 0, false, err
	}

	s.logger.Debug("debited token", "token_id", tokenID, "remaining", token.RemainingGenerations)
	return token.RemainingGenerations, true, nil
}

// CreditToken returns one generation to a token. Used only when the
// refund-on-failure policy is enabled.
func (s *SQLiteStore) CreditToken(ctx context.Context, tokenID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE generation_tokens
		SET remaining_generations = remaining_generations + 1
		WHERE token_id = ?
	`, tokenID)
	if err != nil {
		return fmt.Errorf("crediting token: %w", err)
	}
	s.logger.Debug("credited token", "token_id", tokenID)
	return nil
}

// CreateSession records a new checkout session.
// Returns ErrDuplicateSession if the session ID is already recorded.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *CheckoutSession) error {
	query := `
		INSERT INTO checkout_sessions (session_id, device_id, product_sku, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.SessionID,
		session.DeviceID,
		session.ProductSKU,
		session.Status,
		session.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateSession
		}
		return fmt.Errorf("inserting checkout session: %w", err)
	}

	s.logger.Debug("created checkout session",
		"session_id", session.SessionID,
		"device_id", session.DeviceID,
		"product_sku", session.ProductSKU,
	)
	return nil
}

// GetSession retrieves a checkout session by ID.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	query := `
		SELECT session_id, device_id, product_sku, status, created_at, completed_at
		FROM checkout_sessions
		WHERE session_id = ?
	`

	var session CheckoutSession
	var createdStr string
	var completedStr sql.NullString

	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.SessionID,
		&session.DeviceID,
		&session.ProductSKU,
		&session.Status,
		&createdStr,
		&completedStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying checkout session: %w", err)
	}

	session.CreatedAt, err = time.Parse(time.RFC3339, createdStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	if completedStr.Valid {
		t, err := time.Parse(time.RFC3339, completedStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		session.CompletedAt = &t
	}

	return &session, nil
}

// CompleteSession transitions a session from pending to completed. Completed
// and expired are terminal so the status guard makes redelivery a no-op.
func (s *SQLiteStore) CompleteSession(ctx context.Context, sessionID string, completedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE checkout_sessions
		SET status = ?, completed_at = ?
		WHERE session_id = ? AND status = ?
	`, SessionStatusCompleted, completedAt.UTC().Format(time.RFC3339), sessionID, SessionStatusPending)
	if err != nil {
		return fmt.Errorf("completing checkout session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Already terminal, or never recorded locally
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM checkout_sessions WHERE session_id = ?`, sessionID).Scan(&exists)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("checking checkout session: %w", err)
		}
		return nil
	}

	s.logger.Info("completed checkout session", "session_id", sessionID)
	return nil
}

// ExpirePendingSessions marks pending sessions created before the cutoff as
// expired. Returns the number of sessions expired.
func (s *SQLiteStore) ExpirePendingSessions(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE checkout_sessions
		SET status = ?
		WHERE status = ? AND created_at <= ?
	`, SessionStatusExpired, SessionStatusPending, olderThan.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("expiring checkout sessions: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		s.logger.Debug("expired checkout sessions", "count", rowsAffected)
	}
	return rowsAffected, nil
}

// SaveGeneration saves a generation audit record
func (s *SQLiteStore) SaveGeneration(ctx context.Context, gen *Generation) error {
	query := `
		INSERT INTO image_generations (
			id, device_id, token_id, prompt, style, model, image_url, status, error_message, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		gen.ID,
		gen.DeviceID,
		nullString(gen.TokenID),
		gen.Prompt,
		nullString(gen.Style),
		gen.Model,
		nullString(gen.ImageURL),
		gen.Status,
		nullString(gen.ErrorMessage),
		gen.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting generation: %w", err)
	}

	s.logger.Debug("saved generation", "id", gen.ID, "device_id", gen.DeviceID, "status", gen.Status)
	return nil
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// UpdateGenerationResult records the outcome of a generation attempt.
// Returns ErrNotFound if the generation doesn't exist.
func (s *SQLiteStore) UpdateGenerationResult(ctx context.Context, id, status, imageURL, errorMessage string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE image_generations
		SET status = ?, image_url = ?, error_message = ?
		WHERE id = ?
	`, status, nullString(imageURL), nullString(errorMessage), id)
	if err != nil {
		return fmt.Errorf("updating generation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetGeneration retrieves a generation record by ID.
// Returns ErrNotFound if the generation doesn't exist.
func (s *SQLiteStore) GetGeneration(ctx context.Context, id string) (*Generation, error) {
	query := `
		SELECT id, device_id, token_id, prompt, style, model, image_url, status, error_message, created_at
		FROM image_generations
		WHERE id = ?
	`

	var gen Generation
	var tokenID, style, imageURL, errorMessage sql.NullString
	var createdStr string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&gen.ID,
		&gen.DeviceID,
		&tokenID,
		&gen.Prompt,
		&style,
		&gen.Model,
		&imageURL,
		&gen.Status,
		&errorMessage,
		&createdStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying generation: %w", err)
	}

	gen.TokenID = tokenID.String
	gen.Style = style.String
	gen.ImageURL = imageURL.String
	gen.ErrorMessage = errorMessage.String

	gen.CreatedAt, err = time.Parse(time.RFC3339, createdStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &gen, nil
}

// ListGenerations returns the most recent generation records for a device,
// newest first, up to limit.
func (s *SQLiteStore) ListGenerations(ctx context.Context, deviceID string, limit int) ([]*Generation, error) {
	query := `
		SELECT id, device_id, token_id, prompt, style, model, image_url, status, error_message, created_at
		FROM image_generations
		WHERE device_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying generations: %w", err)
	}
	defer rows.Close()

	var generations []*Generation
	for rows.Next() {
		var gen Generation
		var tokenID, style, imageURL, errorMessage sql.NullString
		var createdStr string

		if err := rows.Scan(
			&gen.ID,
			&gen.DeviceID,
			&tokenID,
			&gen.Prompt,
			&style,
			&gen.Model,
			&imageURL,
			&gen.Status,
			&errorMessage,
			&createdStr,
		); err != nil {
			return nil, fmt.Errorf("scanning generation: %w", err)
		}

		gen.TokenID = tokenID.String
		gen.Style = style.String
		gen.ImageURL = imageURL.String
		gen.ErrorMessage = errorMessage.String

		gen.CreatedAt, err = time.Parse(time.RFC3339, createdStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		generations = append(generations, &gen)
	}

	return generations, rows.Err()
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
