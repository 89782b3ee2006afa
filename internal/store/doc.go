// Package store provides persistent storage for imageforge using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with specialized
// interfaces:
//
//   - QuotaStore: Free trial counters and token grants/debits
//   - SessionStore: Checkout session lifecycle
//   - GenerationStore: Generation audit records
//
// SQLiteStore implements all interfaces in a single struct, allowing easy
// composition while maintaining clear interface boundaries.
//
// # Data Models
//
//   - FreeTrialUsage: Per-device free tier counter (monotone under default policy)
//   - CheckoutSession: Purchase intent, pending -> completed|expired
//   - Token: Purchased generation credits, keyed uniquely by source session
//   - Generation: Audit row per generation attempt
//
// # Atomicity
//
// Entitlement debits are single guarded UPDATE statements
// (used_count < limit, remaining_generations > 0), so concurrent debits for
// the same device never overspend. Token grants rely on the UNIQUE
// constraint on source_session_id for idempotency under webhook redelivery.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as RFC3339 UTC TEXT.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicateSession: Checkout session already recorded
//
// All methods accept context.Context for cancellation support.
package store
