// Package ledger implements the per-device quota ledger: free trial and
// purchased token accounting with atomic debits and idempotent grants.
//
// Debit ordering is free-first, then paid tokens by earliest expiry so the
// most perishable pack drains first. Grants are keyed by the originating
// checkout session, absorbing webhook redelivery.
package ledger
