// Package storage persists check history and the report message ledger.
//
// Drivers:
//   - file: JSON Lines history plus an atomically replaced ledger snapshot
//   - sqlite: a single SQLite database (modernc.org/sqlite, no cgo)
//
// The ledger can be moved to Redis independently of the history driver so
// several hosts can hand the report over to each other.
package storage
