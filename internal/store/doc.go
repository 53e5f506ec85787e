// Package store provides SQLite-backed durable storage for model versions
// and resource state.
//
// The store keeps three kinds of record:
//   - Versions: one immutable model version per (environment, version), with
//     a released flag
//   - Resources: the compiled resources of each version, attributes stored as
//     RFC 8785 canonical JSON
//   - Resource state: the latest status of each resource per environment, plus
//     an append-only transition log
//
// # Ordering
//
// State ordering uses the scheduler's logical seq, never timestamps. Queries
// that return several rows order by a stable key so repeated reads compare
// equal.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Store satisfies scheduler.StateSink, so a scheduler can persist every
// transition directly.
package store
