// Package usage implements the per-period usage ledger.
//
// Each user accumulates counters (api_calls, items_created, storage_mb)
// against a billing window. Records are keyed by the compound
// (user_id, period_start, period_end) and old records are immutable
// history: rollover is just GetOrCreate with the new window, no close-out
// step.
//
// Correctness under concurrency comes from the store, not application
// locks:
//
//   - GetOrCreate uses INSERT ... ON CONFLICT DO NOTHING against the
//     compound unique key, so 50 concurrent first accesses yield one record.
//   - Increment is a single UPDATE ... SET counter = counter + n, so
//     concurrent increments are never lost to read-modify-write races.
//
// Store failures surface to the caller wrapped with the user and
// dimension context. Silent usage loss is worse than a visible failure.
package usage
