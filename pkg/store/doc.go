// Package store provides shared persistence plumbing for the metergate services.
//
// # Overview
//
// This package owns the PostgreSQL connection pool, the Redis client used for
// read-through caching, and the error taxonomy that the domain stores
// (pkg/billing, pkg/usage, pkg/apikey) surface to callers.
//
// # Error Taxonomy
//
// Store-level failures are split into two categories:
//
//	store.NotFoundError  - the requested row does not exist (permanent)
//	store.TransientError - the backing store was unavailable (retryable)
//
// Callers distinguish them with the predicate helpers:
//
//	if store.IsNotFound(err) { ... }   // 404 to the client
//	if store.IsTransient(err) { ... }  // 503, provider/webhook retry applies
//
// # Connections
//
// Open a pool with bounded ping timeout:
//
//	db, err := store.Open(store.Config{PostgresURL: url, MaxConns: 25})
//
// # Related Packages
//
//   - pkg/usage: atomic usage counters on top of this pool
//   - pkg/billing: subscription records and redis cache
package store
