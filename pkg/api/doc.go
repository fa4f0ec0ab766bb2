// Package api wires the billing engine into its HTTP surface.
//
// # Routes
//
// Provider-facing:
//
//	POST /v1/webhooks/billing      webhook ingestion (signed payloads)
//
// API-key callers:
//
//	POST /v1/metered/{dimension}   metered entry point, enforces plan limits
//	GET  /v1/usage                 current period usage for the key's user
//
// Internal surface:
//
//	GET    /v1/users/{id}/usage            usage record, current or explicit period
//	GET    /v1/users/{id}/usage/history    past billing periods
//	GET    /v1/users/{id}/subscription     subscription state + access predicate
//	POST   /v1/users/{id}/keys             issue a key (raw secret shown once)
//	GET    /v1/users/{id}/keys             list keys
//	DELETE /v1/users/{id}/keys/{keyId}     revoke a key
//	GET    /v1/audit/conflicts             manual-review queue
//	POST   /v1/audit/conflicts/{id}/review mark a conflict handled
//
// # Webhook semantics
//
// The endpoint distinguishes permanent from transient failures. Malformed
// payloads, identity conflicts, and events with no matching user are
// acked with 200 so the provider stops retrying; transient store failures
// return 503 and rely on the provider's redelivery. The engine provides
// idempotence, not redelivery.
package api
