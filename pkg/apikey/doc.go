// Package apikey implements API key issuance, storage, and the request
// gate that ties authentication to entitlement enforcement.
//
// # Keys
//
// Keys look like mg_<base64url(32 random bytes)>. The raw secret is
// returned to the caller exactly once at creation; only its SHA256 hash
// is stored, so a database leak never exposes usable credentials.
// Revocation is soft: revoked_at is set and the row is kept for audit.
//
// # Gate
//
// Gate.Authenticate hashes the presented key and looks it up:
//
//	user, key, err := gate.Authenticate(ctx, rawKey)
//	// 401 for malformed or unknown keys, 403 for revoked ones
//
// Gate.Authorize then chains window calculation, the usage ledger, and
// the entitlement check into one decision. Callers commit usage only
// after the metered action succeeds:
//
//	authz, err := gate.Authorize(ctx, user, key, billing.DimensionAPICalls)
//	if err != nil { ... } // entitlement.IsLimitExceeded for plan denials
//	// perform the action
//	gate.Commit(ctx, authz, billing.DimensionAPICalls, 1)
package apikey
