package apikey

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/metergate/metergate/pkg/billing"
	"github.com/metergate/metergate/pkg/entitlement"
	"github.com/metergate/metergate/pkg/observability"
	"github.com/metergate/metergate/pkg/store"
	"github.com/metergate/metergate/pkg/usage"
)

// AuthError is an authentication failure with the HTTP status the caller
// should return. 401 for unknown or malformed keys, 403 for revoked ones.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

// IsAuthError checks if an error is an AuthError
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// AuthStatus returns the HTTP status of an AuthError, or 0 for other errors
func AuthStatus(err error) int {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}

// Authorization is the combined outcome of a metered-request check: the
// entitlement decision plus the usage snapshot it was made against.
type Authorization struct {
	User     *billing.User
	Key      *Key
	Decision entitlement.Decision
	Record   *usage.Record
}

// Gate authenticates API keys and authorizes metered requests. A request
// flows key hash lookup, then billing window, then usage ledger, then
// entitlement check.
type Gate struct {
	keys     KeyStore
	users    billing.UserStore
	ledger   usage.Ledger
	enforcer *entitlement.Enforcer
	logger   *observability.Logger
	now      func() time.Time
}

// NewGate creates a gate over the given stores
func NewGate(keys KeyStore, users billing.UserStore, ledger usage.Ledger, enforcer *entitlement.Enforcer, logger *observability.Logger) *Gate {
	return &Gate{
		keys:     keys,
		users:    users,
		ledger:   ledger,
		enforcer: enforcer,
		logger:   logger,
		now:      time.Now,
	}
}

// Authenticate resolves a raw API key to its owning user. Malformed and
// unknown keys fail with 401; revoked keys fail with 403 regardless of
// hash validity.
func (g *Gate) Authenticate(ctx context.Context, rawKey string) (*billing.User, *Key, error) {
	if err := ValidateKeyFormat(rawKey); err != nil {
		return nil, nil, &AuthError{Status: http.StatusUnauthorized, Message: "invalid API key"}
	}

	key, err := g.keys.GetByHash(ctx, HashKey(rawKey))
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil, &AuthError{Status: http.StatusUnauthorized, Message: "invalid API key"}
		}
		return nil, nil, err
	}
	if key.Revoked() {
		return nil, nil, &AuthError{Status: http.StatusForbidden, Message: "API key has been revoked"}
	}

	user, err := g.users.GetUser(ctx, key.UserID)
	if err != nil {
		if store.IsNotFound(err) {
			// Key outlived its user; treat like an unknown key.
			return nil, nil, &AuthError{Status: http.StatusUnauthorized, Message: "invalid API key"}
		}
		return nil, nil, err
	}

	if err := g.keys.TouchLastUsed(ctx, key.ID); err != nil {
		g.logger.WithError(err).WithField("key_id", key.ID).Warn("failed to update key last-used timestamp")
	}

	return user, key, nil
}

// Authorize checks whether the user may consume one unit of the dimension
// in their current billing window. Denial returns a LimitExceededError
// alongside the decision so callers can render the numeric limit.
//
// The check is advisory: call Commit only after the metered action
// succeeds.
func (g *Gate) Authorize(ctx context.Context, user *billing.User, key *Key, dimension billing.Dimension) (*Authorization, error) {
	window, err := g.currentWindow(ctx, user)
	if err != nil {
		return nil, err
	}

	record, err := g.ledger.GetOrCreate(ctx, user.ID, window)
	if err != nil {
		return nil, err
	}

	decision, err := g.enforcer.Require(user, record, dimension)
	authz := &Authorization{User: user, Key: key, Decision: decision, Record: record}
	if err != nil {
		return authz, err
	}
	return authz, nil
}

// Commit records one completed metered action against the authorization's
// window
func (g *Gate) Commit(ctx context.Context, authz *Authorization, dimension billing.Dimension, amount int64) (*usage.Record, error) {
	return g.ledger.Increment(ctx, authz.User.ID, dimension, amount, authz.Record.Window())
}

// CurrentUsage returns the user's usage record for their current billing
// window, creating a zeroed record for a fresh period.
func (g *Gate) CurrentUsage(ctx context.Context, user *billing.User) (*usage.Record, error) {
	window, err := g.currentWindow(ctx, user)
	if err != nil {
		return nil, err
	}
	return g.ledger.GetOrCreate(ctx, user.ID, window)
}

func (g *Gate) currentWindow(ctx context.Context, user *billing.User) (billing.Window, error) {
	var prior *billing.Window
	latest, err := g.ledger.Latest(ctx, user.ID)
	switch {
	case err == nil:
		w := latest.Window()
		prior = &w
	case store.IsNotFound(err):
		// First request ever; the calculator infers the window.
	default:
		return billing.Window{}, err
	}

	return billing.ComputeWindow(user, prior, g.now()), nil
}
