// Package middleware provides the API key authentication and metering
// middleware for the HTTP surface.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/metergate/metergate/pkg/apikey"
	"github.com/metergate/metergate/pkg/billing"
	"github.com/metergate/metergate/pkg/httputil"
	"github.com/metergate/metergate/pkg/observability"
)

type contextKey string

const (
	userContextKey contextKey = "metergate.user"
	keyContextKey  contextKey = "metergate.apikey"
)

// UserFromContext returns the authenticated user, or nil
func UserFromContext(ctx context.Context) *billing.User {
	user, _ := ctx.Value(userContextKey).(*billing.User)
	return user
}

// KeyFromContext returns the authenticated API key, or nil
func KeyFromContext(ctx context.Context) *apikey.Key {
	key, _ := ctx.Value(keyContextKey).(*apikey.Key)
	return key
}

// WithAuth stores the authenticated identity in the context. Exported for
// handler tests that bypass the middleware.
func WithAuth(ctx context.Context, user *billing.User, key *apikey.Key) context.Context {
	ctx = context.WithValue(ctx, userContextKey, user)
	return context.WithValue(ctx, keyContextKey, key)
}

// APIKeyAuth authenticates requests via a bearer API key and places the
// resolved user and key in the request context
func APIKeyAuth(gate *apikey.Gate, metrics *observability.Metrics) httputil.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := bearerToken(r)
			if rawKey == "" {
				metrics.KeyAuthTotal.WithLabelValues("missing").Inc()
				httputil.WriteUnauthorized(w, "missing API key")
				return
			}

			user, key, err := gate.Authenticate(r.Context(), rawKey)
			if err != nil {
				if status := apikey.AuthStatus(err); status != 0 {
					metrics.KeyAuthTotal.WithLabelValues("rejected").Inc()
					httputil.WriteErrorMessage(w, status, err.Error())
					return
				}
				metrics.KeyAuthTotal.WithLabelValues("error").Inc()
				observability.FromContext(r.Context()).WithError(err).Error("api key authentication failed")
				httputil.WriteServiceUnavailable(w, "authentication temporarily unavailable")
				return
			}

			metrics.KeyAuthTotal.WithLabelValues("ok").Inc()
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), user, key)))
		})
	}
}

// RequireScope rejects authenticated requests whose key lacks the scope
func RequireScope(scope string) httputil.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := KeyFromContext(r.Context())
			if key == nil || !key.HasScope(scope) {
				httputil.WriteForbidden(w, "API key does not have the required scope: "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
