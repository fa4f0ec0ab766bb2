package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/metergate/metergate/pkg/apikey"
	"github.com/metergate/metergate/pkg/billing"
	"github.com/metergate/metergate/pkg/entitlement"
	"github.com/metergate/metergate/pkg/httputil"
	"github.com/metergate/metergate/pkg/observability"
	"github.com/metergate/metergate/pkg/store"
)

const authzContextKey contextKey = "metergate.authorization"

// AuthorizationFromContext returns the entitlement decision and usage
// snapshot the Metered middleware checked against, or nil
func AuthorizationFromContext(ctx context.Context) *apikey.Authorization {
	authz, _ := ctx.Value(authzContextKey).(*apikey.Authorization)
	return authz
}

// DimensionResolver maps a request to the usage dimension it consumes
type DimensionResolver func(r *http.Request) billing.Dimension

// StaticDimension resolves every request to the same dimension
func StaticDimension(d billing.Dimension) DimensionResolver {
	return func(*http.Request) billing.Dimension { return d }
}

// Metered enforces plan limits around a handler. The check runs before
// the handler; usage is committed only when the handler reports success
// (2xx). Two concurrent requests can both pass the pre-handler check,
// overrunning the cap by at most one unit per pair; that soft-limit
// semantic is accepted.
//
// Requires APIKeyAuth upstream.
func Metered(gate *apikey.Gate, metrics *observability.Metrics, resolve DimensionResolver) httputil.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFromContext(r.Context())
			key := KeyFromContext(r.Context())
			if user == nil {
				httputil.WriteUnauthorized(w, "missing API key")
				return
			}

			dimension := resolve(r)
			if !billing.ValidDimension(dimension) {
				httputil.WriteBadRequest(w, "unknown usage dimension: "+string(dimension))
				return
			}

			authz, err := gate.Authorize(r.Context(), user, key, dimension)
			if err != nil {
				writeAuthorizeError(w, r, metrics, dimension, err)
				return
			}
			metrics.EntitlementChecksTotal.WithLabelValues(string(dimension), "allow").Inc()

			ctx := context.WithValue(r.Context(), authzContextKey, authz)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			if rec.status >= 200 && rec.status < 300 {
				if _, err := gate.Commit(r.Context(), authz, dimension, 1); err != nil {
					// The action already happened; losing the increment
					// under-counts rather than failing the request.
					observability.FromContext(r.Context()).
						WithError(err).
						WithField("user_id", user.ID).
						Error("failed to record usage after successful request")
					metrics.LedgerOperationsTotal.WithLabelValues("increment", "error").Inc()
					return
				}
				metrics.LedgerOperationsTotal.WithLabelValues("increment", "ok").Inc()
			}
		})
	}
}

func writeAuthorizeError(w http.ResponseWriter, r *http.Request, metrics *observability.Metrics, dimension billing.Dimension, err error) {
	var le *entitlement.LimitExceededError
	switch {
	case errors.As(err, &le):
		metrics.EntitlementChecksTotal.WithLabelValues(string(dimension), "deny").Inc()
		httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":     le.Error(),
			"limit":     le.Limit,
			"remaining": 0,
		})
	case store.IsTransient(err):
		observability.FromContext(r.Context()).WithError(err).Error("entitlement check unavailable")
		httputil.WriteServiceUnavailable(w, "usage tracking temporarily unavailable")
	default:
		observability.FromContext(r.Context()).WithError(err).Error("entitlement check failed")
		httputil.WriteInternalError(w, err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}
