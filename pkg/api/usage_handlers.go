package api

import (
	"net/http"
	"time"

	"github.com/metergate/metergate/pkg/billing"
	"github.com/metergate/metergate/pkg/httputil"
	"github.com/metergate/metergate/pkg/middleware"
	"github.com/metergate/metergate/pkg/observability"
	"github.com/metergate/metergate/pkg/store"
	"github.com/metergate/metergate/pkg/usage"
)

func (s *Server) resolveDimension(r *http.Request) billing.Dimension {
	d, _ := httputil.ParsePathString(r, "dimension")
	return billing.Dimension(d)
}

type usageSnapshot struct {
	APICalls      int64     `json:"api_calls"`
	ItemsCreated  int64     `json:"items_created"`
	StorageMB     int64     `json:"storage_mb"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

func snapshot(record *usage.Record) usageSnapshot {
	return usageSnapshot{
		APICalls:      record.APICalls,
		ItemsCreated:  record.ItemsCreated,
		StorageMB:     record.StorageMB,
		PeriodStart:   record.PeriodStart,
		PeriodEnd:     record.PeriodEnd,
		LastUpdatedAt: record.LastUpdatedAt,
	}
}

// handleMetered is the metered entry point. The Metered middleware has
// already authorized the request and commits one unit after this handler
// returns success; the response carries the usage snapshot the decision
// was made against.
func (s *Server) handleMetered(w http.ResponseWriter, r *http.Request) {
	authz := middleware.AuthorizationFromContext(r.Context())
	if authz == nil {
		httputil.WriteInternalError(w, errMissingAuthorization)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"ok":        true,
		"usage":     snapshot(authz.Record),
		"limit":     authz.Decision.Limit,
		"remaining": authz.Decision.Remaining,
	})
}

// handleOwnUsage returns the current billing period's usage for the
// authenticated key's user
func (s *Server) handleOwnUsage(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		httputil.WriteUnauthorized(w, "missing API key")
		return
	}

	record, err := s.gate.CurrentUsage(r.Context(), user)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, snapshot(record))
}

// handleUserUsage returns a user's usage record, for the current window
// by default or for explicit period bounds when both are supplied
func (s *Server) handleUserUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	user, err := s.users.GetUser(r.Context(), userID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	window, ok, err := explicitWindow(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if !ok {
		record, err := s.gate.CurrentUsage(r.Context(), user)
		if err != nil {
			s.writeStoreError(w, r, err)
			return
		}
		httputil.WriteSuccess(w, snapshot(record))
		return
	}

	// Explicit bounds are a pure read. Record creation happens only on the
	// metered path against the user's computed window; a query for a period
	// that was never metered is a 404, not a new zeroed record.
	record, err := s.ledger.Get(r.Context(), userID, window)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, snapshot(record))
}

// handleUsageHistory returns past billing periods, newest first
func (s *Server) handleUsageHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 12)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	records, err := s.ledger.History(r.Context(), userID, limit)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	snapshots := make([]usageSnapshot, 0, len(records))
	for _, record := range records {
		snapshots = append(snapshots, snapshot(record))
	}
	httputil.WriteSuccess(w, map[string]interface{}{"history": snapshots})
}

// handleSubscription returns a user's subscription state plus the derived
// access predicate
func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	user, err := s.users.GetUser(r.Context(), userID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"subscription":            user.Subscription,
		"has_active_subscription": user.HasActiveSubscription(time.Now()),
	})
}

// explicitWindow parses optional period_start/period_end query bounds.
// Both must be present RFC3339 timestamps to take effect.
func explicitWindow(r *http.Request) (billing.Window, bool, error) {
	startStr := r.URL.Query().Get("period_start")
	endStr := r.URL.Query().Get("period_end")
	if startStr == "" && endStr == "" {
		return billing.Window{}, false, nil
	}
	if startStr == "" || endStr == "" {
		return billing.Window{}, false, errPartialWindow
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return billing.Window{}, false, err
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return billing.Window{}, false, err
	}
	if !end.After(start) {
		return billing.Window{}, false, errInvertedWindow
	}
	return billing.Window{Start: start, End: end}, true, nil
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case store.IsNotFound(err):
		httputil.WriteNotFoundError(w, err.Error())
	case store.IsTransient(err):
		observability.FromContext(r.Context()).WithError(err).Error("store unavailable")
		httputil.WriteServiceUnavailable(w, "storage temporarily unavailable")
	default:
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
		httputil.WriteInternalError(w, err)
	}
}
