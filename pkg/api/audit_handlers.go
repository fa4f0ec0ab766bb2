package api

import (
	"net/http"

	"github.com/metergate/metergate/pkg/audit"
	"github.com/metergate/metergate/pkg/httputil"
)

// handleListConflicts returns cross-account events awaiting manual review
func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := s.recorder.ListUnreviewed(r.Context(), limit)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	if events == nil {
		events = []*audit.Event{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"conflicts": events})
}

// handleReviewConflict marks a flagged conflict as handled by an operator
func (s *Server) handleReviewConflict(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.recorder.MarkReviewed(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
