package api

import (
	"io"
	"net/http"

	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/metergate/metergate/pkg/billing"
	"github.com/metergate/metergate/pkg/httputil"
	"github.com/metergate/metergate/pkg/observability"
	"github.com/metergate/metergate/pkg/store"
	"github.com/metergate/metergate/pkg/webhook"
)

type webhookResponse struct {
	Received bool `json:"received"`
	Applied  bool `json:"applied"`
}

// handleWebhook ingests provider events. Permanent failures (malformed
// payloads, identity conflicts) are acked so the provider stops retrying;
// transient store failures return 503 so the provider's retry mechanism
// redelivers.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}

	if s.webhookSecret != "" {
		signature := r.Header.Get("Stripe-Signature")
		if _, err := stripewebhook.ConstructEvent(body, signature, s.webhookSecret); err != nil {
			s.metrics.WebhookEventsTotal.WithLabelValues("unknown", "bad_signature").Inc()
			logger.WithError(err).Warn("webhook signature verification failed")
			httputil.WriteUnauthorized(w, "invalid webhook signature")
			return
		}
	}

	event, err := s.validator.Validate(body)
	if err != nil {
		// Permanent: ack receipt, log, drop.
		s.metrics.WebhookEventsTotal.WithLabelValues("unknown", "invalid").Inc()
		logger.WithError(err).Warn("dropping structurally invalid webhook event")
		httputil.WriteJSON(w, http.StatusOK, webhookResponse{Received: true})
		return
	}

	eventLogger := logger.WithFields(map[string]interface{}{
		"event_id":   event.EventID(),
		"event_type": event.EventType(),
	})

	if _, ok := event.(billing.UnknownEvent); ok {
		s.metrics.WebhookEventsTotal.WithLabelValues(event.EventType(), "ignored").Inc()
		eventLogger.Debug("ignoring unhandled webhook event type")
		httputil.WriteJSON(w, http.StatusOK, webhookResponse{Received: true})
		return
	}

	_, err = s.reconciler.Apply(r.Context(), event)
	switch {
	case err == nil:
		s.metrics.WebhookEventsTotal.WithLabelValues(event.EventType(), "applied").Inc()
		httputil.WriteJSON(w, http.StatusOK, webhookResponse{Received: true, Applied: true})
	case billing.IsConflict(err):
		// Flagged for manual review by the reconciler; the provider must
		// not retry.
		s.metrics.WebhookEventsTotal.WithLabelValues(event.EventType(), "conflict").Inc()
		s.metrics.ReconcileConflictsTotal.Inc()
		httputil.WriteJSON(w, http.StatusOK, webhookResponse{Received: true})
	case store.IsNotFound(err):
		// No matching user; nothing to reconcile against. Permanent.
		s.metrics.WebhookEventsTotal.WithLabelValues(event.EventType(), "no_user").Inc()
		eventLogger.WithError(err).Warn("dropping webhook event with no matching user")
		httputil.WriteJSON(w, http.StatusOK, webhookResponse{Received: true})
	case webhook.IsValidation(err):
		s.metrics.WebhookEventsTotal.WithLabelValues(event.EventType(), "invalid").Inc()
		eventLogger.WithError(err).Warn("dropping invalid webhook event")
		httputil.WriteJSON(w, http.StatusOK, webhookResponse{Received: true})
	default:
		// Transient: the provider's retry mechanism redelivers.
		s.metrics.WebhookEventsTotal.WithLabelValues(event.EventType(), "retryable").Inc()
		eventLogger.WithError(err).Error("webhook reconciliation failed, requesting redelivery")
		httputil.WriteServiceUnavailable(w, "event processing temporarily unavailable")
	}
}
