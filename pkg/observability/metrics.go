package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the billing engine
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Webhook / reconcile metrics
	WebhookEventsTotal     *prometheus.CounterVec // by event type and outcome
	ReconcileTransitions   *prometheus.CounterVec // by from/to status
	ReconcileConflictsTotal prometheus.Counter

	// Entitlement metrics
	EntitlementChecksTotal *prometheus.CounterVec // by dimension and decision

	// Usage ledger metrics
	LedgerOperationsTotal   *prometheus.CounterVec
	LedgerOperationDuration *prometheus.HistogramVec

	// API key metrics
	KeyAuthTotal *prometheus.CounterVec // by outcome
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metergate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metergate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metergate_webhook_events_total",
				Help: "Provider webhook events processed, by type and outcome",
			},
			[]string{"event_type", "outcome"},
		),
		ReconcileTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metergate_reconcile_transitions_total",
				Help: "Subscription status transitions applied by the reconciler",
			},
			[]string{"from", "to"},
		),
		ReconcileConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "metergate_reconcile_conflicts_total",
				Help: "Cross-account events rejected and flagged for review",
			},
		),
		EntitlementChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metergate_entitlement_checks_total",
				Help: "Entitlement decisions, by dimension and decision",
			},
			[]string{"dimension", "decision"},
		),
		LedgerOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metergate_ledger_operations_total",
				Help: "Usage ledger operations, by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		LedgerOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "metergate_ledger_operation_duration_seconds",
				Help:    "Usage ledger operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		KeyAuthTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "metergate_key_auth_total",
				Help: "API key authentication attempts, by outcome",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WebhookEventsTotal,
		m.ReconcileTransitions,
		m.ReconcileConflictsTotal,
		m.EntitlementChecksTotal,
		m.LedgerOperationsTotal,
		m.LedgerOperationDuration,
		m.KeyAuthTotal,
	)

	return m
}

// InstrumentHandler wraps an HTTP handler with request metrics
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// Handler returns the prometheus scrape handler for the registry
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
