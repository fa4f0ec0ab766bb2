package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/metergate/metergate/pkg/apikey"
	"github.com/metergate/metergate/pkg/audit"
	"github.com/metergate/metergate/pkg/billing"
	"github.com/metergate/metergate/pkg/httputil"
	"github.com/metergate/metergate/pkg/middleware"
	"github.com/metergate/metergate/pkg/observability"
	"github.com/metergate/metergate/pkg/usage"
	"github.com/metergate/metergate/pkg/webhook"
)

// Server is the HTTP surface of the billing engine
type Server struct {
	router *mux.Router

	validator  *webhook.Validator
	reconciler *billing.Reconciler
	users      billing.UserStore
	ledger     usage.Ledger
	gate       *apikey.Gate
	keys       apikey.KeyStore
	recorder   *audit.Recorder
	metrics    *observability.Metrics
	logger     *observability.Logger

	// webhookSecret verifies provider signatures. Empty disables
	// verification (local development only).
	webhookSecret string
}

// Config bundles the server's dependencies
type Config struct {
	Validator     *webhook.Validator
	Reconciler    *billing.Reconciler
	Users         billing.UserStore
	Ledger        usage.Ledger
	Gate          *apikey.Gate
	Keys          apikey.KeyStore
	Recorder      *audit.Recorder
	Metrics       *observability.Metrics
	Logger        *observability.Logger
	WebhookSecret string
}

// NewServer creates the API server and sets up routes
func NewServer(cfg Config) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		validator:     cfg.Validator,
		reconciler:    cfg.Reconciler,
		users:         cfg.Users,
		ledger:        cfg.Ledger,
		gate:          cfg.Gate,
		keys:          cfg.Keys,
		recorder:      cfg.Recorder,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		webhookSecret: cfg.WebhookSecret,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	base := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
		httputil.MaxBytesMiddleware(1<<20), // 1MB, webhook payloads are small
	)
	authed := httputil.Chain(middleware.APIKeyAuth(s.gate, s.metrics))
	metered := httputil.Chain(
		middleware.APIKeyAuth(s.gate, s.metrics),
		middleware.RequireScope("metered:write"),
		middleware.Metered(s.gate, s.metrics, s.resolveDimension),
	)

	// Provider webhook ingestion
	s.route("POST", "/v1/webhooks/billing", base(http.HandlerFunc(s.handleWebhook)))

	// Metered entry point for API-key callers
	s.route("POST", "/v1/metered/{dimension}", base(metered(http.HandlerFunc(s.handleMetered))))

	// Usage for the authenticated key's own user
	s.route("GET", "/v1/usage", base(authed(http.HandlerFunc(s.handleOwnUsage))))

	// Usage queries by user id (internal surface, fronted elsewhere)
	s.route("GET", "/v1/users/{id}/usage", base(http.HandlerFunc(s.handleUserUsage)))
	s.route("GET", "/v1/users/{id}/usage/history", base(http.HandlerFunc(s.handleUsageHistory)))
	s.route("GET", "/v1/users/{id}/subscription", base(http.HandlerFunc(s.handleSubscription)))

	// API key management
	s.route("POST", "/v1/users/{id}/keys", base(http.HandlerFunc(s.handleCreateKey)))
	s.route("GET", "/v1/users/{id}/keys", base(http.HandlerFunc(s.handleListKeys)))
	s.route("DELETE", "/v1/users/{id}/keys/{keyId}", base(http.HandlerFunc(s.handleRevokeKey)))

	// Conflict review queue
	s.route("GET", "/v1/audit/conflicts", base(http.HandlerFunc(s.handleListConflicts)))
	s.route("POST", "/v1/audit/conflicts/{id}/review", base(http.HandlerFunc(s.handleReviewConflict)))
}

func (s *Server) route(method, path string, handler http.Handler) {
	s.router.Handle(path, s.metrics.InstrumentHandler(path, handler)).Methods(method)
}

// Handler returns the server's root handler with tracing instrumentation
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "metergate.api")
}

// ServeHTTP implements http.Handler for tests that bypass tracing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
