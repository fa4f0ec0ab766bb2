package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/metergate/metergate/pkg/api"
	"github.com/metergate/metergate/pkg/apikey"
	"github.com/metergate/metergate/pkg/audit"
	"github.com/metergate/metergate/pkg/billing"
	"github.com/metergate/metergate/pkg/config"
	"github.com/metergate/metergate/pkg/entitlement"
	"github.com/metergate/metergate/pkg/observability"
	"github.com/metergate/metergate/pkg/store"
	"github.com/metergate/metergate/pkg/usage"
	"github.com/metergate/metergate/pkg/webhook"
)

func main() {
	migrate := flag.Bool("migrate", true, "Run database migrations on startup")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Observability.OTelEnabled,
		Endpoint:    cfg.Observability.OTelEndpoint,
		ServiceName: cfg.Observability.OTelServiceName,
		SampleRatio: cfg.Observability.OTelSampleRatio,
	})
	if err != nil {
		logger.WithError(err).Error("failed to initialize tracing")
		os.Exit(1)
	}
	defer tracing.Shutdown(context.Background())

	db, err := store.Open(cfg.Store)
	if err != nil {
		logger.WithError(err).Error("failed to connect to postgres")
		os.Exit(1)
	}
	defer db.Close()

	if *migrate {
		if err := store.RunMigrations(ctx, db); err != nil {
			logger.WithError(err).Error("migrations failed")
			os.Exit(1)
		}
		logger.Info("migrations applied")
	}

	var users billing.UserStore = billing.NewPostgresUserStore(db)
	var redisClient *store.RedisClient
	if cfg.Store.RedisURL != "" {
		redisClient, err = store.NewRedisClient(cfg.Store)
		if err != nil {
			logger.WithError(err).Error("failed to connect to redis")
			os.Exit(1)
		}
		defer redisClient.Close()
		users = billing.NewCachedUserStore(users, redisClient)
		logger.Info("user cache enabled")
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	recorder := audit.NewRecorder(db)
	ledger := usage.NewPostgresLedger(db)
	enforcer := entitlement.NewEnforcer(billing.DefaultPlanLimits())
	keys := apikey.NewPostgresKeyStore(db)
	gate := apikey.NewGate(keys, users, ledger, enforcer, logger)

	server := api.NewServer(api.Config{
		Validator:     webhook.NewValidator(cfg.Billing.PricePlans),
		Reconciler:    billing.NewReconciler(users, recorder, logger),
		Users:         users,
		Ledger:        ledger,
		Gate:          gate,
		Keys:          keys,
		Recorder:      recorder,
		Metrics:       metrics,
		Logger:        logger,
		WebhookSecret: cfg.Billing.WebhookSecret,
	})

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux(db, redisClient, registry, cfg.Observability.MetricsEnabled),
	}

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	go func() {
		logger.WithField("addr", apiServer.Addr).Info("api server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("api server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("api server shutdown incomplete")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("health server shutdown incomplete")
	}
	logger.Info("stopped")
}

func healthMux(db *sql.DB, redisClient *store.RedisClient, registry *prometheus.Registry, metricsEnabled bool) http.Handler {
	var redisProbe *redis.Client
	if redisClient != nil {
		redisProbe = redisClient.Underlying()
	}
	checker := observability.NewHealthChecker(db, redisProbe)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", checker.LivenessHandler())
	mux.HandleFunc("/readyz", checker.ReadinessHandler())
	if metricsEnabled {
		mux.Handle("/metrics", observability.MetricsHandler(registry))
	}
	return mux
}
