// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	METERGATE_HOST="0.0.0.0"
//	METERGATE_PORT="8080"
//	METERGATE_HEALTH_PORT="9090"
//	METERGATE_READ_TIMEOUT="15s"
//	METERGATE_WRITE_TIMEOUT="15s"
//	METERGATE_IDLE_TIMEOUT="60s"
//	METERGATE_SHUTDOWN_TIMEOUT="30s"
//
// Datastore settings:
//
//	METERGATE_POSTGRES_URL="postgres://localhost/metergate?sslmode=disable"
//	METERGATE_POSTGRES_MAX_CONNS="25"
//	METERGATE_POSTGRES_MIN_CONNS="5"
//	METERGATE_REDIS_URL=""              # empty disables the user cache
//	METERGATE_CACHE_TTL="5m"
//
// Billing settings:
//
//	METERGATE_WEBHOOK_SECRET=""         # empty disables signature verification
//	METERGATE_ROLLOVER_SCHEDULE="0 * * * *"
//	METERGATE_PRICE_PLANS="price_abc=pro,price_def=enterprise"
//
// Observability settings:
//
//	METERGATE_LOG_LEVEL="info"
//	METERGATE_METRICS_ENABLED="true"
//	METERGATE_OTEL_ENABLED="false"
//	METERGATE_OTEL_ENDPOINT="localhost:4317"
//	METERGATE_OTEL_SERVICE_NAME="metergate"
//	METERGATE_OTEL_SAMPLE_RATIO="1.0"
//
// # Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
