package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/metergate/metergate/pkg/observability"
	"github.com/metergate/metergate/pkg/store"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Store configuration
	Store store.Config

	// Billing configuration
	Billing BillingConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// BillingConfig holds payment provider and enforcement settings
type BillingConfig struct {
	// WebhookSecret verifies provider signatures on incoming events.
	// Empty disables signature verification (local development only).
	WebhookSecret string

	// RolloverSchedule is the cron expression for the billing period
	// rollover job.
	RolloverSchedule string

	// PricePlans maps provider price ids to plan names, used when an
	// event carries no plan metadata.
	PricePlans map[string]string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled     bool
	OTelEndpoint    string
	OTelServiceName string
	OTelSampleRatio float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Store:         loadStoreConfig(),
		Billing:       loadBillingConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("METERGATE_HOST", "0.0.0.0"),
		Port:            getEnv("METERGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("METERGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("METERGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("METERGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("METERGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("METERGATE_HEALTH_PORT", "9090"),
	}
}

// loadStoreConfig loads datastore configuration from environment
func loadStoreConfig() store.Config {
	cfg := store.DefaultConfig()

	if pgURL := getEnv("METERGATE_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("METERGATE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("METERGATE_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	if timeout := getEnvDuration("METERGATE_POSTGRES_PING_TIMEOUT", 0); timeout > 0 {
		cfg.PingTimeout = timeout
	}
	if redisURL := getEnv("METERGATE_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if ttl := getEnvDuration("METERGATE_CACHE_TTL", 0); ttl > 0 {
		cfg.CacheTTL = ttl
	}

	return cfg
}

// loadBillingConfig loads billing configuration from environment
func loadBillingConfig() BillingConfig {
	return BillingConfig{
		WebhookSecret:    getEnv("METERGATE_WEBHOOK_SECRET", ""),
		RolloverSchedule: getEnv("METERGATE_ROLLOVER_SCHEDULE", "0 * * * *"),
		PricePlans:       getEnvMap("METERGATE_PRICE_PLANS"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:        observability.ParseLogLevel(getEnv("METERGATE_LOG_LEVEL", "info")),
		MetricsEnabled:  getEnvBool("METERGATE_METRICS_ENABLED", true),
		OTelEnabled:     getEnvBool("METERGATE_OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("METERGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName: getEnv("METERGATE_OTEL_SERVICE_NAME", "metergate"),
		OTelSampleRatio: getEnvFloat("METERGATE_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Store.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be in [0, 1]")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvMap parses a "key1=val1,key2=val2" environment variable into a map.
// Returns nil when the variable is unset or holds no valid pairs.
func getEnvMap(key string) map[string]string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	m := make(map[string]string)
	for _, pair := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" || v == "" {
			continue
		}
		m[k] = v
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
