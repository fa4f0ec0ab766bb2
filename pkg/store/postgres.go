package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Config holds connection settings for the backing stores
type Config struct {
	PostgresURL string
	MaxConns    int
	MinConns    int
	PingTimeout time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration

	RedisURL string
	CacheTTL time.Duration
}

// DefaultConfig returns connection defaults suitable for a single instance
func DefaultConfig() Config {
	return Config{
		PostgresURL: "postgres://localhost/metergate?sslmode=disable",
		MaxConns:    25,
		MinConns:    5,
		PingTimeout: 5 * time.Second,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 5 * time.Minute,
		// RedisURL stays empty: the user cache is opt-in
		CacheTTL: 5 * time.Minute,
	}
}

// Open opens a PostgreSQL pool and verifies connectivity with a bounded ping.
// All cross-request coordination in metergate happens through this store, so
// the pool is shared by the subscription, usage, and key services.
func Open(cfg Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)
	db.SetConnMaxIdleTime(cfg.MaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return db, nil
}
