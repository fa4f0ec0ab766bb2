package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents one schema change
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the full metergate schema in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table with embedded subscription fields",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					email VARCHAR(255) UNIQUE,
					subscription_status VARCHAR(32) NOT NULL DEFAULT 'none',
					current_period_end TIMESTAMP WITH TIME ZONE,
					cancel_at TIMESTAMP WITH TIME ZONE,
					price_id VARCHAR(255),
					plan VARCHAR(64),
					has_used_trial BOOLEAN NOT NULL DEFAULT FALSE,
					trial_start TIMESTAMP WITH TIME ZONE,
					trial_end TIMESTAMP WITH TIME ZONE,
					stripe_customer_id VARCHAR(255),
					stripe_subscription_id VARCHAR(255),
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX idx_users_stripe_customer_id
					ON users(stripe_customer_id) WHERE stripe_customer_id IS NOT NULL;
				CREATE UNIQUE INDEX idx_users_stripe_subscription_id
					ON users(stripe_subscription_id) WHERE stripe_subscription_id IS NOT NULL;
			`,
		},
		{
			Version:     2,
			Description: "Create usage_records table keyed by user and period",
			SQL: `
				CREATE TABLE IF NOT EXISTS usage_records (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					period_start TIMESTAMP WITH TIME ZONE NOT NULL,
					period_end TIMESTAMP WITH TIME ZONE NOT NULL,
					api_calls BIGINT NOT NULL DEFAULT 0,
					items_created BIGINT NOT NULL DEFAULT 0,
					storage_mb BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					last_updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					UNIQUE(user_id, period_start, period_end)
				);

				CREATE INDEX idx_usage_records_user_period
					ON usage_records(user_id, period_start DESC);
			`,
		},
		{
			Version:     3,
			Description: "Create api_keys table with soft revocation",
			SQL: `
				CREATE TABLE IF NOT EXISTS api_keys (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					key_hash VARCHAR(64) NOT NULL UNIQUE,
					key_prefix VARCHAR(16) NOT NULL,
					name VARCHAR(255) NOT NULL,
					scopes TEXT[] NOT NULL DEFAULT '{}',
					last_used_at TIMESTAMP WITH TIME ZONE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					revoked_at TIMESTAMP WITH TIME ZONE
				);

				CREATE INDEX idx_api_keys_user_id ON api_keys(user_id);
			`,
		},
		{
			Version:     4,
			Description: "Create audit_events table for manual-review flags",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id BIGSERIAL PRIMARY KEY,
					event_id VARCHAR(255) NOT NULL,
					kind VARCHAR(50) NOT NULL,
					resource VARCHAR(100),
					detail TEXT,
					user_id BIGINT,
					bound_user_id BIGINT,
					reviewed_at TIMESTAMP WITH TIME ZONE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_audit_events_kind ON audit_events(kind, reviewed_at);
			`,
		},
	}
}

// RunMigrations applies all pending migrations in order
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, m := range GetMigrations() {
		if applied[m.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			m.Version, m.Description); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
