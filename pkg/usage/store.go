package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/metergate/metergate/pkg/billing"
	"github.com/metergate/metergate/pkg/store"
)

// Ledger is the usage record store. All cross-request coordination happens
// through the database: the compound unique key makes first access safe
// under concurrency, and increments are single atomic updates.
type Ledger interface {
	// GetOrCreate returns the record for the exact (userID, window) key,
	// creating it with zeroed counters if absent. Concurrent first access
	// for a new period creates at most one record.
	GetOrCreate(ctx context.Context, userID int64, window billing.Window) (*Record, error)

	// Get returns the record for the exact (userID, window) key, or a
	// NotFoundError if none exists. Never creates.
	Get(ctx context.Context, userID int64, window billing.Window) (*Record, error)

	// Increment atomically adds amount to the named counter and refreshes
	// LastUpdatedAt, creating the record first if needed. Concurrent
	// increments are never lost.
	Increment(ctx context.Context, userID int64, dimension billing.Dimension, amount int64, window billing.Window) (*Record, error)

	// Latest returns the most recent record for the user, or a
	// NotFoundError if the user has no usage history.
	Latest(ctx context.Context, userID int64) (*Record, error)

	// History returns up to limit records for the user, newest first.
	History(ctx context.Context, userID int64, limit int) ([]*Record, error)
}

const recordColumns = `id, user_id, period_start, period_end, api_calls, items_created, storage_mb, created_at, last_updated_at`

// PostgresLedger implements Ledger on PostgreSQL
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger creates a ledger backed by the given database
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) GetOrCreate(ctx context.Context, userID int64, window billing.Window) (*Record, error) {
	// Create-then-fetch-on-conflict: the unique constraint on
	// (user_id, period_start, period_end) resolves concurrent first access.
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO usage_records (user_id, period_start, period_end)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, period_start, period_end) DO NOTHING`,
		userID, window.Start, window.End,
	)
	if err != nil {
		return nil, fmt.Errorf("creating usage record for user %d: %w",
			userID, store.Classify("usage.GetOrCreate", "usage record", recordKey(userID, window), err))
	}

	return l.fetch(ctx, userID, window)
}

// Get is the read-only lookup for an exact period. Queries for windows that
// were never metered return a NotFoundError instead of minting a record.
func (l *PostgresLedger) Get(ctx context.Context, userID int64, window billing.Window) (*Record, error) {
	return l.fetch(ctx, userID, window)
}

func (l *PostgresLedger) Increment(ctx context.Context, userID int64, dimension billing.Dimension, amount int64, window billing.Window) (*Record, error) {
	column, err := counterColumn(dimension)
	if err != nil {
		return nil, err
	}
	if amount < 0 {
		return nil, fmt.Errorf("increment amount must be non-negative, got %d", amount)
	}

	record, err := l.increment(ctx, userID, column, amount, window)
	if store.IsNotFound(err) {
		// First increment of a fresh period. Create the record, then
		// retry; a concurrent creator losing the insert race is fine.
		if _, err := l.GetOrCreate(ctx, userID, window); err != nil {
			return nil, err
		}
		record, err = l.increment(ctx, userID, column, amount, window)
	}
	if err != nil {
		return nil, fmt.Errorf("incrementing %s for user %d: %w", dimension, userID, err)
	}
	return record, nil
}

func (l *PostgresLedger) increment(ctx context.Context, userID int64, column string, amount int64, window billing.Window) (*Record, error) {
	// column comes from counterColumn, never from caller input
	query := fmt.Sprintf(`
		UPDATE usage_records
		SET %s = %s + $1, last_updated_at = NOW()
		WHERE user_id = $2 AND period_start = $3 AND period_end = $4
		RETURNING `+recordColumns, column, column)

	row := l.db.QueryRowContext(ctx, query, amount, userID, window.Start, window.End)
	record, err := scanRecord(row)
	if err != nil {
		return nil, store.Classify("usage.Increment", "usage record", recordKey(userID, window), err)
	}
	return record, nil
}

func (l *PostgresLedger) fetch(ctx context.Context, userID int64, window billing.Window) (*Record, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM usage_records
		WHERE user_id = $1 AND period_start = $2 AND period_end = $3`,
		userID, window.Start, window.End,
	)
	record, err := scanRecord(row)
	if err != nil {
		return nil, store.Classify("usage.Get", "usage record", recordKey(userID, window), err)
	}
	return record, nil
}

func (l *PostgresLedger) Latest(ctx context.Context, userID int64) (*Record, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM usage_records
		WHERE user_id = $1
		ORDER BY period_start DESC
		LIMIT 1`,
		userID,
	)
	record, err := scanRecord(row)
	if err != nil {
		return nil, store.Classify("usage.Latest", "usage record", fmt.Sprintf("user %d", userID), err)
	}
	return record, nil
}

func (l *PostgresLedger) History(ctx context.Context, userID int64, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 12
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM usage_records
		WHERE user_id = $1
		ORDER BY period_start DESC
		LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, store.Classify("usage.History", "usage record", fmt.Sprintf("user %d", userID), err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, store.Classify("usage.History", "usage record", fmt.Sprintf("user %d", userID), err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Classify("usage.History", "usage record", fmt.Sprintf("user %d", userID), err)
	}
	return records, nil
}

// counterColumn maps a dimension to its ledger column. The closed switch
// keeps dimension names out of SQL string construction.
func counterColumn(d billing.Dimension) (string, error) {
	switch d {
	case billing.DimensionAPICalls:
		return "api_calls", nil
	case billing.DimensionItemsCreated:
		return "items_created", nil
	case billing.DimensionStorageMB:
		return "storage_mb", nil
	default:
		return "", fmt.Errorf("unknown usage dimension: %s", d)
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var r Record
	err := row.Scan(
		&r.ID, &r.UserID, &r.PeriodStart, &r.PeriodEnd,
		&r.APICalls, &r.ItemsCreated, &r.StorageMB,
		&r.CreatedAt, &r.LastUpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func recordKey(userID int64, window billing.Window) string {
	return fmt.Sprintf("user %d period %s", userID, window.Start.Format(time.RFC3339))
}
