package billing

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/metergate/metergate/pkg/store"
)

const userColumns = `id, email, subscription_status, current_period_end, cancel_at,
	       price_id, plan, has_used_trial, trial_start, trial_end,
	       stripe_customer_id, stripe_subscription_id, created_at, updated_at`

// PostgresUserStore implements UserStore against the users table
type PostgresUserStore struct {
	db *sql.DB
}

// NewPostgresUserStore creates a PostgresUserStore
func NewPostgresUserStore(db *sql.DB) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

// GetUser retrieves a user by id
func (s *PostgresUserStore) GetUser(ctx context.Context, id int64) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id), "get user", strconv.FormatInt(id, 10))
}

// GetUserByEmail retrieves a user by email
func (s *PostgresUserStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, email), "get user by email", email)
}

// GetUserByStripeCustomerID retrieves a user by its provider customer binding
func (s *PostgresUserStore) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE stripe_customer_id = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, customerID), "get user by customer id", customerID)
}

// GetUserByStripeSubscriptionID retrieves a user by its provider subscription binding
func (s *PostgresUserStore) GetUserByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE stripe_subscription_id = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, subscriptionID), "get user by subscription id", subscriptionID)
}

// UpdateSubscription persists the subscription fields for a user and returns
// the updated record. has_used_trial is OR-ed with the stored value so the
// flag stays monotonic even under a buggy caller.
func (s *PostgresUserStore) UpdateSubscription(ctx context.Context, userID int64, sub Subscription) (*User, error) {
	query := `
		UPDATE users
		SET subscription_status = $1,
		    current_period_end = $2,
		    cancel_at = $3,
		    price_id = $4,
		    plan = $5,
		    has_used_trial = has_used_trial OR $6,
		    trial_start = $7,
		    trial_end = $8,
		    stripe_customer_id = $9,
		    stripe_subscription_id = $10,
		    updated_at = NOW()
		WHERE id = $11
		RETURNING ` + userColumns
	row := s.db.QueryRowContext(ctx, query,
		string(sub.Status), sub.CurrentPeriodEnd, sub.CancelAt,
		nullString(sub.PriceID), nullString(sub.Plan), sub.HasUsedTrial,
		sub.TrialStart, sub.TrialEnd,
		nullString(sub.StripeCustomerID), nullString(sub.StripeSubscriptionID),
		userID)
	return s.scanUser(row, "update subscription", strconv.FormatInt(userID, 10))
}

// ListUserIDs returns all user ids, used by the rollover job
func (s *PostgresUserStore) ListUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, store.Classify("list users", "user", "", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateUser inserts a user (used by tests and provisioning flows)
func (s *PostgresUserStore) CreateUser(ctx context.Context, email string) (*User, error) {
	query := `
		INSERT INTO users (email)
		VALUES ($1)
		RETURNING ` + userColumns
	return s.scanUser(s.db.QueryRowContext(ctx, query, email), "create user", email)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *PostgresUserStore) scanUser(row rowScanner, op, key string) (*User, error) {
	u := &User{}
	var (
		email, priceID, plan, customerID, subscriptionID sql.NullString
		periodEnd, cancelAt, trialStart, trialEnd        sql.NullTime
		status                                           string
	)
	err := row.Scan(
		&u.ID, &email, &status, &periodEnd, &cancelAt,
		&priceID, &plan, &u.Subscription.HasUsedTrial, &trialStart, &trialEnd,
		&customerID, &subscriptionID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, store.Classify(op, "user", key, err)
	}

	u.Email = email.String
	u.Subscription.Status = Status(status)
	u.Subscription.CurrentPeriodEnd = nullableTime(periodEnd)
	u.Subscription.CancelAt = nullableTime(cancelAt)
	u.Subscription.PriceID = priceID.String
	u.Subscription.Plan = plan.String
	u.Subscription.TrialStart = nullableTime(trialStart)
	u.Subscription.TrialEnd = nullableTime(trialEnd)
	u.Subscription.StripeCustomerID = customerID.String
	u.Subscription.StripeSubscriptionID = subscriptionID.String

	return u, nil
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
