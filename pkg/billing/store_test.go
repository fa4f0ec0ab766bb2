package billing

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metergate/metergate/pkg/store"
)

var userColumnNames = []string{
	"id", "email", "subscription_status", "current_period_end", "cancel_at",
	"price_id", "plan", "has_used_trial", "trial_start", "trial_end",
	"stripe_customer_id", "stripe_subscription_id", "created_at", "updated_at",
}

func activeUserRow() *sqlmock.Rows {
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(userColumnNames).AddRow(
		int64(42), "pro@example.com", "active", now.AddDate(0, 0, 20), nil,
		"price_pro", PlanPro, false, nil, nil,
		"cus_1", "sub_1", now.AddDate(0, -6, 0), now,
	)
}

func TestGetUserScansSubscriptionFields(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs(int64(42)).
		WillReturnRows(activeUserRow())

	s := NewPostgresUserStore(db)
	u, err := s.GetUser(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, int64(42), u.ID)
	assert.Equal(t, "pro@example.com", u.Email)
	assert.Equal(t, StatusActive, u.Subscription.Status)
	assert.Equal(t, PlanPro, u.Subscription.Plan)
	assert.Equal(t, "cus_1", u.Subscription.StripeCustomerID)
	require.NotNil(t, u.Subscription.CurrentPeriodEnd)
	assert.Nil(t, u.Subscription.CancelAt)
	assert.Nil(t, u.Subscription.TrialStart)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	s := NewPostgresUserStore(db)
	_, err = s.GetUser(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByBindings(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE stripe_customer_id").
		WithArgs("cus_1").
		WillReturnRows(activeUserRow())
	mock.ExpectQuery("SELECT (.+) FROM users WHERE stripe_subscription_id").
		WithArgs("sub_1").
		WillReturnRows(activeUserRow())

	s := NewPostgresUserStore(db)

	u, err := s.GetUserByStripeCustomerID(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), u.ID)

	u, err = s.GetUserByStripeSubscriptionID(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), u.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSubscriptionKeepsTrialFlagMonotonic(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	end := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	sub := Subscription{
		Status:               StatusActive,
		CurrentPeriodEnd:     &end,
		PriceID:              "price_pro",
		Plan:                 PlanPro,
		HasUsedTrial:         false,
		StripeCustomerID:     "cus_1",
		StripeSubscriptionID: "sub_1",
	}

	// The stored row already has has_used_trial = true; the OR clause in the
	// update keeps it set even though the caller passed false.
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	returned := sqlmock.NewRows(userColumnNames).AddRow(
		int64(42), "pro@example.com", "active", end, nil,
		"price_pro", PlanPro, true, nil, nil,
		"cus_1", "sub_1", now.AddDate(0, -6, 0), now,
	)

	mock.ExpectQuery("UPDATE users SET subscription_status (.+) has_used_trial = has_used_trial OR").
		WithArgs("active", &end, nil,
			sql.NullString{String: "price_pro", Valid: true},
			sql.NullString{String: PlanPro, Valid: true},
			false, nil, nil,
			sql.NullString{String: "cus_1", Valid: true},
			sql.NullString{String: "sub_1", Valid: true},
			int64(42)).
		WillReturnRows(returned)

	s := NewPostgresUserStore(db)
	u, err := s.UpdateSubscription(context.Background(), 42, sub)
	require.NoError(t, err)
	assert.True(t, u.Subscription.HasUsedTrial)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUserIDs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)).AddRow(int64(3))
	mock.ExpectQuery("SELECT id FROM users ORDER BY id").WillReturnRows(rows)

	s := NewPostgresUserStore(db)
	ids, err := s.ListUserIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
