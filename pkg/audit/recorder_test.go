package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metergate/metergate/pkg/billing"
	"github.com/metergate/metergate/pkg/store"
)

func TestRecordConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	conflict := &billing.ConflictError{
		Resource: "stripe_customer_id",
		Value:    "cus_1",
		BoundTo:  7,
		UserID:   42,
	}

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs("evt_1", KindIdentityConflict, "stripe_customer_id", conflict.Error(), int64(42), int64(7)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	recorder := NewRecorder(db)
	require.NoError(t, recorder.RecordConflict(context.Background(), "evt_1", conflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListUnreviewed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "event_id", "kind", "resource", "detail",
		"user_id", "bound_user_id", "reviewed_at", "created_at",
	}).AddRow(int64(1), "evt_1", KindIdentityConflict, "stripe_customer_id",
		"detail", int64(42), int64(7), nil, created)

	mock.ExpectQuery("SELECT (.+) FROM audit_events").
		WithArgs(50).
		WillReturnRows(rows)

	recorder := NewRecorder(db)
	events, err := recorder.ListUnreviewed(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.Equal(t, "evt_1", events[0].EventID)
	require.NotNil(t, events[0].UserID)
	assert.Equal(t, int64(42), *events[0].UserID)
	assert.Nil(t, events[0].ReviewedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkReviewed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE audit_events").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	recorder := NewRecorder(db)
	require.NoError(t, recorder.MarkReviewed(context.Background(), 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkReviewedTwiceIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE audit_events").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	recorder := NewRecorder(db)
	err = recorder.MarkReviewed(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}
