// Package audit persists events that need a human decision, primarily
// cross-account conflicts the reconciler refuses to apply automatically.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/metergate/metergate/pkg/billing"
	"github.com/metergate/metergate/pkg/store"
)

// Kind labels for audit events
const (
	KindIdentityConflict = "identity_conflict"
)

// Event is a persisted review item
type Event struct {
	ID          int64      `json:"id"`
	EventID     string     `json:"event_id"`
	Kind        string     `json:"kind"`
	Resource    string     `json:"resource,omitempty"`
	Detail      string     `json:"detail,omitempty"`
	UserID      *int64     `json:"user_id,omitempty"`
	BoundUserID *int64     `json:"bound_user_id,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Recorder writes review items to the audit_events table
type Recorder struct {
	db *sql.DB
}

// NewRecorder creates a recorder backed by the given database
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// RecordConflict flags a cross-account event for manual review. It
// satisfies billing.ConflictRecorder.
func (r *Recorder) RecordConflict(ctx context.Context, eventID string, conflict *billing.ConflictError) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (event_id, kind, resource, detail, user_id, bound_user_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		eventID, KindIdentityConflict, conflict.Resource, conflict.Error(),
		conflict.UserID, conflict.BoundTo,
	)
	if err != nil {
		return store.Classify("audit.RecordConflict", "audit event", eventID, err)
	}
	return nil
}

const eventColumns = `id, event_id, kind, resource, detail, user_id, bound_user_id, reviewed_at, created_at`

// ListUnreviewed returns pending review items, oldest first
func (r *Recorder) ListUnreviewed(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM audit_events
		WHERE reviewed_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, store.Classify("audit.ListUnreviewed", "audit event", "unreviewed", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, store.Classify("audit.ListUnreviewed", "audit event", "unreviewed", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Classify("audit.ListUnreviewed", "audit event", "unreviewed", err)
	}
	return events, nil
}

// MarkReviewed records that an operator has handled a review item
func (r *Recorder) MarkReviewed(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE audit_events
		SET reviewed_at = NOW()
		WHERE id = $1 AND reviewed_at IS NULL`,
		id,
	)
	if err != nil {
		return store.Classify("audit.MarkReviewed", "audit event", fmt.Sprintf("%d", id), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return store.Classify("audit.MarkReviewed", "audit event", fmt.Sprintf("%d", id), err)
	}
	if affected == 0 {
		return store.NotFound("audit event", fmt.Sprintf("%d", id))
	}
	return nil
}

func scanEvent(rows *sql.Rows) (*Event, error) {
	var e Event
	var resource, detail sql.NullString
	var userID, boundUserID sql.NullInt64
	var reviewedAt sql.NullTime

	err := rows.Scan(&e.ID, &e.EventID, &e.Kind, &resource, &detail,
		&userID, &boundUserID, &reviewedAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	e.Resource = resource.String
	e.Detail = detail.String
	if userID.Valid {
		e.UserID = &userID.Int64
	}
	if boundUserID.Valid {
		e.BoundUserID = &boundUserID.Int64
	}
	if reviewedAt.Valid {
		e.ReviewedAt = &reviewedAt.Time
	}
	return &e, nil
}
