package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/atinyakov/ejauth/internal/models"
	"github.com/google/uuid"
)

// DefaultEventLimit caps ListEvents when the caller passes no limit.
const DefaultEventLimit = 100

// SQLEventRepository stores the audit trail of bridge commands.
type SQLEventRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewSQLEventRepository creates a new SQLEventRepository using the provided *sql.DB.
func NewSQLEventRepository(db *sql.DB) *SQLEventRepository {
	return &SQLEventRepository{DB: db}
}

// RecordEvent appends ev to the audit trail, filling in ID and CreatedAt
// when they are empty.
func (r *SQLEventRepository) RecordEvent(ctx context.Context, ev models.AuthEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO auth_events (id, username, server, command, success, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.ID, ev.Username, ev.Server, ev.Command, ev.Success, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("RecordEvent: %w", err)
	}
	return nil
}

// ListEvents returns the most recent events, newest first.
//
//	username: filter on account name, empty for any
//	server:   filter on virtual host, empty for any
//	limit:    maximum number of events; <= 0 means DefaultEventLimit
func (r *SQLEventRepository) ListEvents(ctx context.Context, username, server string, limit int) ([]models.AuthEvent, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, username, server, command, success, created_at FROM auth_events
		WHERE ($1 = '' OR username = $1) AND ($2 = '' OR server = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, username, server, limit)
	if err != nil {
		return nil, fmt.Errorf("ListEvents: %w", err)
	}
	defer rows.Close()

	events := make([]models.AuthEvent, 0)
	for rows.Next() {
		var ev models.AuthEvent
		if err := rows.Scan(&ev.ID, &ev.Username, &ev.Server, &ev.Command, &ev.Success, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListEvents: %w", err)
	}
	return events, nil
}

// DeleteEventsBefore removes events older than cutoff and returns how many
// rows were deleted.
func (r *SQLEventRepository) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM auth_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("DeleteEventsBefore: %w", err)
	}
	return res.RowsAffected()
}
