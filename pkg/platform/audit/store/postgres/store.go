// Package postgres persists audit events in the audit_events table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	id "consular/pkg/domain"
	audit "consular/pkg/platform/audit"
	"consular/pkg/platform/tx"
)

const eventColumns = `category, timestamp, user_id, actor_id, subject, action,
	reason, decision, request_id, client_ip, device`

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts the event. Inside a transaction (tx.WithTx) the write
// commits or rolls back with the business change.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	var userID uuid.NullUUID
	if !event.UserID.IsNil() {
		userID = uuid.NullUUID{UUID: uuid.UUID(event.UserID), Valid: true}
	}
	_, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO audit_events (id, `+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		uuid.New(),
		string(event.Category),
		event.Timestamp,
		userID,
		event.ActorID,
		event.Subject,
		event.Action,
		event.Reason,
		event.Decision,
		event.RequestID,
		event.ClientIP,
		event.Device,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListRecent returns the N most recent events.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM audit_events
		ORDER BY timestamp DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListByUser returns events concerning one user, newest first.
func (s *Store) ListByUser(ctx context.Context, userID id.UserID, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM audit_events
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`, uuid.UUID(userID), limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			category string
			event    audit.Event
			userID   uuid.NullUUID
		)
		err := rows.Scan(
			&category,
			&event.Timestamp,
			&userID,
			&event.ActorID,
			&event.Subject,
			&event.Action,
			&event.Reason,
			&event.Decision,
			&event.RequestID,
			&event.ClientIP,
			&event.Device,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		if userID.Valid {
			event.UserID = id.UserID(userID.UUID)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
