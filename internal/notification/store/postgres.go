package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"consular/internal/notification/models"
	"consular/internal/platform/postgres"
	id "consular/pkg/domain"
	"consular/pkg/platform/sentinel"
	"consular/pkg/platform/tx"
)

const notificationColumns = `id, user_id, type, title, message, channels, data, read, read_at, created_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, n *models.Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("marshal notification data: %w", err)
	}
	if n.Data == nil {
		data = []byte("{}")
	}
	_, err = tx.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.UUID(n.ID), uuid.UUID(n.UserID), string(n.Type), n.Title, n.Message,
		pq.Array(channelStrings(n.Channels)), data, n.Read, postgres.NullTime(n.ReadAt), n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID id.UserID, f models.ListFilter) ([]*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = $1 AND deleted_at IS NULL`
	if f.UnreadOnly {
		query += ` AND NOT read`
	}
	query += ` ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, query, uuid.UUID(userID), limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountUnread(ctx context.Context, userID id.UserID) (int, error) {
	var n int
	err := tx.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND deleted_at IS NULL AND NOT read`,
		uuid.UUID(userID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, userID id.UserID, notificationID id.NotificationID, now time.Time) (*models.Notification, error) {
	row := tx.Exec(ctx, s.db).QueryRowContext(ctx, `
		UPDATE notifications SET read = TRUE, read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
		RETURNING `+notificationColumns,
		uuid.UUID(notificationID), uuid.UUID(userID), now)
	return scanNotification(row)
}

func (s *PostgresStore) MarkAllRead(ctx context.Context, userID id.UserID, now time.Time) (int, error) {
	res, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE notifications SET read = TRUE, read_at = $2
		WHERE user_id = $1 AND deleted_at IS NULL AND NOT read`,
		uuid.UUID(userID), now)
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) SoftDelete(ctx context.Context, userID id.UserID, notificationID id.NotificationID, now time.Time) error {
	res, err := tx.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE notifications SET deleted_at = $3
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		uuid.UUID(notificationID), uuid.UUID(userID), now)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var (
		n        models.Notification
		nid, uid uuid.UUID
		typ      string
		channels []string
		data     []byte
		readAt   sql.NullTime
	)
	if err := row.Scan(&nid, &uid, &typ, &n.Title, &n.Message, pq.Array(&channels), &data, &n.Read, &readAt, &n.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &n.Data); err != nil {
			return nil, fmt.Errorf("decode notification data: %w", err)
		}
	}
	n.ID = id.NotificationID(nid)
	n.UserID = id.UserID(uid)
	n.Type = models.Type(typ)
	n.ReadAt = postgres.TimePtr(readAt)
	n.Channels = make([]models.Channel, len(channels))
	for i, c := range channels {
		n.Channels[i] = models.Channel(c)
	}
	return &n, nil
}

func channelStrings(channels []models.Channel) []string {
	out := make([]string, len(channels))
	for i, c := range channels {
		out[i] = string(c)
	}
	return out
}
