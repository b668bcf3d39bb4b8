package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consular/internal/notification/models"
	id "consular/pkg/domain"
	"consular/pkg/platform/sentinel"
)

var notificationRowColumns = []string{"id", "user_id", "type", "title", "message", "channels", "data", "read", "read_at", "created_at"}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgres(db), mock
}

func TestPostgresCreate(t *testing.T) {
	store, mock := newMockStore(t)
	n := &models.Notification{
		ID:        id.NotificationID(uuid.New()),
		UserID:    id.UserID(uuid.New()),
		Type:      models.TypeDocumentRejected,
		Title:     "Document rejected",
		Channels:  []models.Channel{models.ChannelApp, models.ChannelEmail},
		CreatedAt: time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO notifications").
		WithArgs(uuid.UUID(n.ID), uuid.UUID(n.UserID), "DOCUMENT_REJECTED", "Document rejected", "",
			sqlmock.AnyArg(), []byte("{}"), false, sqlmock.AnyArg(), n.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Create(context.Background(), n))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListUnread(t *testing.T) {
	store, mock := newMockStore(t)
	userID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("FROM notifications WHERE user_id = \\$1 AND deleted_at IS NULL AND NOT read ORDER BY created_at DESC").
		WithArgs(userID, 50, 0).
		WillReturnRows(sqlmock.NewRows(notificationRowColumns).
			AddRow(uuid.NewString(), userID.String(), "REQUEST_STATUS_CHANGED", "Request submitted", "", "{APP,SMS}", []byte(`{"status":"SUBMITTED"}`), false, nil, now))

	list, err := store.ListByUser(context.Background(), id.UserID(userID), models.ListFilter{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "SUBMITTED", list[0].Data["status"])
	assert.Equal(t, []models.Channel{models.ChannelApp, models.ChannelSMS}, list[0].Channels)
	assert.Nil(t, list[0].ReadAt)
}

func TestPostgresSoftDeleteMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE notifications SET deleted_at").WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SoftDelete(context.Background(), id.UserID(uuid.New()), id.NotificationID(uuid.New()), time.Now())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
