package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/peoli-api/internal/model"
	"github.com/jwalitptl/peoli-api/internal/repository"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

var notificationRowColumns = []string{
	"id", "user_id", "kind", "send_at", "payload", "status", "claimed_at", "sent_at", "created_at", "updated_at",
}

func TestNotificationRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(NewBaseRepository(db))

	sendAt := time.Now().Add(30 * time.Second)
	n := &model.ScheduledNotification{
		UserID:  7,
		Kind:    model.NotificationKindRest,
		SendAt:  sendAt,
		Payload: model.Payload{Title: "t", Body: "b", Data: model.JSONMap{"url": "/"}},
	}

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO scheduled_notifications")).
		WithArgs(int64(7), model.NotificationKindRest, sendAt, sqlmock.AnyArg(), model.NotificationStatusPending, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(41))

	require.NoError(t, repo.Create(context.Background(), n))
	assert.Equal(t, int64(41), n.ID)
	assert.Equal(t, model.NotificationStatusPending, n.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_Cancel(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(NewBaseRepository(db))

	query := regexp.QuoteMeta("WHERE id = $1 AND user_id = $2 AND status = 'PENDING'")
	mock.ExpectExec(query).WithArgs(int64(1), int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WithArgs(int64(1), int64(7)).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Cancel(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Cancel(context.Background(), 1, 7)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_CancelAllPending(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(NewBaseRepository(db))

	mock.ExpectExec(regexp.QuoteMeta("WHERE user_id = $1 AND status = 'PENDING' AND kind = $2")).
		WithArgs(int64(7), model.NotificationKindRest).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := repo.CancelAllPending(context.Background(), 7, model.NotificationKindRest)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	mock.ExpectExec(regexp.QuoteMeta("WHERE user_id = $1 AND status = 'PENDING'")).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 5))

	count, err = repo.CancelAllPending(context.Background(), 7, "")
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_ClaimDue(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(NewBaseRepository(db))

	now := time.Now().UTC()
	stale := now.Add(-2 * time.Minute)

	rows := sqlmock.NewRows(notificationRowColumns).
		AddRow(1, 7, "REST", now.Add(-time.Second), []byte(`{"title":"a","body":"b","data":{"url":"/"}}`), "IN_FLIGHT", now, nil, now, now).
		AddRow(2, 8, "FINISH_REMINDER", now.Add(-time.Minute), []byte(`{"title":"c","body":"d"}`), "IN_FLIGHT", now, nil, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs(now, stale, 100).
		WillReturnRows(rows)

	claimed, err := repo.ClaimDue(context.Background(), now, stale, 100)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, model.NotificationStatusInFlight, claimed[0].Status)
	assert.Equal(t, "/", claimed[0].Payload.URL())
	assert.Equal(t, model.NotificationKindFinishReminder, claimed[1].Kind)
	assert.Equal(t, "c", claimed[1].Payload.Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_Finalize(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(NewBaseRepository(db))

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $2 AND status = 'IN_FLIGHT'")).
		WithArgs(model.NotificationStatusSent, int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Finalize(context.Background(), 9, model.NotificationStatusSent)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = repo.Finalize(context.Background(), 9, model.NotificationStatusPending)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepository_GetNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(NewBaseRepository(db))

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND user_id = $2")).
		WithArgs(int64(3), int64(7)).
		WillReturnRows(sqlmock.NewRows(notificationRowColumns))

	_, err := repo.Get(context.Background(), 3, 7)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestNotificationRepository_ListFilters(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(NewBaseRepository(db))

	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND status = $2")+"(?s).*"+regexp.QuoteMeta("LIMIT $3")).
		WithArgs(int64(7), model.NotificationStatusSent, 50).
		WillReturnRows(sqlmock.NewRows(notificationRowColumns))

	out, err := repo.List(context.Background(), &model.NotificationFilter{UserID: 7, Status: model.NotificationStatusSent})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}
