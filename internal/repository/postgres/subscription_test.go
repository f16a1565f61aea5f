package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/peoli-api/internal/model"
	"github.com/jwalitptl/peoli-api/internal/repository"
)

func TestSubscriptionRepository_Upsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSubscriptionRepository(NewBaseRepository(db))

	sub := &model.PushSubscription{UserID: 7, Endpoint: "https://push.example/abc", P256dh: "p", Auth: "a"}
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (endpoint) DO UPDATE SET")).
		WithArgs(int64(7), "https://push.example/abc", "p", "a").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at", "inserted"}).AddRow(5, now, now, true))
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (endpoint) DO UPDATE SET")).
		WithArgs(int64(7), "https://push.example/abc", "p", "a").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at", "inserted"}).AddRow(5, now, now, false))

	created, err := repo.Upsert(context.Background(), sub)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(5), sub.ID)

	created, err = repo.Upsert(context.Background(), sub)
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionRepository_UpsertUnknownUser(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSubscriptionRepository(NewBaseRepository(db))

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO push_subscriptions")).
		WillReturnError(&pq.Error{Code: pqForeignKeyViolation, Constraint: "push_subscriptions_user_id_fkey"})

	_, err := repo.Upsert(context.Background(), &model.PushSubscription{UserID: 99, Endpoint: "https://x"})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSubscriptionRepository_Delete(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSubscriptionRepository(NewBaseRepository(db))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM push_subscriptions WHERE endpoint = $1 AND user_id = $2")).
		WithArgs("https://push.example/abc", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM push_subscriptions")).
		WithArgs("https://push.example/abc", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Delete(context.Background(), 7, "https://push.example/abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Delete(context.Background(), 7, "https://push.example/abc")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRepository_RecordAndPrune(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDeliveryRepository(NewBaseRepository(db))

	code := 410
	d := &model.NotificationDelivery{
		NotificationID: 3,
		Endpoint:       "https://push.example/gone",
		Outcome:        model.DeliveryOutcomeGone,
		StatusCode:     &code,
	}

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO notification_deliveries")).
		WithArgs(int64(3), "https://push.example/gone", model.DeliveryOutcomeGone, 410, nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))
	require.NoError(t, repo.Record(context.Background(), d))
	assert.Equal(t, int64(12), d.ID)
	assert.False(t, d.AttemptedAt.IsZero())

	cutoff := time.Now().Add(-720 * time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM notification_deliveries WHERE attempted_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))
	n, err := repo.DeleteBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
