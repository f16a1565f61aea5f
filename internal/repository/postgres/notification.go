package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jwalitptl/peoli-api/internal/model"
	"github.com/jwalitptl/peoli-api/internal/repository"
)

const notificationColumns = `id, user_id, kind, send_at, payload, status, claimed_at, sent_at, created_at, updated_at`

const defaultListLimit = 50

type notificationRepository struct {
	BaseRepository
}

func NewNotificationRepository(base BaseRepository) repository.NotificationRepository {
	return &notificationRepository{base}
}

func (r *notificationRepository) Create(ctx context.Context, n *model.ScheduledNotification) error {
	if n == nil {
		return fmt.Errorf("notification cannot be nil")
	}

	query := `
		INSERT INTO scheduled_notifications (
			user_id, kind, send_at, payload, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		RETURNING id
	`
	now := time.Now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now
	n.Status = model.NotificationStatusPending

	err := r.db.QueryRowxContext(ctx, query,
		n.UserID,
		n.Kind,
		n.SendAt,
		n.Payload,
		n.Status,
		n.CreatedAt,
		n.UpdatedAt,
	).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", translateError(err))
	}
	return nil
}

func (r *notificationRepository) Get(ctx context.Context, id, userID int64) (*model.ScheduledNotification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM scheduled_notifications
		WHERE id = $1 AND user_id = $2
	`

	var n model.ScheduledNotification
	if err := r.db.GetContext(ctx, &n, query, id, userID); err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", translateError(err))
	}
	return &n, nil
}

func (r *notificationRepository) List(ctx context.Context, filter *model.NotificationFilter) ([]*model.ScheduledNotification, error) {
	var (
		conds = []string{"user_id = $1"}
		args  = []interface{}{filter.UserID}
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s
		FROM scheduled_notifications
		WHERE %s
		ORDER BY send_at DESC, id DESC
		LIMIT $%d`, notificationColumns, strings.Join(conds, " AND "), len(args))

	var out []*model.ScheduledNotification
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return out, nil
}

func (r *notificationRepository) Cancel(ctx context.Context, id, userID int64) (bool, error) {
	query := `
		UPDATE scheduled_notifications
		SET status = 'CANCELLED', updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status = 'PENDING'
	`
	result, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to cancel notification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read cancel result: %w", err)
	}
	return affected > 0, nil
}

func (r *notificationRepository) CancelAllPending(ctx context.Context, userID int64, kind model.NotificationKind) (int64, error) {
	query := `
		UPDATE scheduled_notifications
		SET status = 'CANCELLED', updated_at = NOW()
		WHERE user_id = $1 AND status = 'PENDING'`
	args := []interface{}{userID}
	if kind != "" {
		query += ` AND kind = $2`
		args = append(args, kind)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending notifications: %w", err)
	}
	return result.RowsAffected()
}

func (r *notificationRepository) ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*model.ScheduledNotification, error) {
	query := `
		UPDATE scheduled_notifications
		SET status = 'IN_FLIGHT', claimed_at = $1, updated_at = $1
		WHERE id IN (
			SELECT id FROM scheduled_notifications
			WHERE (status = 'PENDING' AND send_at <= $1)
			OR (status = 'IN_FLIGHT' AND claimed_at < $2)
			ORDER BY send_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + notificationColumns

	var claimed []*model.ScheduledNotification
	if err := r.db.SelectContext(ctx, &claimed, query, now, staleBefore, limit); err != nil {
		return nil, fmt.Errorf("failed to claim due notifications: %w", err)
	}
	return claimed, nil
}

func (r *notificationRepository) Finalize(ctx context.Context, id int64, status model.NotificationStatus) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("cannot finalize notification %d with non-terminal status %s", id, status)
	}

	query := `
		UPDATE scheduled_notifications
		SET status = $1,
			sent_at = CASE WHEN $1 = 'SENT' THEN NOW() ELSE sent_at END,
			updated_at = NOW()
		WHERE id = $2 AND status = 'IN_FLIGHT'
	`
	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return false, fmt.Errorf("failed to finalize notification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read finalize result: %w", err)
	}
	return affected > 0, nil
}
