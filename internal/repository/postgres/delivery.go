package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/peoli-api/internal/model"
	"github.com/jwalitptl/peoli-api/internal/repository"
)

type deliveryRepository struct {
	BaseRepository
}

func NewDeliveryRepository(base BaseRepository) repository.DeliveryRepository {
	return &deliveryRepository{base}
}

func (r *deliveryRepository) Record(ctx context.Context, d *model.NotificationDelivery) error {
	query := `
		INSERT INTO notification_deliveries (
			notification_id, endpoint, outcome, status_code, error, attempted_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	if d.AttemptedAt.IsZero() {
		d.AttemptedAt = time.Now().UTC()
	}
	err := r.db.QueryRowxContext(ctx, query,
		d.NotificationID,
		d.Endpoint,
		d.Outcome,
		d.StatusCode,
		d.Error,
		d.AttemptedAt,
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

func (r *deliveryRepository) ListByNotification(ctx context.Context, notificationID int64) ([]*model.NotificationDelivery, error) {
	query := `
		SELECT id, notification_id, endpoint, outcome, status_code, error, attempted_at
		FROM notification_deliveries
		WHERE notification_id = $1
		ORDER BY attempted_at ASC, id ASC
	`
	var out []*model.NotificationDelivery
	if err := r.db.SelectContext(ctx, &out, query, notificationID); err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	return out, nil
}

func (r *deliveryRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM notification_deliveries WHERE attempted_at < $1`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old deliveries: %w", err)
	}
	return result.RowsAffected()
}
