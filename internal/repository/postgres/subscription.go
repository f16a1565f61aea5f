package postgres

import (
	"context"
	"fmt"

	"github.com/jwalitptl/peoli-api/internal/model"
	"github.com/jwalitptl/peoli-api/internal/repository"
)

type subscriptionRepository struct {
	BaseRepository
}

func NewSubscriptionRepository(base BaseRepository) repository.SubscriptionRepository {
	return &subscriptionRepository{base}
}

// Upsert relies on the unique endpoint index. xmax is zero only for a row
// produced by the INSERT branch.
func (r *subscriptionRepository) Upsert(ctx context.Context, sub *model.PushSubscription) (bool, error) {
	query := `
		INSERT INTO push_subscriptions (
			user_id, endpoint, p256dh, auth, created_at, updated_at
		) VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (endpoint) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			p256dh = EXCLUDED.p256dh,
			auth = EXCLUDED.auth,
			updated_at = NOW()
		RETURNING id, created_at, updated_at, (xmax = 0) AS inserted
	`

	var created bool
	err := r.db.QueryRowxContext(ctx, query, sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth).
		Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt, &created)
	if err != nil {
		return false, fmt.Errorf("failed to upsert push subscription: %w", translateError(err))
	}
	return created, nil
}

func (r *subscriptionRepository) ListByUser(ctx context.Context, userID int64) ([]*model.PushSubscription, error) {
	query := `
		SELECT id, user_id, endpoint, p256dh, auth, created_at, updated_at
		FROM push_subscriptions
		WHERE user_id = $1
		ORDER BY id ASC
	`
	var subs []*model.PushSubscription
	if err := r.db.SelectContext(ctx, &subs, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list push subscriptions: %w", err)
	}
	return subs, nil
}

func (r *subscriptionRepository) Delete(ctx context.Context, userID int64, endpoint string) (bool, error) {
	query := `DELETE FROM push_subscriptions WHERE endpoint = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, endpoint, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete push subscription: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
