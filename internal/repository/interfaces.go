package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jwalitptl/peoli-api/internal/model"
)

// ErrNotFound is returned when a row does not exist or is not visible to the caller
var ErrNotFound = errors.New("record not found")

// All repository interfaces in one file
type (
	// NotificationRepository owns the scheduled_notifications table. Every
	// status change is a conditional update on the current status.
	NotificationRepository interface {
		Create(ctx context.Context, n *model.ScheduledNotification) error
		Get(ctx context.Context, id, userID int64) (*model.ScheduledNotification, error)
		List(ctx context.Context, filter *model.NotificationFilter) ([]*model.ScheduledNotification, error)

		// Cancel moves a PENDING row owned by userID to CANCELLED.
		Cancel(ctx context.Context, id, userID int64) (bool, error)
		// CancelAllPending cancels every PENDING row of userID, optionally
		// restricted to kind. An empty kind matches all kinds.
		CancelAllPending(ctx context.Context, userID int64, kind model.NotificationKind) (int64, error)

		// ClaimDue moves up to limit due PENDING rows to IN_FLIGHT, along with
		// IN_FLIGHT rows whose claim is older than staleBefore, and returns them.
		ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*model.ScheduledNotification, error)
		// Finalize moves an IN_FLIGHT row to a terminal status.
		Finalize(ctx context.Context, id int64, status model.NotificationStatus) (bool, error)
	}

	SubscriptionRepository interface {
		// Upsert inserts or, on endpoint conflict, updates keys and owner.
		Upsert(ctx context.Context, sub *model.PushSubscription) (created bool, err error)
		ListByUser(ctx context.Context, userID int64) ([]*model.PushSubscription, error)
		Delete(ctx context.Context, userID int64, endpoint string) (bool, error)
	}

	DeliveryRepository interface {
		Record(ctx context.Context, d *model.NotificationDelivery) error
		ListByNotification(ctx context.Context, notificationID int64) ([]*model.NotificationDelivery, error)
		DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	}

	UserRepository interface {
		Get(ctx context.Context, id int64) (*model.User, error)
	}

	Pinger interface {
		Ping(ctx context.Context) error
	}
)

// Store groups the repositories a process needs.
type Store struct {
	Notifications NotificationRepository
	Subscriptions SubscriptionRepository
	Deliveries    DeliveryRepository
	Users         UserRepository
	Health        Pinger
	Close         func() error
}
