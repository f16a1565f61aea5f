package notification

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jwalitptl/peoli-api/internal/model"
	"github.com/jwalitptl/peoli-api/internal/repository"
	"github.com/jwalitptl/peoli-api/internal/service/event"
	"github.com/jwalitptl/peoli-api/pkg/errors"
	"github.com/jwalitptl/peoli-api/pkg/logger"
	"github.com/jwalitptl/peoli-api/pkg/metrics"
)

// listLimit caps GET /notifications
const listLimit = 50

type NotificationServicer interface {
	Schedule(ctx context.Context, userID int64, kind model.NotificationKind, sendAt time.Time, payload model.Payload) (*model.ScheduledNotification, error)
	ScheduleRest(ctx context.Context, userID int64, delaySeconds int, data model.JSONMap) (*model.ScheduledNotification, error)
	ScheduleFinishReminder(ctx context.Context, userID int64, data model.JSONMap) (*model.ScheduledNotification, error)
	ScheduleTest(ctx context.Context, userID int64) (*model.ScheduledNotification, error)
	Cancel(ctx context.Context, id, userID int64) (bool, error)
	CancelAllPending(ctx context.Context, userID int64) (int64, error)
	CancelAllPendingOfKind(ctx context.Context, userID int64, kind model.NotificationKind) (int64, error)
	Get(ctx context.Context, id, userID int64) (*model.ScheduledNotification, error)
	List(ctx context.Context, userID int64, status model.NotificationStatus) ([]*model.ScheduledNotification, error)
	ListDeliveries(ctx context.Context, id, userID int64) ([]*model.NotificationDelivery, error)
}

// Config holds the fixed payloads of the convenience variants.
type Config struct {
	FinishReminderDelay time.Duration
	DefaultURL          string
	RestTitle           string
	RestBody            string
	FinishTitle         string
	FinishBody          string
	TestTitle           string
	TestBody            string
}

type Service struct {
	repo       repository.NotificationRepository
	deliveries repository.DeliveryRepository
	events     event.Emitter
	config     Config
	logger     *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewService(
	store *repository.Store,
	events event.Emitter,
	config Config,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Service {
	if events == nil {
		events = event.Nop{}
	}
	if config.DefaultURL == "" {
		config.DefaultURL = "/"
	}
	return &Service{
		repo:       store.Notifications,
		deliveries: store.Deliveries,
		events:     events,
		config:     config,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// Schedule creates a PENDING notification. A sendAt in the past makes the row
// due on the next tick.
func (s *Service) Schedule(ctx context.Context, userID int64, kind model.NotificationKind, sendAt time.Time, payload model.Payload) (*model.ScheduledNotification, error) {
	if !kind.Valid() {
		return nil, errors.BadRequest(fmt.Sprintf("invalid notification kind %q", kind), nil)
	}
	if sendAt.IsZero() {
		return nil, errors.BadRequest("send time is required", nil)
	}

	payload.Data = payload.Data.Clone()
	if _, ok := payload.Data["url"]; !ok {
		payload.Data["url"] = s.config.DefaultURL
	}
	if err := payload.Validate(); err != nil {
		return nil, errors.BadRequest(err.Error(), err)
	}

	n := &model.ScheduledNotification{
		UserID:  userID,
		Kind:    kind,
		SendAt:  sendAt.UTC(),
		Payload: payload,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		s.metrics.DatabaseOperations.WithLabelValues("create_notification", "error").Inc()
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.NotFound("user", err)
		}
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	s.metrics.DatabaseOperations.WithLabelValues("create_notification", "success").Inc()
	s.metrics.NotificationsScheduled.WithLabelValues(string(kind)).Inc()

	s.logger.Info("Notification scheduled",
		"notification_id", n.ID,
		"user_id", userID,
		"kind", string(kind),
		"send_at", n.SendAt)
	s.events.Emit(ctx, model.EventNotificationScheduled, model.NotificationEvent{
		NotificationID: n.ID,
		UserID:         userID,
		Kind:           kind,
		Status:         n.Status,
	})
	return n, nil
}

func (s *Service) ScheduleRest(ctx context.Context, userID int64, delaySeconds int, data model.JSONMap) (*model.ScheduledNotification, error) {
	if delaySeconds <= 0 {
		return nil, errors.BadRequest("durationInSeconds must be greater than 0", nil)
	}
	return s.Schedule(ctx, userID, model.NotificationKindRest,
		s.now().Add(time.Duration(delaySeconds)*time.Second),
		model.Payload{Title: s.config.RestTitle, Body: s.config.RestBody, Data: data})
}

func (s *Service) ScheduleFinishReminder(ctx context.Context, userID int64, data model.JSONMap) (*model.ScheduledNotification, error) {
	return s.Schedule(ctx, userID, model.NotificationKindFinishReminder,
		s.now().Add(s.config.FinishReminderDelay),
		model.Payload{Title: s.config.FinishTitle, Body: s.config.FinishBody, Data: data})
}

// ScheduleTest creates a notification that is due immediately.
func (s *Service) ScheduleTest(ctx context.Context, userID int64) (*model.ScheduledNotification, error) {
	return s.Schedule(ctx, userID, model.NotificationKindTest, s.now(),
		model.Payload{Title: s.config.TestTitle, Body: s.config.TestBody})
}

// Cancel reports false, not an error, when the row is not PENDING or not owned by userID.
func (s *Service) Cancel(ctx context.Context, id, userID int64) (bool, error) {
	cancelled, err := s.repo.Cancel(ctx, id, userID)
	if err != nil {
		s.metrics.DatabaseOperations.WithLabelValues("cancel_notification", "error").Inc()
		return false, fmt.Errorf("failed to cancel notification: %w", err)
	}
	s.metrics.DatabaseOperations.WithLabelValues("cancel_notification", "success").Inc()

	if cancelled {
		s.metrics.NotificationsCancelled.WithLabelValues("single").Inc()
		s.events.Emit(ctx, model.EventNotificationCancelled, model.NotificationEvent{
			NotificationID: id,
			UserID:         userID,
			Status:         model.NotificationStatusCancelled,
			Count:          1,
		})
	}
	return cancelled, nil
}

func (s *Service) CancelAllPending(ctx context.Context, userID int64) (int64, error) {
	return s.cancelAll(ctx, userID, "")
}

func (s *Service) CancelAllPendingOfKind(ctx context.Context, userID int64, kind model.NotificationKind) (int64, error) {
	if !kind.Valid() {
		return 0, errors.BadRequest(fmt.Sprintf("invalid notification kind %q", kind), nil)
	}
	return s.cancelAll(ctx, userID, kind)
}

func (s *Service) cancelAll(ctx context.Context, userID int64, kind model.NotificationKind) (int64, error) {
	count, err := s.repo.CancelAllPending(ctx, userID, kind)
	if err != nil {
		s.metrics.DatabaseOperations.WithLabelValues("cancel_all_notifications", "error").Inc()
		return 0, fmt.Errorf("failed to cancel pending notifications: %w", err)
	}
	s.metrics.DatabaseOperations.WithLabelValues("cancel_all_notifications", "success").Inc()

	scope := "all"
	if kind != "" {
		scope = string(kind)
	}
	if count > 0 {
		s.metrics.NotificationsCancelled.WithLabelValues(scope).Add(float64(count))
		s.events.Emit(ctx, model.EventNotificationCancelled, model.NotificationEvent{
			UserID: userID,
			Kind:   kind,
			Status: model.NotificationStatusCancelled,
			Count:  count,
		})
	}
	s.logger.Debug("Cancelled pending notifications", "user_id", userID, "scope", scope, "count", count)
	return count, nil
}

func (s *Service) Get(ctx context.Context, id, userID int64) (*model.ScheduledNotification, error) {
	n, err := s.repo.Get(ctx, id, userID)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil, errors.NotFound("notification", err)
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

func (s *Service) List(ctx context.Context, userID int64, status model.NotificationStatus) ([]*model.ScheduledNotification, error) {
	if status != "" && !status.Valid() {
		return nil, errors.BadRequest(fmt.Sprintf("invalid status %q", status), nil)
	}
	list, err := s.repo.List(ctx, &model.NotificationFilter{
		UserID: userID,
		Status: status,
		Limit:  listLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return list, nil
}

// ListDeliveries returns the delivery log of a notification owned by userID.
func (s *Service) ListDeliveries(ctx context.Context, id, userID int64) ([]*model.NotificationDelivery, error) {
	if _, err := s.Get(ctx, id, userID); err != nil {
		return nil, err
	}
	deliveries, err := s.deliveries.ListByNotification(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	return deliveries, nil
}
