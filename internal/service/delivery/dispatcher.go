package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/peoli-api/internal/model"
	"github.com/jwalitptl/peoli-api/internal/repository"
	"github.com/jwalitptl/peoli-api/internal/service/event"
	"github.com/jwalitptl/peoli-api/pkg/logger"
	"github.com/jwalitptl/peoli-api/pkg/metrics"
	"github.com/jwalitptl/peoli-api/pkg/push"
)

// Fallback is tried when a notification has no push endpoints.
type Fallback interface {
	Notify(ctx context.Context, n *model.ScheduledNotification) (string, error)
}

type DispatcherConfig struct {
	// DeliveryTimeout bounds each endpoint attempt
	DeliveryTimeout time.Duration
	// MaxConcurrency bounds the fan-out for one notification
	MaxConcurrency      int
	StatusWriteAttempts int
	RetryDelay          time.Duration
}

type Dispatcher struct {
	subscriptions repository.SubscriptionRepository
	notifications repository.NotificationRepository
	deliveries    repository.DeliveryRepository
	sender        push.Sender
	events        event.Emitter
	fallback      Fallback
	config        DispatcherConfig
	logger        *logger.Logger
	metrics       *metrics.Metrics
}

type Option func(*Dispatcher)

// WithFallback enables a secondary channel for notifications without endpoints.
func WithFallback(f Fallback) Option {
	return func(d *Dispatcher) { d.fallback = f }
}

func WithEvents(e event.Emitter) Option {
	return func(d *Dispatcher) { d.events = e }
}

func NewDispatcher(
	store *repository.Store,
	sender push.Sender,
	config DispatcherConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
	opts ...Option,
) *Dispatcher {
	if config.DeliveryTimeout <= 0 {
		panic("DeliveryTimeout must be greater than 0")
	}
	if config.MaxConcurrency <= 0 {
		panic("MaxConcurrency must be greater than 0")
	}
	if config.StatusWriteAttempts <= 0 {
		panic("StatusWriteAttempts must be greater than 0")
	}

	d := &Dispatcher{
		subscriptions: store.Subscriptions,
		notifications: store.Notifications,
		deliveries:    store.Deliveries,
		sender:        sender,
		events:        event.Nop{},
		config:        config,
		logger:        logger,
		metrics:       metrics,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers a claimed notification to every endpoint of its owner and
// writes the terminal status. An error means the status could not be written;
// the row stays IN_FLIGHT and is picked up again once its claim goes stale.
func (d *Dispatcher) Dispatch(ctx context.Context, n *model.ScheduledNotification) (model.NotificationStatus, error) {
	subs, err := d.subscriptions.ListByUser(ctx, n.UserID)
	if err != nil {
		d.metrics.DatabaseOperations.WithLabelValues("list_subscriptions", "error").Inc()
		return "", fmt.Errorf("failed to list subscriptions for user %d: %w", n.UserID, err)
	}

	if len(subs) == 0 {
		d.logger.Info("No push subscriptions, marking notification as error",
			"notification_id", n.ID,
			"user_id", n.UserID)
		written, err := d.finalize(ctx, n, model.NotificationStatusError)
		if err != nil {
			return "", err
		}
		if written {
			d.tryFallback(ctx, n)
		}
		return model.NotificationStatusError, nil
	}

	payload, err := json.Marshal(n.Payload)
	if err != nil {
		// the payload was validated on the way in, so this is a bug
		return "", fmt.Errorf("failed to encode payload of notification %d: %w", n.ID, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.config.MaxConcurrency)
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			d.deliver(gctx, n, sub, payload)
			return nil
		})
	}
	_ = g.Wait()

	// shutting down: leave the row IN_FLIGHT so it is re-claimed once the lease expires
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("dispatch of notification %d interrupted: %w", n.ID, err)
	}

	if _, err := d.finalize(ctx, n, model.NotificationStatusSent); err != nil {
		return "", err
	}
	return model.NotificationStatusSent, nil
}

// deliver makes one attempt against one endpoint. Nothing here fails the row.
func (d *Dispatcher) deliver(ctx context.Context, n *model.ScheduledNotification, sub *model.PushSubscription, payload []byte) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.config.DeliveryTimeout)
	defer cancel()

	start := time.Now()
	res := d.sender.Send(attemptCtx, push.Subscription{
		Endpoint: sub.Endpoint,
		P256dh:   sub.P256dh,
		Auth:     sub.Auth,
	}, payload)
	d.metrics.DeliveryLatency.Observe(time.Since(start).Seconds())

	record := &model.NotificationDelivery{
		NotificationID: n.ID,
		Endpoint:       sub.Endpoint,
		AttemptedAt:    start.UTC(),
	}
	if res.StatusCode != 0 {
		code := res.StatusCode
		record.StatusCode = &code
	}

	switch res.Outcome {
	case push.Success:
		record.Outcome = model.DeliveryOutcomeSuccess

	case push.Gone:
		record.Outcome = model.DeliveryOutcomeGone
		d.prune(ctx, n, sub)

	default:
		record.Outcome = model.DeliveryOutcomeFailed
		if res.Err != nil {
			msg := res.Err.Error()
			record.Error = &msg
		}
		d.logger.Error(res.Err, "Push delivery failed",
			"notification_id", n.ID,
			"subscription_id", sub.ID,
			"status_code", res.StatusCode)
	}
	d.metrics.DeliveryAttempts.WithLabelValues(string(record.Outcome)).Inc()

	// the attempt already happened; keep the log even if the tick is shutting down
	if err := d.deliveries.Record(context.WithoutCancel(ctx), record); err != nil {
		d.logger.Error(err, "Failed to record delivery", "notification_id", n.ID)
	}
}

func (d *Dispatcher) prune(ctx context.Context, n *model.ScheduledNotification, sub *model.PushSubscription) {
	deleted, err := d.subscriptions.Delete(context.WithoutCancel(ctx), sub.UserID, sub.Endpoint)
	if err != nil {
		d.logger.Error(err, "Failed to delete expired subscription", "subscription_id", sub.ID)
		return
	}
	if !deleted {
		return
	}
	d.metrics.SubscriptionsPruned.Inc()
	d.logger.Info("Removed expired push subscription",
		"subscription_id", sub.ID,
		"user_id", sub.UserID)
	d.events.Emit(ctx, model.EventSubscriptionPruned, model.NotificationEvent{
		NotificationID: n.ID,
		UserID:         sub.UserID,
		Endpoint:       sub.Endpoint,
	})
}

// finalize writes the terminal status, retrying transient failures. It
// reports false when another worker already finalized the row.
func (d *Dispatcher) finalize(ctx context.Context, n *model.ScheduledNotification, status model.NotificationStatus) (bool, error) {
	var written bool
	attempt := 0
	err := retry(d.config.StatusWriteAttempts, d.config.RetryDelay, func() error {
		if attempt > 0 {
			d.metrics.StatusWriteRetries.Inc()
		}
		attempt++
		var err error
		written, err = d.notifications.Finalize(context.WithoutCancel(ctx), n.ID, status)
		return err
	})
	if err != nil {
		d.metrics.DatabaseOperations.WithLabelValues("finalize", "error").Inc()
		return false, fmt.Errorf("failed to mark notification %d as %s: %w", n.ID, status, err)
	}
	d.metrics.DatabaseOperations.WithLabelValues("finalize", "success").Inc()

	if !written {
		d.logger.Debug("Notification already finalized", "notification_id", n.ID)
		return false, nil
	}

	d.metrics.NotificationsFinalized.WithLabelValues(string(status)).Inc()
	eventType := model.EventNotificationSent
	if status == model.NotificationStatusError {
		eventType = model.EventNotificationError
	}
	d.events.Emit(ctx, eventType, model.NotificationEvent{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Kind:           n.Kind,
		Status:         status,
	})
	return true, nil
}

func (d *Dispatcher) tryFallback(ctx context.Context, n *model.ScheduledNotification) {
	if d.fallback == nil {
		return
	}

	addr, err := d.fallback.Notify(ctx, n)
	record := &model.NotificationDelivery{
		NotificationID: n.ID,
		Endpoint:       "mailto:" + addr,
		Outcome:        model.DeliveryOutcomeSuccess,
	}
	if err != nil {
		d.metrics.EmailFallbacks.WithLabelValues("error").Inc()
		d.logger.Error(err, "Email fallback failed", "notification_id", n.ID)
		msg := err.Error()
		record.Outcome = model.DeliveryOutcomeFailed
		record.Error = &msg
	} else {
		d.metrics.EmailFallbacks.WithLabelValues("success").Inc()
	}

	if err := d.deliveries.Record(context.WithoutCancel(ctx), record); err != nil {
		d.logger.Error(err, "Failed to record delivery", "notification_id", n.ID)
	}
}

// Helper retry function
func retry(attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}
