package event

import (
	"context"
	"time"

	"github.com/jwalitptl/peoli-api/internal/model"
	"github.com/jwalitptl/peoli-api/pkg/logger"
	"github.com/jwalitptl/peoli-api/pkg/messaging"
	"github.com/jwalitptl/peoli-api/pkg/metrics"
)

const publishTimeout = 2 * time.Second

// Emitter is what services depend on. Emit never fails: lifecycle events are
// informational and must not change the outcome of the operation that raised them.
type Emitter interface {
	Emit(ctx context.Context, eventType string, evt model.NotificationEvent)
}

type EventService struct {
	publisher messaging.Publisher
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewEventService(publisher messaging.Publisher, logger *logger.Logger, metrics *metrics.Metrics) *EventService {
	return &EventService{
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

func (s *EventService) Emit(ctx context.Context, eventType string, evt model.NotificationEvent) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	// detached so a cancelled request still gets its event out
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(pubCtx, eventType, evt); err != nil {
		s.metrics.EventPublishFailures.Inc()
		s.logger.Error(err, "Failed to publish event",
			"event_type", eventType,
			"notification_id", evt.NotificationID)
	}
}

// Nop discards events
type Nop struct{}

func (Nop) Emit(context.Context, string, model.NotificationEvent) {}
