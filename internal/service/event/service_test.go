package event

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/jwalitptl/peoli-api/internal/model"
	"github.com/jwalitptl/peoli-api/pkg/logger"
	"github.com/jwalitptl/peoli-api/pkg/metrics"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	args := m.Called(ctx, eventType, payload)
	return args.Error(0)
}

func TestEmit_StampsTimeAndPublishes(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, model.EventNotificationSent, mock.MatchedBy(func(evt model.NotificationEvent) bool {
		return evt.NotificationID == 4 && !evt.OccurredAt.IsZero()
	})).Return(nil)

	svc := NewEventService(pub, logger.Nop(), metrics.New("test"))
	svc.Emit(context.Background(), model.EventNotificationSent, model.NotificationEvent{NotificationID: 4})

	pub.AssertExpectations(t)
}

func TestEmit_FailureIsCountedNotReturned(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down"))

	m := metrics.New("test")
	svc := NewEventService(pub, logger.Nop(), m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Emit(ctx, model.EventNotificationError, model.NotificationEvent{NotificationID: 1})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventPublishFailures))
}
