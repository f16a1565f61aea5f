package delivery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/peoli-api/internal/model"
	"github.com/jwalitptl/peoli-api/internal/repository"
	"github.com/jwalitptl/peoli-api/internal/repository/memory"
	"github.com/jwalitptl/peoli-api/pkg/logger"
	"github.com/jwalitptl/peoli-api/pkg/metrics"
	"github.com/jwalitptl/peoli-api/pkg/push"
)

type fakeSender struct {
	mu       sync.Mutex
	results  map[string]push.Result
	calls    []string
	payloads [][]byte
	block    func(ctx context.Context)
}

func (f *fakeSender) Send(ctx context.Context, sub push.Subscription, payload []byte) push.Result {
	f.mu.Lock()
	f.calls = append(f.calls, sub.Endpoint)
	f.payloads = append(f.payloads, payload)
	res, ok := f.results[sub.Endpoint]
	f.mu.Unlock()

	if f.block != nil {
		f.block(ctx)
		if ctx.Err() != nil {
			return push.Result{Outcome: push.Failed, Err: ctx.Err()}
		}
	}
	if !ok {
		return push.Result{Outcome: push.Success, StatusCode: 201}
	}
	return res
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeFallback struct {
	addr string
	err  error
	hits int
}

func (f *fakeFallback) Notify(context.Context, *model.ScheduledNotification) (string, error) {
	f.hits++
	return f.addr, f.err
}

var testConfig = DispatcherConfig{
	DeliveryTimeout:     time.Second,
	MaxConcurrency:      8,
	StatusWriteAttempts: 3,
	RetryDelay:          time.Millisecond,
}

// claimOne schedules a due notification for userID and claims it.
func claimOne(t *testing.T, store *repository.Store, userID int64) *model.ScheduledNotification {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	n := &model.ScheduledNotification{
		UserID:  userID,
		Kind:    model.NotificationKindRest,
		SendAt:  now.Add(-time.Second),
		Payload: model.Payload{Title: "Acabou a moleza!", Body: "b", Data: model.JSONMap{"url": "/"}},
	}
	require.NoError(t, store.Notifications.Create(ctx, n))
	claimed, err := store.Notifications.ClaimDue(ctx, now, now.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	return claimed[0]
}

func subscribe(t *testing.T, store *repository.Store, userID int64, endpoints ...string) {
	t.Helper()
	for _, e := range endpoints {
		_, err := store.Subscriptions.Upsert(context.Background(), &model.PushSubscription{UserID: userID, Endpoint: e, P256dh: "k", Auth: "a"})
		require.NoError(t, err)
	}
}

func statusOf(t *testing.T, store *repository.Store, n *model.ScheduledNotification) model.NotificationStatus {
	t.Helper()
	got, err := store.Notifications.Get(context.Background(), n.ID, n.UserID)
	require.NoError(t, err)
	return got.Status
}

func TestDispatch_PerEndpointIsolation(t *testing.T) {
	store := memory.NewStore().Repositories()
	subscribe(t, store, 1, "https://push/ok", "https://push/gone", "https://push/flaky", "https://push/missing")
	n := claimOne(t, store, 1)

	sender := &fakeSender{results: map[string]push.Result{
		"https://push/gone":    {Outcome: push.Gone, StatusCode: 410},
		"https://push/missing": {Outcome: push.Gone, StatusCode: 404},
		"https://push/flaky":   {Outcome: push.Failed, StatusCode: 500, Err: errors.New("push service responded 500")},
	}}
	m := metrics.New("test")
	d := NewDispatcher(store, sender, testConfig, logger.Nop(), m)

	status, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationStatusSent, status)
	assert.Equal(t, model.NotificationStatusSent, statusOf(t, store, n))

	subs, err := store.Subscriptions.ListByUser(context.Background(), 1)
	require.NoError(t, err)
	var left []string
	for _, s := range subs {
		left = append(left, s.Endpoint)
	}
	assert.ElementsMatch(t, []string{"https://push/ok", "https://push/flaky"}, left)

	logs, err := store.Deliveries.ListByNotification(context.Background(), n.ID)
	require.NoError(t, err)
	outcomes := map[string]model.DeliveryOutcome{}
	for _, l := range logs {
		outcomes[l.Endpoint] = l.Outcome
	}
	assert.Equal(t, model.DeliveryOutcomeSuccess, outcomes["https://push/ok"])
	assert.Equal(t, model.DeliveryOutcomeGone, outcomes["https://push/gone"])
	assert.Equal(t, model.DeliveryOutcomeGone, outcomes["https://push/missing"])
	assert.Equal(t, model.DeliveryOutcomeFailed, outcomes["https://push/flaky"])

	assert.Equal(t, float64(2), testutil.ToFloat64(m.SubscriptionsPruned))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NotificationsFinalized.WithLabelValues("SENT")))
	assert.JSONEq(t, `{"title":"Acabou a moleza!","body":"b","data":{"url":"/"}}`, string(sender.payloads[0]))
}

func TestDispatch_AllEndpointsFailStillSent(t *testing.T) {
	store := memory.NewStore().Repositories()
	subscribe(t, store, 1, "https://push/a", "https://push/b")
	n := claimOne(t, store, 1)

	failed := push.Result{Outcome: push.Failed, Err: errors.New("connection reset")}
	sender := &fakeSender{results: map[string]push.Result{"https://push/a": failed, "https://push/b": failed}}
	d := NewDispatcher(store, sender, testConfig, logger.Nop(), metrics.New("test"))

	status, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationStatusSent, status)

	subs, _ := store.Subscriptions.ListByUser(context.Background(), 1)
	assert.Len(t, subs, 2)

	logs, _ := store.Deliveries.ListByNotification(context.Background(), n.ID)
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.Equal(t, model.DeliveryOutcomeFailed, l.Outcome)
		require.NotNil(t, l.Error)
		assert.Equal(t, "connection reset", *l.Error)
	}
}

func TestDispatch_ZeroSubscriptions(t *testing.T) {
	store := memory.NewStore().Repositories()
	n := claimOne(t, store, 1)

	sender := &fakeSender{}
	d := NewDispatcher(store, sender, testConfig, logger.Nop(), metrics.New("test"))

	status, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationStatusError, status)
	assert.Equal(t, model.NotificationStatusError, statusOf(t, store, n))
	assert.Zero(t, sender.callCount())

	logs, _ := store.Deliveries.ListByNotification(context.Background(), n.ID)
	assert.Empty(t, logs)
}

func TestDispatch_ZeroSubscriptionsWithFallback(t *testing.T) {
	store := memory.NewStore().Repositories()
	n := claimOne(t, store, 1)

	fb := &fakeFallback{addr: "ana@example.com"}
	d := NewDispatcher(store, &fakeSender{}, testConfig, logger.Nop(), metrics.New("test"), WithFallback(fb))

	status, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationStatusError, status)
	assert.Equal(t, 1, fb.hits)

	logs, _ := store.Deliveries.ListByNotification(context.Background(), n.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, "mailto:ana@example.com", logs[0].Endpoint)
	assert.Equal(t, model.DeliveryOutcomeSuccess, logs[0].Outcome)
}

func TestDispatch_FansOutConcurrently(t *testing.T) {
	store := memory.NewStore().Repositories()
	endpoints := []string{"https://push/1", "https://push/2", "https://push/3", "https://push/4"}
	subscribe(t, store, 1, endpoints...)
	n := claimOne(t, store, 1)

	var inFlight atomic.Int32
	release := make(chan struct{})
	sender := &fakeSender{block: func(ctx context.Context) {
		if inFlight.Add(1) == int32(len(endpoints)) {
			close(release)
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
	}}
	d := NewDispatcher(store, sender, testConfig, logger.Nop(), metrics.New("test"))

	status, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationStatusSent, status)

	logs, _ := store.Deliveries.ListByNotification(context.Background(), n.ID)
	require.Len(t, logs, len(endpoints))
	for _, l := range logs {
		assert.Equal(t, model.DeliveryOutcomeSuccess, l.Outcome, "every attempt ran before the first timed out")
	}
}

func TestDispatch_TimeoutIsOtherFailure(t *testing.T) {
	store := memory.NewStore().Repositories()
	subscribe(t, store, 1, "https://push/slow")
	n := claimOne(t, store, 1)

	sender := &fakeSender{block: func(ctx context.Context) { <-ctx.Done() }}
	cfg := testConfig
	cfg.DeliveryTimeout = 20 * time.Millisecond
	d := NewDispatcher(store, sender, cfg, logger.Nop(), metrics.New("test"))

	status, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationStatusSent, status)

	subs, _ := store.Subscriptions.ListByUser(context.Background(), 1)
	assert.Len(t, subs, 1)
	logs, _ := store.Deliveries.ListByNotification(context.Background(), n.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, model.DeliveryOutcomeFailed, logs[0].Outcome)
}

type flakyNotifications struct {
	repository.NotificationRepository
	failures int
	calls    int
}

func (f *flakyNotifications) Finalize(ctx context.Context, id int64, status model.NotificationStatus) (bool, error) {
	f.calls++
	if f.calls <= f.failures {
		return false, errors.New("connection lost")
	}
	return f.NotificationRepository.Finalize(ctx, id, status)
}

func TestDispatch_RetriesStatusWrite(t *testing.T) {
	store := memory.NewStore().Repositories()
	subscribe(t, store, 1, "https://push/ok")
	n := claimOne(t, store, 1)

	flaky := &flakyNotifications{NotificationRepository: store.Notifications, failures: 2}
	store.Notifications = flaky
	m := metrics.New("test")
	d := NewDispatcher(store, &fakeSender{}, testConfig, logger.Nop(), m)

	status, err := d.Dispatch(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, model.NotificationStatusSent, status)
	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.StatusWriteRetries))
}

func TestDispatch_StatusWriteExhausted(t *testing.T) {
	store := memory.NewStore().Repositories()
	subscribe(t, store, 1, "https://push/ok")
	n := claimOne(t, store, 1)

	store.Notifications = &flakyNotifications{NotificationRepository: store.Notifications, failures: 10}
	d := NewDispatcher(store, &fakeSender{}, testConfig, logger.Nop(), metrics.New("test"))

	_, err := d.Dispatch(context.Background(), n)
	assert.Error(t, err)
}

func TestDispatch_ShutdownLeavesRowClaimed(t *testing.T) {
	store := memory.NewStore().Repositories()
	subscribe(t, store, 1, "https://push/a", "https://push/b")
	n := claimOne(t, store, 1)

	sender := &fakeSender{block: func(ctx context.Context) { <-ctx.Done() }}
	d := NewDispatcher(store, sender, DispatcherConfig{
		DeliveryTimeout:     10 * time.Second,
		MaxConcurrency:      4,
		StatusWriteAttempts: 1,
	}, logger.Nop(), metrics.New("test"))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := d.Dispatch(ctx, n)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.NotificationStatusInFlight, statusOf(t, store, n))

	// once the lease is stale another tick picks the row up and finishes it
	later := time.Now().Add(time.Hour)
	reclaimed, err := store.Notifications.ClaimDue(context.Background(), later, later.Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)

	sender.block = nil
	status, err := d.Dispatch(context.Background(), reclaimed[0])
	require.NoError(t, err)
	assert.Equal(t, model.NotificationStatusSent, status)
	assert.Equal(t, model.NotificationStatusSent, statusOf(t, store, n))
}

func TestDispatch_FallbackOnlyWhenErrorWritten(t *testing.T) {
	store := memory.NewStore().Repositories()
	n := claimOne(t, store, 1)

	// a worker holding the stale claim got there first
	written, err := store.Notifications.Finalize(context.Background(), n.ID, model.NotificationStatusError)
	require.NoError(t, err)
	require.True(t, written)

	fallback := &fakeFallback{addr: "ana@example.com"}
	m := metrics.New("test")
	d := NewDispatcher(store, &fakeSender{}, testConfig, logger.Nop(), m, WithFallback(fallback))

	_, err = d.Dispatch(context.Background(), n)
	require.NoError(t, err)
	assert.Zero(t, fallback.hits)

	logs, err := store.Deliveries.ListByNotification(context.Background(), n.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Zero(t, testutil.ToFloat64(m.NotificationsFinalized.WithLabelValues(string(model.NotificationStatusError))))
}
