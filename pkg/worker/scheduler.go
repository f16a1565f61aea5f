package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/peoli-api/internal/model"
	"github.com/jwalitptl/peoli-api/internal/repository"
	"github.com/jwalitptl/peoli-api/pkg/logger"
	"github.com/jwalitptl/peoli-api/pkg/metrics"
)

type SchedulerConfig struct {
	// BatchSize caps the rows claimed by one tick and the rows in flight at once
	BatchSize    int
	TickInterval time.Duration
	// ClaimLease is how long an IN_FLIGHT row is owned before another tick may take it over
	ClaimLease time.Duration
	// MaxConcurrency bounds the rows one tick dispatches in parallel
	MaxConcurrency int
}

// Dispatcher delivers one claimed notification and writes its terminal status.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *model.ScheduledNotification) (model.NotificationStatus, error)
}

type Scheduler struct {
	repo       repository.NotificationRepository
	dispatcher Dispatcher
	config     SchedulerConfig
	logger     *logger.Logger
	metrics    *metrics.Metrics

	// one token per claimed row that has not finished dispatching
	slots chan struct{}
	wg    sync.WaitGroup
	now   func() time.Time
}

func NewScheduler(
	repo repository.NotificationRepository,
	dispatcher Dispatcher,
	config SchedulerConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Scheduler {
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.TickInterval <= 0 {
		panic("TickInterval must be greater than 0")
	}
	if config.ClaimLease <= 0 {
		panic("ClaimLease must be greater than 0")
	}
	if config.MaxConcurrency <= 0 {
		panic("MaxConcurrency must be greater than 0")
	}

	return &Scheduler{
		repo:       repo,
		dispatcher: dispatcher,
		config:     config,
		logger:     logger,
		metrics:    metrics,
		slots:      make(chan struct{}, config.BatchSize),
		now:        time.Now,
	}
}

// Start runs a tick every TickInterval until ctx is done. Ticks overlap: a
// tick stuck on a slow endpoint does not keep later ticks from claiming
// newly due rows. Start returns after every in-progress tick has finished.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.logger.Info("Starting notification scheduler",
		"tick_interval", s.config.TickInterval.String(),
		"batch_size", s.config.BatchSize)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Shutting down notification scheduler")
			s.wg.Wait()
			return
		case <-ticker.C:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if _, err := s.RunOnce(ctx); err != nil {
					s.logger.Error(err, "Scheduler tick failed")
				}
			}()
		}
	}
}

// RunOnce claims the due notifications and dispatches them. It claims no
// more rows than there are free in-flight slots, and returns zero without
// touching the store when every slot is taken.
func (s *Scheduler) RunOnce(ctx context.Context) (claimed int, err error) {
	reserved := s.reserve(s.config.BatchSize)
	if reserved == 0 {
		s.metrics.TicksSkipped.Inc()
		s.logger.Debug("Every in-flight slot is taken, skipping tick")
		return 0, nil
	}
	// slots not handed to a row go back when the tick ends
	handed := 0
	defer func() { s.release(reserved - handed) }()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler tick panicked: %v", r)
		}
	}()

	timer := prometheus.NewTimer(s.metrics.TickDuration)
	defer timer.ObserveDuration()

	now := s.now()
	due, err := s.repo.ClaimDue(ctx, now, now.Add(-s.config.ClaimLease), reserved)
	if err != nil {
		s.metrics.DatabaseOperations.WithLabelValues("claim_due", "error").Inc()
		return 0, fmt.Errorf("failed to claim due notifications: %w", err)
	}
	s.metrics.DatabaseOperations.WithLabelValues("claim_due", "success").Inc()

	if len(due) == 0 {
		return 0, nil
	}
	s.metrics.NotificationsClaimed.Add(float64(len(due)))
	s.logger.Debug("Claimed due notifications", "count", len(due))

	g := new(errgroup.Group)
	g.SetLimit(s.config.MaxConcurrency)
	for _, n := range due {
		n := n
		handed++
		g.Go(func() error {
			defer s.release(1)
			s.process(ctx, n)
			return nil
		})
	}
	_ = g.Wait()

	return len(due), nil
}

// reserve takes up to n free slots without blocking.
func (s *Scheduler) reserve(n int) int {
	for i := 0; i < n; i++ {
		select {
		case s.slots <- struct{}{}:
		default:
			return i
		}
	}
	return n
}

func (s *Scheduler) release(n int) {
	for i := 0; i < n; i++ {
		<-s.slots
	}
}

// process dispatches one row. Failures are logged and never abort the tick.
func (s *Scheduler) process(ctx context.Context, n *model.ScheduledNotification) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(fmt.Errorf("%v", r), "Panic while dispatching notification",
				"notification_id", n.ID)
		}
	}()

	status, err := s.dispatcher.Dispatch(ctx, n)
	if errors.Is(err, context.Canceled) {
		s.logger.Info("Dispatch interrupted by shutdown, row stays claimed until its lease expires",
			"notification_id", n.ID)
		return
	}
	if err != nil {
		s.logger.Error(err, "Failed to dispatch notification",
			"notification_id", n.ID,
			"user_id", n.UserID,
			"kind", string(n.Kind))
		return
	}

	s.logger.Info("Notification processed",
		"notification_id", n.ID,
		"user_id", n.UserID,
		"status", string(status))
}
