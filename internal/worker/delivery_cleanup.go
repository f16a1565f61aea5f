package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/peoli-api/internal/repository"
	"github.com/jwalitptl/peoli-api/pkg/logger"
	"github.com/jwalitptl/peoli-api/pkg/metrics"
)

// DeliveryCleanupWorker removes delivery log rows older than the retention window.
type DeliveryCleanupWorker struct {
	repo            repository.DeliveryRepository
	retention       time.Duration
	cleanupInterval time.Duration
	logger          *logger.Logger
	metrics         *metrics.Metrics
	now             func() time.Time
}

func NewDeliveryCleanupWorker(
	repo repository.DeliveryRepository,
	retention, cleanupInterval time.Duration,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *DeliveryCleanupWorker {
	return &DeliveryCleanupWorker{
		repo:            repo,
		retention:       retention,
		cleanupInterval: cleanupInterval,
		logger:          logger,
		metrics:         metrics,
		now:             time.Now,
	}
}

func (w *DeliveryCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Cleanup(ctx); err != nil {
				w.logger.Error(err, "Delivery log cleanup failed")
			}
		}
	}
}

func (w *DeliveryCleanupWorker) Cleanup(ctx context.Context) (int64, error) {
	cutoff := w.now().Add(-w.retention)

	rows, err := w.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		w.metrics.DatabaseOperations.WithLabelValues("delete_deliveries", "error").Inc()
		return 0, fmt.Errorf("failed to cleanup delivery logs: %w", err)
	}
	w.metrics.DatabaseOperations.WithLabelValues("delete_deliveries", "success").Inc()
	w.metrics.DeliveryLogsRemoved.Add(float64(rows))

	if rows > 0 {
		w.logger.Info("Cleaned up delivery logs", "rows", rows, "cutoff", cutoff)
	}
	return rows, nil
}
