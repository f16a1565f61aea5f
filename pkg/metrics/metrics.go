package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Notification API metrics
	NotificationsScheduled *prometheus.CounterVec
	NotificationsCancelled *prometheus.CounterVec

	// Scheduler metrics
	NotificationsClaimed   prometheus.Counter
	NotificationsFinalized *prometheus.CounterVec
	TickDuration           prometheus.Histogram
	TicksSkipped           prometheus.Counter
	StatusWriteRetries     prometheus.Counter

	// Delivery metrics
	DeliveryAttempts     *prometheus.CounterVec
	DeliveryLatency      prometheus.Histogram
	SubscriptionsPruned  prometheus.Counter
	EmailFallbacks       *prometheus.CounterVec
	DeliveryLogsRemoved  prometheus.Counter
	EventPublishFailures prometheus.Counter

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics on reg. A nil
// registerer uses the default prometheus registry.
func NewMetrics(reg prometheus.Registerer, namespace, subsystem string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		NotificationsScheduled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notifications_scheduled_total",
			Help:      "Total number of scheduled notifications",
		}, []string{"kind"}),
		NotificationsCancelled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notifications_cancelled_total",
			Help:      "Total number of notifications moved to CANCELLED",
		}, []string{"scope"}),

		NotificationsClaimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notifications_claimed_total",
			Help:      "Total number of notifications claimed for dispatch",
		}),
		NotificationsFinalized: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notifications_finalized_total",
			Help:      "Total number of notifications moved to a terminal status by the scheduler",
		}, []string{"status"}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "scheduler_tick_duration_seconds",
			Help:      "Time spent processing one scheduler tick",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		TicksSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "scheduler_ticks_skipped_total",
			Help:      "Ticks skipped because every in-flight slot was taken",
		}),
		StatusWriteRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "status_write_retries_total",
			Help:      "Retried terminal status writes",
		}),

		DeliveryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "delivery_attempts_total",
			Help:      "Push delivery attempts by outcome",
		}, []string{"outcome"}),
		DeliveryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "delivery_duration_seconds",
			Help:      "Duration of a single push delivery attempt",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		SubscriptionsPruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "subscriptions_pruned_total",
			Help:      "Subscriptions deleted after the push service reported them gone",
		}),
		EmailFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "email_fallbacks_total",
			Help:      "Email fallbacks for notifications without subscriptions",
		}, []string{"status"}),
		DeliveryLogsRemoved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "delivery_logs_removed_total",
			Help:      "Delivery log rows removed by retention cleanup",
		}),
		EventPublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "event_publish_failures_total",
			Help:      "Lifecycle events that could not be published",
		}),

		DatabaseOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}

// New returns metrics registered on a private registry, for tests and tools
// that must not collide with the process-wide one.
func New(namespace string) *Metrics {
	return NewMetrics(prometheus.NewRegistry(), namespace, "")
}
