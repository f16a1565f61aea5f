package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jwalitptl/peoli-api/config"
	"github.com/jwalitptl/peoli-api/internal/email"
	"github.com/jwalitptl/peoli-api/internal/repository"
	"github.com/jwalitptl/peoli-api/internal/repository/memory"
	"github.com/jwalitptl/peoli-api/internal/repository/postgres"
	"github.com/jwalitptl/peoli-api/internal/service/delivery"
	"github.com/jwalitptl/peoli-api/internal/service/event"
	internalworker "github.com/jwalitptl/peoli-api/internal/worker"
	"github.com/jwalitptl/peoli-api/pkg/logger"
	"github.com/jwalitptl/peoli-api/pkg/messaging"
	"github.com/jwalitptl/peoli-api/pkg/messaging/redis"
	"github.com/jwalitptl/peoli-api/pkg/metrics"
	"github.com/jwalitptl/peoli-api/pkg/push"
	"github.com/jwalitptl/peoli-api/pkg/worker"
)

// App holds the pieces shared by the api and worker processes.
type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Store    *repository.Store
	Broker   messaging.Broker
	Events   event.Emitter
	Sender   *push.WebPushSender

	Scheduler *worker.Scheduler
	Cleanup   *internalworker.DeliveryCleanupWorker
}

func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg, cfg.Metrics.Namespace, "")

	store, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}

	broker, err := openBroker(cfg.Redis, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	events := event.NewEventService(messaging.NewChannelPublisher(broker, cfg.Redis.Channel), log, m)

	sender := push.NewWebPushSender(cfg.Push.ToSenderConfig(), log)

	opts := []delivery.Option{delivery.WithEvents(events)}
	if cfg.Email.FallbackEnabled {
		mailer := email.NewSMTPService(cfg.Email.ToMailerConfig())
		opts = append(opts, delivery.WithFallback(email.NewFallbackNotifier(store.Users, mailer)))
		log.Info("Email fallback enabled", "smtp_host", cfg.Email.Host)
	}
	dispatcher := delivery.NewDispatcher(store, sender, cfg.Scheduler.ToDispatcherConfig(), log, m, opts...)

	return &App{
		Config:    cfg,
		Logger:    log,
		Registry:  reg,
		Metrics:   m,
		Store:     store,
		Broker:    broker,
		Events:    events,
		Sender:    sender,
		Scheduler: worker.NewScheduler(store.Notifications, dispatcher, cfg.Scheduler.ToWorkerConfig(), log, m),
		Cleanup: internalworker.NewDeliveryCleanupWorker(
			store.Deliveries,
			cfg.Scheduler.DeliveryLogRetention,
			cfg.Scheduler.CleanupInterval,
			log,
			m,
		),
	}, nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*repository.Store, error) {
	if cfg.Driver == "memory" {
		log.Warn("Using in-memory store; data is lost on restart")
		return memory.NewStore().Repositories(), nil
	}

	db, err := postgres.NewDB(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return postgres.NewStore(db), nil
}

func openBroker(cfg config.RedisConfig, log *logger.Logger) (messaging.Broker, error) {
	if cfg.URL == "" {
		log.Info("Redis not configured, lifecycle events are not published")
		return messaging.NopBroker{}, nil
	}
	broker, err := redis.NewRedisBroker(cfg.ToBrokerConfig(), log.Zerolog())
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis broker: %w", err)
	}
	return broker, nil
}

// RunWorkers starts the scheduler and the delivery log cleanup. The returned
// function blocks until both have stopped after ctx is cancelled.
func (a *App) RunWorkers(ctx context.Context) (wait func()) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.Scheduler.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		a.Cleanup.Start(ctx)
	}()
	return wg.Wait
}

func (a *App) Close() {
	if err := a.Broker.Close(); err != nil {
		a.Logger.Error(err, "Failed to close broker")
	}
	if a.Store.Close != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Error(err, "Failed to close database")
		}
	}
}
