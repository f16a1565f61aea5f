package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jwalitptl/peoli-api/config"
	"github.com/jwalitptl/peoli-api/internal/app"
	"github.com/jwalitptl/peoli-api/internal/handler"
	notificationHandler "github.com/jwalitptl/peoli-api/internal/handler/notification"
	promHandler "github.com/jwalitptl/peoli-api/internal/handler/prometheus"
	subscriptionHandler "github.com/jwalitptl/peoli-api/internal/handler/subscription"
	"github.com/jwalitptl/peoli-api/internal/middleware"
	"github.com/jwalitptl/peoli-api/internal/router"
	notificationService "github.com/jwalitptl/peoli-api/internal/service/notification"
	subscriptionService "github.com/jwalitptl/peoli-api/internal/service/subscription"
	"github.com/jwalitptl/peoli-api/pkg/auth"
	"github.com/jwalitptl/peoli-api/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.FromConfig("info", "json").Fatal(err, "Failed to load configuration")
	}
	log := logger.FromConfig(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal(err, "Failed to initialize application")
	}
	defer a.Close()

	validator, err := auth.NewValidator(cfg.JWT.PublicKey, cfg.JWT.Secret, cfg.JWT.Issuer)
	if err != nil {
		log.Fatal(err, "Failed to initialize token validator")
	}

	// Initialize services
	notificationSvc := notificationService.NewService(a.Store, a.Events, cfg.Notifications.ToServiceConfig(), log, a.Metrics)
	subscriptionSvc := subscriptionService.NewService(a.Store.Subscriptions, notificationSvc, a.Sender.PublicKey(), log)

	// Setup router
	r := router.NewRouter(
		middleware.NewAuthMiddleware(validator),
		handler.NewHandler(a.Store.Health),
		notificationHandler.NewHandler(notificationSvc),
		subscriptionHandler.NewHandler(subscriptionSvc),
		promHandler.New(a.Registry, cfg.Metrics.Namespace),
		log,
		router.RouterConfig{
			RateLimit: middleware.RateLimiterConfig{
				RPS:   cfg.RateLimit.RPS,
				Burst: cfg.RateLimit.Burst,
			},
			RateLimitOn:    cfg.RateLimit.Enabled,
			CORSConfig:     middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins),
			RequestTimeout: cfg.Server.RequestTimeout,
			MaxBodySize:    middleware.DefaultMaxBodySize,
		},
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	wait := func() {}
	if cfg.Scheduler.Embedded {
		log.Info("Running embedded notification scheduler")
		wait = a.RunWorkers(ctx)
	}

	// Start server
	go func() {
		log.Info("Starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err, "Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}

	cancel()
	wait()

	log.Info("Server exited properly")
}
