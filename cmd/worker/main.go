package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/peoli-api/config"
	"github.com/jwalitptl/peoli-api/internal/app"
	"github.com/jwalitptl/peoli-api/internal/handler"
	promHandler "github.com/jwalitptl/peoli-api/internal/handler/prometheus"
	"github.com/jwalitptl/peoli-api/internal/middleware"
	"github.com/jwalitptl/peoli-api/pkg/logger"
)

// setupHealthCheck serves liveness, readiness and metrics for the worker
// process on the scheduler health address.
func setupHealthCheck(a *app.App, log *logger.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	metrics := promHandler.New(a.Registry, a.Config.Metrics.Namespace)
	engine.Use(middleware.Recovery(log), metrics.Middleware())

	handler.NewHandler(a.Store.Health).RegisterRoutes(engine)
	engine.GET("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:    a.Config.Scheduler.HealthAddr,
		Handler: engine,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "Health check server failed")
			os.Exit(1)
		}
	}()
	return srv
}

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.FromConfig("info", "json").Fatal(err, "Failed to load config")
	}
	log := logger.FromConfig(cfg.Log.Level, cfg.Log.Format).WithFields(map[string]interface{}{
		"component": "worker",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal(err, "Failed to initialize worker")
	}
	defer a.Close()

	srv := setupHealthCheck(a, log)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Shutting down...")
		cancel()
	}()

	a.RunWorkers(ctx)()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "Health check server forced to shutdown")
	}
}
