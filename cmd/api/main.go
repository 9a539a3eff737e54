package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/schedule-notify/cmd/mainconfig"
	"github.com/wolfman30/schedule-notify/internal/api/router"
	"github.com/wolfman30/schedule-notify/internal/app/bootstrap"
	appconfig "github.com/wolfman30/schedule-notify/internal/config"
	"github.com/wolfman30/schedule-notify/internal/http/handlers"
	"github.com/wolfman30/schedule-notify/pkg/logging"
)

func main() {
	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting schedule-notify API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	registry, metricsHandler := setupMetrics()
	rt, err := bootstrap.Open(ctx, cfg, logger, &awsCfg, registry)
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	inline := setupInlineWorker(ctx, cfg, rt, logger)

	r := router.New(buildRouterConfig(cfg, rt, metricsHandler, logger))

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	cancel()
	waitForInlineWorker(inline, logger)

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (*prometheus.Registry, http.Handler) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func buildRouterConfig(cfg *appconfig.Config, rt *bootstrap.Runtime, metricsHandler http.Handler, logger *logging.Logger) *router.Config {
	return &router.Config{
		Logger:          logger,
		ActiveSchedules: handlers.NewActiveSchedulesHandler(rt.Inbound, logger),
		ChannelEvents:   handlers.NewChannelEventsHandler(rt.Dispatcher, logger),
		Admin: handlers.NewAdminHandler(handlers.AdminConfig{
			Extracts: rt.Ledger,
			Engine:   rt.Engine,
			Settings: rt.Settings,
			Messages: rt.Dispatcher,
			Location: rt.Location,
			Logger:   logger,
		}),
		AdminAuthSecret: cfg.AdminJWTSecret,
		MetricsHandler:  metricsHandler,
		Database:        rt.Pool,
	}
}

// inlineWorker runs the queue consumers, extraction ticker and delivery crons
// inside the API process when memory queues are enabled.
type inlineWorker struct {
	stop func()
	done chan struct{}
}

func setupInlineWorker(ctx context.Context, cfg *appconfig.Config, rt *bootstrap.Runtime, logger *logging.Logger) *inlineWorker {
	if !rt.Queues.Memory {
		return nil
	}
	workerCtx, cancel := context.WithCancel(ctx)
	consumers := bootstrap.StartConsumers(workerCtx, cfg, rt.Services, rt.Queues, logger)
	crons := bootstrap.BuildCrons(cfg, rt.Services, logger)

	w := &inlineWorker{stop: cancel, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		go rt.Ticker.Run(workerCtx)
		for _, c := range crons {
			go c.Run(workerCtx)
		}
		bootstrap.WaitConsumers(consumers)
	}()
	logger.Info("inline worker started (memory queues)")
	return w
}

func waitForInlineWorker(w *inlineWorker, logger *logging.Logger) {
	if w == nil {
		return
	}
	w.stop()
	select {
	case <-w.done:
		logger.Info("inline worker stopped")
	case <-time.After(10 * time.Second):
		logger.Warn("inline worker did not stop in time")
	}
}
