package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/schedule-notify/cmd/mainconfig"
	"github.com/wolfman30/schedule-notify/internal/app/bootstrap"
	"github.com/wolfman30/schedule-notify/internal/config"
	"github.com/wolfman30/schedule-notify/pkg/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.UseMemoryQueue {
		logger.Error("scheduler requires SQS queues; run the API with USE_MEMORY_QUEUE for a single process")
		os.Exit(1)
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	rt, err := bootstrap.Open(ctx, cfg, logger, &awsCfg, prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	go rt.Ticker.Run(ctx)
	for _, c := range bootstrap.BuildCrons(cfg, rt.Services, logger) {
		go c.Run(ctx)
	}
	logger.Info("scheduler started",
		"tick_interval", cfg.ExtractTickInterval,
		"timezone", rt.Location.String(),
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("scheduler shutting down")
	cancel()
	time.Sleep(2 * time.Second)
}
