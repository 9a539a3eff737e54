package bootstrap

import (
	"context"

	appconfig "github.com/wolfman30/schedule-notify/internal/config"
	"github.com/wolfman30/schedule-notify/internal/delivery"
	"github.com/wolfman30/schedule-notify/internal/queue"
	"github.com/wolfman30/schedule-notify/pkg/logging"
)

// StartConsumers starts the extraction, active-schedule and channel-event
// consumers and returns them so callers can Wait on shutdown.
func StartConsumers(ctx context.Context, cfg *appconfig.Config, svc *Services, q Queues, logger *logging.Logger) []*queue.Consumer {
	if logger == nil {
		logger = logging.Default()
	}
	workers := 1
	if cfg != nil && cfg.WorkerCount > 0 {
		workers = cfg.WorkerCount
	}
	opts := []queue.ConsumerOption{queue.WithWorkerCount(workers)}
	if !q.Memory {
		opts = append(opts, queue.WithReceiveWaitSeconds(20), queue.WithReceiveBatchSize(10))
	}

	consumers := []*queue.Consumer{
		queue.NewConsumer("extract", q.Extract, svc.Runner.Handle, logger, opts...),
		queue.NewConsumer("active-schedule", q.ActiveSchedule, svc.Runner.HandleActiveSchedule, logger, opts...),
		queue.NewConsumer("channel-events", q.ChannelEvents, svc.Dispatcher.QueueHandler(q.ChannelEventsSource), logger, opts...),
	}
	for _, c := range consumers {
		c.Start(ctx)
	}
	logger.Info("queue consumers started", "workers", workers, "memory", q.Memory)
	return consumers
}

// WaitConsumers blocks until every consumer has drained.
func WaitConsumers(consumers []*queue.Consumer) {
	for _, c := range consumers {
		c.Wait()
	}
}

// BuildCrons returns the periodic delivery jobs.
func BuildCrons(cfg *appconfig.Config, svc *Services, logger *logging.Logger) []*delivery.Cron {
	return []*delivery.Cron{
		delivery.NewCron("not-answered", cfg.NotAnsweredResendInterval, svc.Dispatcher.RunNotAnswered, logger),
		delivery.NewCron("integration-retry", cfg.IntegrationRetryInterval, svc.Dispatcher.RunIntegrationRetry, logger),
	}
}
