package delivery

import (
	"context"
	"time"

	"github.com/wolfman30/schedule-notify/pkg/logging"
)

// Job is one periodic delivery task returning how many items it acted on.
type Job func(ctx context.Context) (int, error)

// Cron runs a Job on a fixed interval.
type Cron struct {
	name     string
	interval time.Duration
	job      Job
	logger   *logging.Logger
}

// NewCron builds a Cron.
func NewCron(name string, interval time.Duration, job Job, logger *logging.Logger) *Cron {
	if logger == nil {
		logger = logging.Default()
	}
	return &Cron{name: name, interval: interval, job: job, logger: logger}
}

// Run blocks until ctx is cancelled.
func (c *Cron) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce executes the job a single time and logs its outcome.
func (c *Cron) RunOnce(ctx context.Context) int {
	n, err := c.job(ctx)
	if err != nil {
		c.logger.Error("delivery cron failed", "cron", c.name, "error", err)
		return n
	}
	c.logger.Debug("delivery cron finished", "cron", c.name, "count", n)
	return n
}
