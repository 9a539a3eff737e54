// Package alerts captures unexpected errors with enough context to diagnose them
// without blocking the caller.
package alerts

import (
	"context"

	"github.com/wolfman30/schedule-notify/internal/observability/metrics"
	"github.com/wolfman30/schedule-notify/internal/tenancy"
	"github.com/wolfman30/schedule-notify/pkg/logging"
)

// Alerter receives unexpected errors.
type Alerter interface {
	Capture(ctx context.Context, source string, err error, fields ...any)
}

// LogAlerter logs at error level and counts alerts per source.
type LogAlerter struct {
	logger  *logging.Logger
	metrics *metrics.SchedulingMetrics
}

// NewLogAlerter returns an Alerter backed by the structured logger.
func NewLogAlerter(logger *logging.Logger, m *metrics.SchedulingMetrics) *LogAlerter {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogAlerter{logger: logger, metrics: m}
}

func (a *LogAlerter) Capture(ctx context.Context, source string, err error, fields ...any) {
	if a == nil {
		return
	}
	args := []any{"alert_source", source, "error", err}
	if ws, ok := tenancy.WorkspaceIDFromContext(ctx); ok {
		args = append(args, "workspace_id", ws)
	}
	args = append(args, fields...)
	a.logger.ErrorContext(ctx, "alert captured", args...)
	a.metrics.ObserveAlert(source)
}

// Nop discards alerts.
type Nop struct{}

func (Nop) Capture(context.Context, string, error, ...any) {}
