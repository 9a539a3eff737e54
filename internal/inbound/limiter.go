package inbound

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/schedule-notify/internal/observability/alerts"
	"github.com/wolfman30/schedule-notify/internal/observability/metrics"
	"github.com/wolfman30/schedule-notify/pkg/logging"
)

const (
	DefaultRateLimit  = 1000
	DefaultRateWindow = time.Minute
)

// Counter increments a key within a fixed window.
type Counter interface {
	IncrWithin(ctx context.Context, key string, window time.Duration) (int64, bool)
}

// Limiter caps requests per API key per window. When the counter is
// unavailable every request is allowed.
type Limiter struct {
	counter Counter
	limit   int64
	window  time.Duration
	alerts  alerts.Alerter
	metrics *metrics.SchedulingMetrics
	logger  *logging.Logger
}

// NewLimiter builds a Limiter. Non-positive limit or window use the defaults.
func NewLimiter(counter Counter, limit int, window time.Duration, alerter alerts.Alerter, m *metrics.SchedulingMetrics, logger *logging.Logger) *Limiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	if alerter == nil {
		alerter = alerts.Nop{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Limiter{
		counter: counter,
		limit:   int64(limit),
		window:  window,
		alerts:  alerter,
		metrics: m,
		logger:  logger,
	}
}

// Allow counts one request for apiKey and returns ErrRateLimited once the
// window ceiling is exceeded. Only the first rejected request of a window
// raises an alert.
func (l *Limiter) Allow(ctx context.Context, apiKey string) error {
	n, ok := l.counter.IncrWithin(ctx, "ratelimit:active_schedule:"+apiKey, l.window)
	if !ok {
		return nil
	}
	if n <= l.limit {
		return nil
	}
	if n == l.limit+1 {
		l.alerts.Capture(ctx, "inbound.rate_limit", errors.New("active schedule rate limit exceeded"),
			"api_key_suffix", keySuffix(apiKey),
			"limit", l.limit,
		)
	}
	l.metrics.ObserveInboundRejected("rate_limited")
	return ErrRateLimited
}

func keySuffix(apiKey string) string {
	if len(apiKey) <= 4 {
		return apiKey
	}
	return apiKey[len(apiKey)-4:]
}
