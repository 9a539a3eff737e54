package alerts

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wolfman30/schedule-notify/internal/observability/metrics"
	"github.com/wolfman30/schedule-notify/internal/tenancy"
	"github.com/wolfman30/schedule-notify/pkg/logging"
)

func TestLogAlerterCountsBySource(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewLogAlerter(nil, metrics.NewSchedulingMetrics(reg))
	a.Capture(context.Background(), "runner", errors.New("boom"), "setting_id", "s-1")
	a.Capture(context.Background(), "runner", errors.New("boom again"))

	count, err := testutil.GatherAndCount(reg, "schedule_notify_alerts_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one alert series, got %d", count)
	}

	var nilAlerter *LogAlerter
	nilAlerter.Capture(context.Background(), "x", errors.New("ignored"))
	Nop{}.Capture(context.Background(), "x", nil)
}

func TestLogAlerterTagsWorkspace(t *testing.T) {
	var buf bytes.Buffer
	logger := &logging.Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	a := NewLogAlerter(logger, nil)

	ctx := tenancy.WithWorkspaceID(context.Background(), "ws-9")
	a.Capture(ctx, "delivery.dispatch", errors.New("boom"))

	if !strings.Contains(buf.String(), `"workspace_id":"ws-9"`) {
		t.Fatalf("expected workspace id in alert log, got %s", buf.String())
	}
}
