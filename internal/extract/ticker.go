package extract

import (
	"context"
	"time"

	"github.com/wolfman30/schedule-notify/internal/settings"
	"github.com/wolfman30/schedule-notify/pkg/logging"
)

// SettingsSource lists the settings the ticker evaluates.
type SettingsSource interface {
	ListActive(ctx context.Context) ([]settings.ScheduleSetting, error)
}

// Evaluator runs one strategy evaluation.
type Evaluator interface {
	RunNextExtract(ctx context.Context, req Request) (Outcome, error)
}

// TickResult summarizes one pass over the active settings.
type TickResult struct {
	Evaluated int
	Proceeded int
	Omitted   int
	Failed    int
}

// Ticker drives the Engine once per interval over every active send setting.
type Ticker struct {
	settings SettingsSource
	engine   Evaluator
	logger   *logging.Logger
	interval time.Duration
}

// NewTicker builds a Ticker that fires once per minute.
func NewTicker(source SettingsSource, engine Evaluator, logger *logging.Logger) *Ticker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Ticker{
		settings: source,
		engine:   engine,
		logger:   logger,
		interval: time.Minute,
	}
}

// WithInterval overrides the tick interval.
func (t *Ticker) WithInterval(d time.Duration) *Ticker {
	if d > 0 {
		t.interval = d
	}
	return t
}

// Run ticks until ctx is canceled.
func (t *Ticker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	t.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Tick evaluates every active send setting of every active setting once. One
// failing pair never stops the others.
func (t *Ticker) Tick(ctx context.Context) TickResult {
	var res TickResult
	list, err := t.settings.ListActive(ctx)
	if err != nil {
		t.logger.Error("extract ticker: list active settings failed", "error", err)
		res.Failed++
		return res
	}

	for _, setting := range list {
		if !setting.Active || setting.ExternalExtract {
			continue
		}
		for _, ts := range setting.ActiveTypeSettings() {
			res.Evaluated++
			outcome, err := t.engine.RunNextExtract(ctx, Request{Setting: setting, TypeSetting: ts})
			switch {
			case err != nil:
				res.Failed++
				t.logger.Error("extract ticker: evaluation failed",
					"setting_id", setting.ID, "workspace_id", setting.WorkspaceID, "type", ts.SendType, "error", err)
			case outcome.Omitted:
				res.Omitted++
			default:
				res.Proceeded++
			}
		}
	}
	if res.Proceeded > 0 || res.Failed > 0 {
		t.logger.Info("extract ticker: tick complete",
			"evaluated", res.Evaluated, "proceeded", res.Proceeded, "omitted", res.Omitted, "failed", res.Failed)
	}
	return res
}
