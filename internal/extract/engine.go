package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/schedule-notify/internal/calendar"
	"github.com/wolfman30/schedule-notify/internal/observability/metrics"
	"github.com/wolfman30/schedule-notify/internal/settings"
	"github.com/wolfman30/schedule-notify/pkg/logging"
)

// Omission reasons. Callers and tests match on these exact strings.
const (
	OmitRunning      = "ommiting extract: running"
	OmitExtractAt    = "ommiting extract: extractAt"
	OmitOutOfHours   = "ommiting extract: out of hours"
	OmitWeekend      = "ommiting extract: weekend"
	OmitSameHour     = "ommiting extract: already extracted in hour"
	OmitAlreadyToday = "ommiting extract: already extracted today"
	OmitInactive     = "ommiting extract: inactive"
	OmitInvalidRange = "ommiting extract: invalid range"
	omitIntervalFmt  = "ommiting extract: interval:%d minutes"
)

// OmitInterval is the cadence-guard reason for an interval in minutes.
func OmitInterval(minutes int) string {
	return fmt.Sprintf(omitIntervalFmt, minutes)
}

const (
	sendWindowStartHour = 6
	sendWindowEndHour   = 22
	dailyV2GateHour     = 7
)

// Outcome is the tagged result of RunNextExtract: either the run proceeded with
// Extract enqueued, or it was omitted with Reason.
type Outcome struct {
	Omitted bool
	Reason  string
	Extract *ExtractResume
}

func proceeded(r *ExtractResume) Outcome { return Outcome{Extract: r} }

func omitted(reason string) Outcome { return Outcome{Omitted: true, Reason: reason} }

// Request selects the setting pair to evaluate. RuleOverride and the manual
// range are only set by operator entry points.
type Request struct {
	Setting      settings.ScheduleSetting
	TypeSetting  settings.TypeSetting
	RuleOverride settings.Rule
	StartDate    time.Time
	EndDate      time.Time
}

func (r Request) rule() settings.Rule {
	if r.RuleOverride != "" {
		return r.RuleOverride
	}
	if r.Setting.ExtractRule == "" {
		return settings.RuleDefault
	}
	return r.Setting.ExtractRule
}

// LedgerStore is the subset of Ledger used by the Engine.
type LedgerStore interface {
	Create(ctx context.Context, r *ExtractResume) error
	FindLast(ctx context.Context, settingID uuid.UUID, sendType settings.SendType, typeSettingID uuid.UUID) (*ExtractResume, error)
	FindDaily(ctx context.Context, settingID uuid.UUID, sendType settings.SendType, typeSettingID uuid.UUID, dayStart time.Time) (*ExtractResume, error)
	UpdateRange(ctx context.Context, id uuid.UUID, start, end time.Time) error
	UpdateEndedLock(ctx context.Context, id uuid.UUID) error
	UpdateEndedError(ctx context.Context, id uuid.UUID, counts Counts, errText string) error
}

// JobPublisher enqueues extraction jobs.
type JobPublisher interface {
	PublishExtract(ctx context.Context, job Job) error
}

// window is a resolved appointment-date range plus the group rule to publish with.
type window struct {
	start     time.Time
	end       time.Time
	groupRule settings.GroupRule
}

// evaluation carries everything a strategy needs for one decision.
type evaluation struct {
	req      Request
	now      time.Time
	last     *ExtractResume
	unlocked bool
}

// strategy describes one extraction rule.
type strategy struct {
	// daily strategies look at today's row instead of the last row.
	daily bool
	// cadence applies the getScheduleInterval guard.
	cadence bool
	gate    func(ev evaluation) string
	window  func(ev evaluation) (window, string)
}

// Engine evaluates extraction strategies.
type Engine struct {
	ledger      LedgerStore
	publisher   JobPublisher
	logger      *logging.Logger
	metrics     *metrics.SchedulingMetrics
	now         func() time.Time
	loc         *time.Location
	lockTimeout time.Duration
	strategies  map[settings.Rule]strategy
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLocation sets the timezone used for day and hour boundaries.
func WithLocation(loc *time.Location) EngineOption {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithLockTimeout sets how long a RUNNING row may stay RUNNING before it is
// considered abandoned.
func WithLockTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.lockTimeout = d
		}
	}
}

// WithMetrics wires Prometheus counters.
func WithMetrics(m *metrics.SchedulingMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine builds an Engine with the five extraction strategies.
func NewEngine(ledger LedgerStore, publisher JobPublisher, logger *logging.Logger, opts ...EngineOption) *Engine {
	if ledger == nil {
		panic("extract: ledger cannot be nil")
	}
	if publisher == nil {
		panic("extract: publisher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		ledger:      ledger,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
		loc:         time.UTC,
		lockTimeout: 60 * time.Minute,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.strategies = map[settings.Rule]strategy{
		settings.RuleDefault: {cadence: true, gate: sameHourGate, window: defaultWindow},
		settings.RuleDaily:   {daily: true, gate: dailyGate, window: dailyWindow},
		settings.RuleDailyV2: {daily: true, gate: dailyV2Gate, window: dailyV2Window},
		settings.RuleHourly:  {cadence: true, gate: sendHoursGate, window: hourlyWindow},
		settings.RuleManual:  {window: manualWindow},
	}
	return e
}

// RunNextExtract decides whether a new extraction should start for the pair in
// req, and if so records it in the ledger and publishes the job.
func (e *Engine) RunNextExtract(ctx context.Context, req Request) (Outcome, error) {
	rule := req.rule()
	strat, ok := e.strategies[rule]
	if !ok {
		return Outcome{}, fmt.Errorf("extract: unknown extract rule %q", rule)
	}
	if rule != settings.RuleManual && (!req.Setting.Active || !req.TypeSetting.Active) {
		return e.omit(rule, OmitInactive), nil
	}

	now := e.now().In(e.loc)
	ev := evaluation{req: req, now: now}

	last, err := e.prior(ctx, strat, req, now)
	if err != nil {
		return Outcome{}, err
	}
	ev.last = last

	if rule == settings.RuleManual && last != nil && last.State == StateAwaitingRun {
		return e.enqueue(ctx, rule, strat, ev)
	}

	if last != nil && !last.State.Terminal() {
		if !e.abandoned(last, now) {
			return e.omit(rule, OmitRunning), nil
		}
		if err := e.ledger.UpdateEndedLock(ctx, last.ID); err != nil {
			return Outcome{}, err
		}
		e.logger.Warn("extract engine: forced abandoned extract to ENDED_LOCK",
			"extract_id", last.ID, "setting_id", req.Setting.ID, "state", last.State)
		last.State = StateEndedLock
		ev.unlocked = true
	}

	if strat.cadence && last != nil && !ev.unlocked && last.EndAt != nil {
		interval := req.Setting.Interval()
		if now.Sub(*last.EndAt) <= time.Duration(interval)*time.Minute {
			return e.omit(rule, OmitInterval(interval)), nil
		}
	}

	if strat.gate != nil {
		if reason := strat.gate(ev); reason != "" {
			return e.omit(rule, reason), nil
		}
	}
	// A failed run today does not count; the next evaluation retries it.
	if strat.daily && last != nil && !ev.unlocked && last.State != StateEndedError {
		return e.omit(rule, OmitAlreadyToday), nil
	}

	return e.enqueue(ctx, rule, strat, ev)
}

func (e *Engine) prior(ctx context.Context, strat strategy, req Request, now time.Time) (*ExtractResume, error) {
	if strat.daily {
		return e.ledger.FindDaily(ctx, req.Setting.ID, req.TypeSetting.SendType, req.TypeSetting.ID, calendar.StartOfDay(now))
	}
	return e.ledger.FindLast(ctx, req.Setting.ID, req.TypeSetting.SendType, req.TypeSetting.ID)
}

// abandoned reports whether a non-terminal row has outlived the lock timeout.
// AWAITING_RUN rows age from creation, RUNNING rows from their start.
func (e *Engine) abandoned(r *ExtractResume, now time.Time) bool {
	since := r.CreatedAt
	if r.State == StateRunning && r.StartedAt != nil {
		since = *r.StartedAt
	}
	return now.Sub(since) >= e.lockTimeout
}

func (e *Engine) enqueue(ctx context.Context, rule settings.Rule, strat strategy, ev evaluation) (Outcome, error) {
	win, reason := strat.window(ev)
	if reason != "" {
		return e.omit(rule, reason), nil
	}
	if win.groupRule == "" {
		win.groupRule = ev.req.TypeSetting.GroupRuleOrDefault()
	}

	req := ev.req
	var resume *ExtractResume
	if rule == settings.RuleManual && ev.last != nil && ev.last.State == StateAwaitingRun {
		if err := e.ledger.UpdateRange(ctx, ev.last.ID, win.start, win.end); err != nil {
			return Outcome{}, err
		}
		resume = ev.last
		resume.StartRangeDate = win.start
		resume.EndRangeDate = win.end
	} else {
		resume = &ExtractResume{
			ScheduleSettingID: req.Setting.ID,
			SettingTypeID:     req.TypeSetting.ID,
			Type:              req.TypeSetting.SendType,
			WorkspaceID:       req.Setting.WorkspaceID,
			IntegrationID:     req.Setting.IntegrationID,
			State:             StateAwaitingRun,
			ExtractRule:       rule,
			StartRangeDate:    win.start,
			EndRangeDate:      win.end,
		}
		if err := e.ledger.Create(ctx, resume); err != nil {
			return Outcome{}, err
		}
	}

	job := Job{
		ExtractID:               resume.ID,
		CorrelationID:           resume.CorrelationID,
		ExtractRule:             rule,
		ScheduleSetting:         req.Setting,
		TypeSetting:             req.TypeSetting,
		StartDate:               win.start,
		EndDate:                 win.end,
		ErpParams:               mergeErpParams(req.Setting.ErpParams, req.TypeSetting.ErpParams),
		ScheduleGroupRule:       win.groupRule,
		SendRecipientType:       req.TypeSetting.RecipientOrDefault(),
		SendingGroupType:        req.TypeSetting.SendingGroupType,
		HoursBeforeScheduleDate: req.TypeSetting.HoursBefore(),
	}
	job.ScheduleSetting.TypeSettings = nil
	if err := e.publisher.PublishExtract(ctx, job); err != nil {
		if markErr := e.ledger.UpdateEndedError(ctx, resume.ID, Counts{}, err.Error()); markErr != nil {
			err = errors.Join(err, markErr)
		}
		return Outcome{}, fmt.Errorf("extract: publish job: %w", err)
	}

	e.logger.Info("extract engine: extraction enqueued",
		"extract_id", resume.ID,
		"setting_id", req.Setting.ID,
		"type", req.TypeSetting.SendType,
		"rule", rule,
		"start", win.start,
		"end", win.end,
	)
	e.metrics.ObserveEvaluation(string(rule), "proceeded")
	return proceeded(resume), nil
}

func (e *Engine) omit(rule settings.Rule, reason string) Outcome {
	e.logger.Debug("extract engine: omitted", "rule", rule, "reason", reason)
	e.metrics.ObserveEvaluation(string(rule), "omitted")
	return omitted(reason)
}

func sendHoursGate(ev evaluation) string {
	if ev.req.Setting.UseSendFullDay {
		return ""
	}
	if h := ev.now.Hour(); h < sendWindowStartHour || h > sendWindowEndHour {
		return OmitOutOfHours
	}
	return ""
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}

func dailyGate(ev evaluation) string {
	if ev.now.Hour() < ev.req.Setting.ExtractAt/60 {
		return OmitExtractAt
	}
	if isWeekend(ev.now) {
		return OmitWeekend
	}
	return ""
}

func dailyV2Gate(ev evaluation) string {
	if ev.now.Hour() < dailyV2GateHour {
		return OmitExtractAt
	}
	if reason := sendHoursGate(ev); reason != "" {
		return reason
	}
	if isWeekend(ev.now) {
		return OmitWeekend
	}
	return ""
}

// sameHourGate refuses a second DEFAULT run within one (day, hour).
func sameHourGate(ev evaluation) string {
	if ev.last == nil || ev.unlocked {
		return ""
	}
	prev := ev.last.CreatedAt.In(ev.now.Location())
	if calendar.StartOfHour(prev).Equal(calendar.StartOfHour(ev.now)) {
		return OmitSameHour
	}
	return ""
}

func defaultWindow(ev evaluation) (window, string) {
	target := ev.now.Add(time.Duration(ev.req.TypeSetting.HoursBefore()) * time.Hour)
	return window{start: calendar.StartOfHour(target), end: calendar.EndOfHour(target)}, ""
}

func dailyWindow(ev evaluation) (window, string) {
	tomorrow := calendar.StartOfDay(ev.now).AddDate(0, 0, 1)
	if ev.now.Weekday() == time.Friday && ev.req.Setting.FridayJoinWeekendMonday {
		return window{start: tomorrow, end: calendar.EndOfDay(tomorrow.AddDate(0, 0, 2))}, ""
	}
	if hb := ev.req.TypeSetting.HoursBefore(); hb >= 12 && hb <= 24 && calendar.IsWeekendOrHoliday(tomorrow) {
		start, end := calendar.NextNonHolidayRange(tomorrow)
		return window{start: start, end: end}, ""
	}
	return window{start: tomorrow, end: calendar.EndOfDay(tomorrow)}, ""
}

func dailyV2Window(ev evaluation) (window, string) {
	w, reason := dailyWindow(ev)
	w.groupRule = settings.GroupAllOfRange
	return w, reason
}

func hourlyWindow(ev evaluation) (window, string) {
	target := ev.now.Add(time.Duration(ev.req.TypeSetting.HoursBefore()) * time.Hour)
	w := window{start: calendar.StartOfDay(target), end: calendar.EndOfDay(target)}
	if ev.now.Weekday() == time.Friday && ev.req.Setting.FridayJoinWeekendMonday {
		monday := calendar.StartOfDay(ev.now).AddDate(0, 0, 3)
		if monday.After(w.end) {
			w.end = calendar.EndOfDay(monday)
		}
	}
	return w, ""
}

func manualWindow(ev evaluation) (window, string) {
	start, end := ev.req.StartDate, ev.req.EndDate
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return window{}, OmitInvalidRange
	}
	return window{start: start.In(ev.now.Location()), end: end.In(ev.now.Location())}, ""
}
