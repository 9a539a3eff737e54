// Package runner consumes extraction jobs: it fetches the appointments of the
// job window from the scheduling system, groups them per patient and hands
// each group leader to message delivery.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/schedule-notify/internal/archive"
	"github.com/wolfman30/schedule-notify/internal/delivery"
	"github.com/wolfman30/schedule-notify/internal/extract"
	"github.com/wolfman30/schedule-notify/internal/integration"
	"github.com/wolfman30/schedule-notify/internal/observability/alerts"
	"github.com/wolfman30/schedule-notify/internal/observability/metrics"
	"github.com/wolfman30/schedule-notify/internal/queue"
	"github.com/wolfman30/schedule-notify/internal/schedules"
	"github.com/wolfman30/schedule-notify/internal/settings"
	"github.com/wolfman30/schedule-notify/internal/tenancy"
	"github.com/wolfman30/schedule-notify/pkg/logging"
)

var runnerTracer = otel.Tracer("schedule-notify.internal.runner")

const defaultConcurrency = 8

// Ledger tracks the lifecycle of an extraction run.
type Ledger interface {
	UpdateStart(ctx context.Context, id uuid.UUID) error
	UpdateEnded(ctx context.Context, id uuid.UUID, counts extract.Counts) error
	UpdateEndedError(ctx context.Context, id uuid.UUID, counts extract.Counts, errText string) error
}

// Gateway lists appointments from the scheduling system.
type Gateway interface {
	ListSchedulesToSend(ctx context.Context, req integration.ListRequest) ([]integration.Record, error)
	ListScheduleNotifications(ctx context.Context, req integration.ListRequest) ([]integration.Record, error)
}

// ScheduleStore persists schedules idempotently.
type ScheduleStore interface {
	FindOrCreate(ctx context.Context, s *schedules.Schedule) (bool, error)
}

// Sender creates and sends the messages of one schedule.
type Sender interface {
	SendSchedule(ctx context.Context, req delivery.SendRequest) (delivery.SendResult, error)
}

// Archiver stores the raw payload of a run.
type Archiver interface {
	ArchiveExtract(ctx context.Context, p *archive.ExtractPayload) (string, error)
}

// Config wires the Runner collaborators. Archive, Metrics, Alerts, Logger and
// Location are optional.
type Config struct {
	Ledger      Ledger
	Gateway     Gateway
	Schedules   ScheduleStore
	Sender      Sender
	Archive     Archiver
	Metrics     *metrics.SchedulingMetrics
	Alerts      alerts.Alerter
	Logger      *logging.Logger
	Location    *time.Location
	Concurrency int
}

// Runner processes extraction jobs to completion.
type Runner struct {
	ledger      Ledger
	gateway     Gateway
	schedules   ScheduleStore
	sender      Sender
	archive     Archiver
	metrics     *metrics.SchedulingMetrics
	alerts      alerts.Alerter
	logger      *logging.Logger
	loc         *time.Location
	concurrency int
	now         func() time.Time
}

// New builds a Runner.
func New(cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Alerts == nil {
		cfg.Alerts = alerts.Nop{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Runner{
		ledger:      cfg.Ledger,
		gateway:     cfg.Gateway,
		schedules:   cfg.Schedules,
		sender:      cfg.Sender,
		archive:     cfg.Archive,
		metrics:     cfg.Metrics,
		alerts:      cfg.Alerts,
		logger:      cfg.Logger,
		loc:         cfg.Location,
		concurrency: cfg.Concurrency,
		now:         time.Now,
	}
}

// Handle is the queue handler for extraction jobs. Failures are recorded on the
// ledger and never returned, so the message is always removed from the queue.
func (r *Runner) Handle(ctx context.Context, msg queue.Message) error {
	job, err := extract.DecodeJob(msg.Body)
	if err != nil {
		r.logger.Error("runner: dropping undecodable job", "error", err, "message_id", msg.ID)
		r.alerts.Capture(ctx, "runner.decode", err, "message_id", msg.ID)
		return nil
	}
	if _, err := r.Run(ctx, job); err != nil {
		r.logger.Error("runner: extraction failed", "error", err, "extract_id", job.ExtractID, "setting_id", job.ScheduleSetting.ID)
	}
	return nil
}

// Run processes one extraction job and returns the accumulated counts.
func (r *Runner) Run(ctx context.Context, job extract.Job) (extract.Counts, error) {
	ctx = tenancy.WithWorkspaceID(ctx, job.ScheduleSetting.WorkspaceID)
	ctx, span := runnerTracer.Start(ctx, "runner.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("extract.id", job.ExtractID.String()),
		attribute.String("extract.rule", string(job.ExtractRule)),
		attribute.String("send.type", string(job.TypeSetting.SendType)),
	)

	started := r.now()
	var counts extract.Counts
	if err := r.ledger.UpdateStart(ctx, job.ExtractID); err != nil {
		span.RecordError(err)
		return counts, fmt.Errorf("runner: start extract: %w", err)
	}

	counts, err := r.process(ctx, job)
	elapsed := r.now().Sub(started).Seconds()
	if err != nil {
		span.RecordError(err)
		r.alerts.Capture(ctx, "runner.extract", err,
			"extract_id", job.ExtractID,
			"setting_id", job.ScheduleSetting.ID,
			"workspace_id", job.ScheduleSetting.WorkspaceID,
		)
		if uerr := r.ledger.UpdateEndedError(ctx, job.ExtractID, counts, err.Error()); uerr != nil {
			r.logger.Error("runner: failed to record extract error", "error", uerr, "extract_id", job.ExtractID)
		}
		r.metrics.ObserveRun(string(job.ExtractRule), string(extract.StateEndedError), elapsed, counts.Extracted, counts.Processed, counts.Sent)
		return counts, err
	}

	if err := r.ledger.UpdateEnded(ctx, job.ExtractID, counts); err != nil {
		return counts, fmt.Errorf("runner: end extract: %w", err)
	}
	r.metrics.ObserveRun(string(job.ExtractRule), string(extract.StateEnded), elapsed, counts.Extracted, counts.Processed, counts.Sent)
	r.logger.Info("runner: extraction ended",
		"extract_id", job.ExtractID,
		"extracted", counts.Extracted,
		"processed", counts.Processed,
		"sent", counts.Sent,
	)
	return counts, nil
}

func (r *Runner) process(ctx context.Context, job extract.Job) (extract.Counts, error) {
	var counts extract.Counts
	records, err := r.fetch(ctx, job)
	if err != nil {
		return counts, err
	}
	counts.Extracted = len(records)
	r.archivePayload(ctx, job, records)

	rule := job.ScheduleGroupRule
	if rule == "" {
		rule = job.TypeSetting.GroupRuleOrDefault()
	}

	var tasks []task
	switch rule {
	case settings.GroupFirstOfRange:
		tasks = r.firstOfRangeTasks(job, records)
	default:
		tasks = r.allOfRangeTasks(job, records)
	}
	return counts.Add(r.fanOut(ctx, tasks)), nil
}

func (r *Runner) fetch(ctx context.Context, job extract.Job) ([]integration.Record, error) {
	req := integration.ListRequest{
		IntegrationID: job.ScheduleSetting.IntegrationID,
		StartDate:     job.StartDate,
		EndDate:       job.EndDate,
		ErpParams:     job.ErpParams,
		CorrelationID: job.CorrelationID.String(),
		ShortLink:     job.ScheduleSetting.ShortLink,
		FixedParams: map[string]any{
			"sendType":        string(job.TypeSetting.SendType),
			"typeSettingId":   job.TypeSetting.ID.String(),
			"scheduleSetting": job.ScheduleSetting.ID.String(),
		},
	}
	var (
		records []integration.Record
		err     error
	)
	if job.TypeSetting.SendType.UsesScheduleWindow() {
		records, err = r.gateway.ListSchedulesToSend(ctx, req)
	} else {
		records, err = r.gateway.ListScheduleNotifications(ctx, req)
	}
	if err != nil {
		return nil, fmt.Errorf("runner: list schedules: %w", err)
	}
	return records, nil
}

func (r *Runner) archivePayload(ctx context.Context, job extract.Job, records []integration.Record) {
	if r.archive == nil {
		return
	}
	_, err := r.archive.ArchiveExtract(ctx, &archive.ExtractPayload{
		ExtractID:     job.ExtractID,
		CorrelationID: job.CorrelationID,
		WorkspaceID:   job.ScheduleSetting.WorkspaceID,
		IntegrationID: job.ScheduleSetting.IntegrationID,
		SettingID:     job.ScheduleSetting.ID,
		SendType:      string(job.TypeSetting.SendType),
		StartDate:     job.StartDate,
		EndDate:       job.EndDate,
		Records:       records,
	})
	if err != nil {
		r.logger.Warn("runner: archive failed", "error", err, "extract_id", job.ExtractID)
	}
}

// task is one independent unit of the fan-out: a patient group or a single
// first-of-range appointment. Its first schedule is the one that sends.
type task struct {
	leader  delivery.SendRequest
	members []*schedules.Schedule
}

type taskResult struct {
	processed int
	sent      int
}

// fanOut runs every task with bounded concurrency. Each task reports its own
// result and the totals are reduced once all of them finished.
func (r *Runner) fanOut(ctx context.Context, tasks []task) extract.Counts {
	results := make([]taskResult, len(tasks))
	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	for i := range tasks {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = r.runTask(ctx, tasks[i])
		}(i)
	}
	wg.Wait()

	var counts extract.Counts
	for _, res := range results {
		counts.Processed += res.processed
		counts.Sent += res.sent
	}
	return counts
}

func (r *Runner) runTask(ctx context.Context, t task) taskResult {
	var res taskResult
	if r.store(ctx, t.leader.Schedule) {
		res.processed++
		sent, err := r.sender.SendSchedule(ctx, t.leader)
		if err != nil {
			r.reportTaskError(ctx, "runner.send", err, t.leader.Schedule)
		} else if sent.Sent {
			res.sent++
		}
	}
	for _, m := range t.members {
		if r.store(ctx, m) {
			res.processed++
		}
	}
	return res
}

// store get-or-creates a schedule. A unique violation means a concurrent run
// created it first and is not an error.
func (r *Runner) store(ctx context.Context, s *schedules.Schedule) bool {
	if _, err := r.schedules.FindOrCreate(ctx, s); err != nil {
		if schedules.IsUniqueViolation(err) {
			r.logger.Debug("runner: schedule created concurrently", "schedule_code", s.ScheduleCode)
			return false
		}
		r.reportTaskError(ctx, "runner.schedule", err, s)
		return false
	}
	return true
}

func (r *Runner) reportTaskError(ctx context.Context, source string, err error, s *schedules.Schedule) {
	r.logger.Error("runner: group failed", "error", err,
		"source", source,
		"workspace_id", s.WorkspaceID,
		"schedule_code", s.ScheduleCode,
		"patient_code", s.PatientCode,
	)
	r.alerts.Capture(ctx, source, err, "workspace_id", s.WorkspaceID, "schedule_code", s.ScheduleCode)
}
