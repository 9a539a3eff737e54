package runner

import (
	"context"

	"github.com/wolfman30/schedule-notify/internal/inbound"
	"github.com/wolfman30/schedule-notify/internal/queue"
	"github.com/wolfman30/schedule-notify/internal/schedules"
	"github.com/wolfman30/schedule-notify/internal/tenancy"
)

// HandleActiveSchedule consumes schedules submitted through the inbound API.
// They skip extraction and grouping: the schedule is stored and sent directly.
func (r *Runner) HandleActiveSchedule(ctx context.Context, msg queue.Message) error {
	job, err := inbound.DecodeJob(msg.Body)
	if err != nil {
		r.logger.Error("runner: dropping undecodable active schedule", "error", err, "message_id", msg.ID)
		return nil
	}

	setting := job.ScheduleSetting
	ctx = tenancy.WithWorkspaceID(ctx, setting.WorkspaceID)
	s := schedules.FromRecord(job.Record, setting.WorkspaceID, setting.IntegrationID, setting.ID)
	if !r.store(ctx, s) {
		return nil
	}

	_, err = r.sender.SendSchedule(ctx, sendRequestFor(&setting, job.TypeSetting, s))
	if err != nil {
		r.reportTaskError(ctx, "runner.active_schedule", err, s)
	}
	return nil
}
