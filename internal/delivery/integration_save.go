package delivery

import (
	"context"
	"time"

	"github.com/wolfman30/schedule-notify/internal/integration"
	"github.com/wolfman30/schedule-notify/internal/schedules"
)

const integrationRetryLookback = 24 * time.Hour

// saveIntegration pushes a confirmed or canceled answer to the scheduling
// system for every appointment of the message's group. The message becomes
// SAVED_INTEGRATIONS only when every push reports ok.
func (d *Dispatcher) saveIntegration(ctx context.Context, m *ScheduleMessage) (bool, error) {
	if d.gateway == nil {
		return false, nil
	}
	s, err := d.schedules.Get(ctx, m.ScheduleID)
	if err != nil {
		return false, err
	}
	setting, err := d.settings.Get(ctx, m.ScheduleSettingID)
	if err != nil {
		return false, err
	}

	group := []schedules.Schedule{*s}
	if s.GroupID != nil {
		members, err := d.schedules.ListByGroup(ctx, s.WorkspaceID, *s.GroupID)
		if err != nil {
			return false, err
		}
		if len(members) > 0 {
			group = members
		}
	}

	action, push := "confirm", d.gateway.ConfirmAppointment
	if m.ResponseType == ResponseCanceled {
		action, push = "cancel", d.gateway.CancelAppointment
	}

	allOK := true
	for _, member := range group {
		res, err := push(ctx, integration.ActionRequest{
			IntegrationID:  setting.IntegrationID,
			Schedule:       member.Record().Schedule,
			ErpParams:      setting.ErpParams,
			ConversationID: m.ConversationID,
			WorkspaceID:    m.WorkspaceID,
		})
		if err != nil || !res.OK {
			allOK = false
			d.logger.Warn("delivery: integration save failed", "error", err, "action", action,
				"message_uuid", m.ID, "schedule_code", member.ScheduleCode, "result", res.Message)
		}
	}

	if !allOK {
		d.metrics.ObserveIntegrationSave(action, "failed")
		return false, nil
	}
	d.metrics.ObserveIntegrationSave(action, "saved")
	m.State = StateSavedIntegrations
	return true, d.messages.Update(ctx, m)
}

// individualCancel cancels only the message's own appointment.
func (d *Dispatcher) individualCancel(ctx context.Context, m *ScheduleMessage) error {
	if d.gateway == nil {
		return nil
	}
	s, err := d.schedules.Get(ctx, m.ScheduleID)
	if err != nil {
		return err
	}
	setting, err := d.settings.Get(ctx, m.ScheduleSettingID)
	if err != nil {
		return err
	}
	res, err := d.gateway.CancelAppointment(ctx, integration.ActionRequest{
		IntegrationID:  setting.IntegrationID,
		Schedule:       s.Record().Schedule,
		ErpParams:      setting.ErpParams,
		ConversationID: m.ConversationID,
		WorkspaceID:    m.WorkspaceID,
	})
	if err != nil || !res.OK {
		d.metrics.ObserveIntegrationSave("individual_cancel", "failed")
		d.logger.Warn("delivery: individual cancel not completed", "error", err, "message_uuid", m.ID)
		m.State = StateIndividualCancelNotCompleted
	} else {
		d.metrics.ObserveIntegrationSave("individual_cancel", "saved")
		m.State = StateSavedIntegrations
	}
	return d.messages.Update(ctx, m)
}

// RunIntegrationRetry retries the save-back of confirmation answers from the
// last 24h that are still AWAITING_SAVE_INTEGRATIONS.
func (d *Dispatcher) RunIntegrationRetry(ctx context.Context) (int, error) {
	pending, err := d.messages.ListPendingIntegrationSave(ctx, d.now().Add(-integrationRetryLookback))
	if err != nil {
		return 0, err
	}
	saved := 0
	for i := range pending {
		m := &pending[i]
		ok, err := d.saveIntegration(ctx, m)
		if err != nil {
			d.alerts.Capture(ctx, "delivery.integration_retry", err, "message_uuid", m.ID, "workspace_id", m.WorkspaceID)
			continue
		}
		if ok {
			saved++
		}
	}
	if len(pending) > 0 {
		d.logger.Info("delivery: integration retry finished", "pending", len(pending), "saved", saved)
	}
	return saved, nil
}
