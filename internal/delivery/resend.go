package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/schedule-notify/internal/inbox"
	"github.com/wolfman30/schedule-notify/internal/integration"
	"github.com/wolfman30/schedule-notify/internal/settings"
)

const (
	notAnsweredLookback  = 7 * 24 * time.Hour
	notAnsweredStartHour = 7
	notAnsweredEndHour   = 22
)

// ResendOpenConversation re-sends a message that was parked because the
// patient had another conversation open. The follow-up row uses the
// resend_open_cvs sending group so only one resend per original can exist.
func (d *Dispatcher) ResendOpenConversation(ctx context.Context, id uuid.UUID) error {
	m, err := d.messages.Get(ctx, id)
	if err != nil {
		return err
	}
	s, err := d.schedules.Get(ctx, m.ScheduleID)
	if err != nil {
		return err
	}
	if m.SendType.AwaitsResponse() && s.ScheduleDate.Before(d.now()) {
		return ErrScheduleInPast
	}
	setting, err := d.settings.Get(ctx, m.ScheduleSettingID)
	if err != nil {
		return err
	}
	ts, err := d.settings.GetTypeSetting(ctx, m.TypeSettingID)
	if err != nil {
		return err
	}
	if !ts.ResendOpenConversation {
		return ErrResendDisabled
	}

	if setting.CheckScheduleChanges && d.gateway != nil {
		res, err := d.gateway.ValidateScheduleData(ctx, integration.ActionRequest{
			IntegrationID:  setting.IntegrationID,
			Schedule:       s.Record().Schedule,
			ErpParams:      setting.ErpParams,
			ConversationID: m.ConversationID,
			WorkspaceID:    m.WorkspaceID,
		})
		if err != nil {
			return err
		}
		if !res.OK {
			m.State = StateScheduleChanged
			d.logger.Info("delivery: schedule changed, resend skipped", "message_uuid", m.ID, "schedule_id", s.ID)
			return d.messages.Update(ctx, m)
		}
	}

	next := m.followUp(SendingGroupResendOpenConversation, StateAwaitingSend)
	next.ConversationID = ""
	created, err := d.messages.CreateIfNotExists(ctx, next)
	if err != nil {
		return err
	}
	if !created {
		d.logger.Info("delivery: open conversation resend already exists", "message_uuid", m.ID)
		return nil
	}
	if err := d.dispatch(ctx, next, s, *ts); err != nil {
		return err
	}
	m.State = StateTriedResend
	return d.messages.Update(ctx, m)
}

func notAnsweredKey(c NotAnsweredCandidate) string {
	return c.Message.WorkspaceID + "|" + string(c.Message.SendType) + "|" + c.PatientCode
}

// RunNotAnswered re-sends the template of confirmations nobody answered into
// the still-open conversation. It only acts between 07:00 and 22:00 and at
// most once per patient, send type and workspace.
func (d *Dispatcher) RunNotAnswered(ctx context.Context) (int, error) {
	now := d.now().In(d.loc)
	if now.Hour() < notAnsweredStartHour || now.Hour() > notAnsweredEndHour {
		return 0, nil
	}
	if d.inbox == nil {
		return 0, nil
	}

	candidates, err := d.messages.ListNotAnswered(ctx, now.Add(-notAnsweredLookback))
	if err != nil {
		return 0, err
	}

	retried := map[string]bool{}
	for _, c := range candidates {
		if c.Message.State == StateRetryResendConfirmResponse {
			retried[notAnsweredKey(c)] = true
		}
	}

	typeSettings := map[uuid.UUID]*settings.TypeSetting{}
	sent := 0
	for _, c := range candidates {
		m := c.Message
		key := notAnsweredKey(c)
		if m.State != StateAwaitingResponse || retried[key] {
			continue
		}

		ts, ok := typeSettings[m.TypeSettingID]
		if !ok {
			ts, err = d.settings.GetTypeSetting(ctx, m.TypeSettingID)
			if err != nil {
				d.logger.Warn("delivery: not answered type setting lookup failed", "error", err, "message_uuid", m.ID)
				continue
			}
			typeSettings[m.TypeSettingID] = ts
		}
		if !ts.ResendNotAnswered || m.SendedAt == nil || now.Sub(*m.SendedAt) < ts.ResendNotAnsweredAfter() {
			continue
		}

		conv, err := d.inbox.GetConversation(ctx, m.WorkspaceID, m.ConversationID)
		if err != nil {
			d.logger.Warn("delivery: not answered conversation lookup failed", "error", err, "message_uuid", m.ID)
			continue
		}
		if !conv.Open() || conv.Assigned() || conv.ChannelType != inbox.ChannelConfirmation {
			continue
		}

		s, err := d.schedules.Get(ctx, m.ScheduleID)
		if err != nil {
			d.logger.Warn("delivery: not answered schedule lookup failed", "error", err, "message_uuid", m.ID)
			continue
		}
		err = d.inbox.SendActivity(ctx, m.WorkspaceID, m.ConversationID, inbox.Activity{
			TemplateID: ts.TemplateID,
			Variables:  scheduleVariables(s, d.loc),
			Attributes: map[string]string{"messageUuid": m.ID.String()},
		})
		if err != nil {
			d.alerts.Capture(ctx, "delivery.not_answered", err, "message_uuid", m.ID, "workspace_id", m.WorkspaceID)
			continue
		}

		retry := m.followUp(SendingGroupRetryNotAnswered, StateRetryResendConfirmResponse)
		retry.SendedAt = timePtr(now.UTC())
		if _, err := d.messages.CreateIfNotExists(ctx, retry); err != nil {
			d.alerts.Capture(ctx, "delivery.not_answered", err, "message_uuid", m.ID)
			continue
		}
		retried[key] = true
		sent++
	}
	if sent > 0 {
		d.logger.Info("delivery: not answered resends sent", "count", sent)
	}
	return sent, nil
}
