package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/schedule-notify/internal/events"
	"github.com/wolfman30/schedule-notify/internal/queue"
	"github.com/wolfman30/schedule-notify/internal/schedules"
	"github.com/wolfman30/schedule-notify/internal/settings"
	"github.com/wolfman30/schedule-notify/internal/tenancy"
)

func openConversationKey(conversationID string) string {
	return "open_cvs:" + conversationID
}

// QueueHandler adapts HandleEvent to a queue consumer. Malformed events are
// logged and dropped.
func (d *Dispatcher) QueueHandler(source string) queue.Handler {
	return func(ctx context.Context, msg queue.Message) error {
		evt, err := events.Decode([]byte(msg.Body))
		if err != nil {
			d.logger.Warn("delivery: dropping invalid channel event", "error", err, "queue_message_id", msg.ID)
			d.metrics.ObserveChannelEvent("invalid", "dropped")
			return nil
		}
		return d.HandleEvent(ctx, evt, source)
	}
}

// HandleEvent applies one channel event to the state machine.
func (d *Dispatcher) HandleEvent(ctx context.Context, evt events.ChannelEvent, source string) error {
	marked := false
	if d.dedup != nil && evt.EventID != "" {
		fresh, err := d.dedup.MarkProcessed(ctx, source, evt.EventID)
		if err != nil {
			d.logger.Warn("delivery: event dedup unavailable", "error", err, "event_id", evt.EventID)
		} else if !fresh {
			d.metrics.ObserveChannelEvent(string(evt.Type), "duplicate")
			return nil
		}
		marked = err == nil
	}

	err := d.applyEvent(ctx, evt)
	status := "ok"
	if err != nil {
		status = "error"
		if marked {
			if ferr := d.dedup.Forget(ctx, source, evt.EventID); ferr != nil {
				d.logger.Warn("delivery: could not release event dedup mark", "error", ferr, "event_id", evt.EventID)
			}
		}
	}
	d.metrics.ObserveChannelEvent(string(evt.Type), status)
	return err
}

func (d *Dispatcher) applyEvent(ctx context.Context, evt events.ChannelEvent) error {
	at := evt.OccurredAt
	if at.IsZero() {
		at = d.now()
	}
	at = at.UTC()

	if evt.Type == events.TypeConversationClosed {
		return d.conversationClosed(ctx, evt.ConversationID)
	}

	id, err := uuid.Parse(evt.MessageUUID)
	if err != nil {
		return fmt.Errorf("%w: message uuid %q", events.ErrInvalidEvent, evt.MessageUUID)
	}
	m, err := d.messages.Get(ctx, id)
	if err != nil {
		return err
	}
	ctx = tenancy.WithWorkspaceID(ctx, m.WorkspaceID)

	switch evt.Type {
	case events.TypeSent, events.TypeEmailSent:
		m.SendedAt = timePtr(at)
		if evt.ConversationID != "" {
			m.ConversationID = evt.ConversationID
		}
		// A late sent event must not pull back a message that already moved on.
		if m.State == StateAwaitingSend || m.State == StateEnqueued {
			if m.SendType.AwaitsResponse() {
				m.State = StateAwaitingResponse
			} else {
				m.State = StateSent
			}
		}
	case events.TypeReceived, events.TypeEmailDelivered:
		m.ReceivedAt = timePtr(at)
	case events.TypeRead, events.TypeEmailOpened:
		m.ReadAt = timePtr(at)
	case events.TypeAnswered:
		m.AnsweredAt = timePtr(at)
	case events.TypeCancelReason:
		reasonID, err := uuid.Parse(evt.ReasonID)
		if err != nil {
			return fmt.Errorf("%w: reason id %q", events.ErrInvalidEvent, evt.ReasonID)
		}
		if d.settings != nil {
			if _, err := d.settings.CancelReason(ctx, m.WorkspaceID, reasonID); err != nil {
				return err
			}
		}
		m.ReasonID = &reasonID
	case events.TypeNpsScore:
		score := *evt.NpsScore
		m.NpsScore = &score
	case events.TypeNpsComment:
		m.NpsComment = evt.NpsComment
	case events.TypeStatusChanged:
		if evt.ConversationID != "" && m.ConversationID == "" {
			m.ConversationID = evt.ConversationID
		}
		return d.ApplyStatus(ctx, m, *evt.Status, at)
	}
	return d.messages.Update(ctx, m)
}

// ApplyStatus applies a numeric channel status to m.
func (d *Dispatcher) ApplyStatus(ctx context.Context, m *ScheduleMessage, code int, at time.Time) error {
	switch code {
	case StatusInvalidNumber:
		return d.invalidNumber(ctx, m, at)
	case StatusOpenConversation:
		return d.openConversation(ctx, m, at)
	}

	rt, ok := ResponseForStatus(code)
	if !ok {
		d.logger.Warn("delivery: unknown status code", "message_uuid", m.ID, "status", code)
		return nil
	}
	m.ResponseType = rt
	m.ResponseAt = timePtr(at)

	switch {
	case m.SendType == settings.SendTypeConfirmation && (rt == ResponseConfirmed || rt == ResponseCanceled):
		m.State = StateAwaitingSaveIntegrations
		if err := d.messages.Update(ctx, m); err != nil {
			return err
		}
		if _, err := d.saveIntegration(ctx, m); err != nil {
			d.alerts.Capture(ctx, "delivery.save_integration", err, "message_uuid", m.ID, "workspace_id", m.WorkspaceID)
		}
		return nil
	case rt == ResponseIndividualCancel:
		if err := d.messages.Update(ctx, m); err != nil {
			return err
		}
		return d.individualCancel(ctx, m)
	}
	return d.messages.Update(ctx, m)
}

// invalidNumber records the bad recipient and, when the send setting allows
// it, resends to another recipient of the same group.
func (d *Dispatcher) invalidNumber(ctx context.Context, m *ScheduleMessage, at time.Time) error {
	m.ResponseType = ResponseInvalidNumber
	m.ResponseAt = timePtr(at)
	if err := d.messages.Update(ctx, m); err != nil {
		return err
	}

	alt, err := d.messages.FindAlternateRecipient(ctx, m)
	if err != nil {
		return err
	}
	if alt == nil {
		d.logger.Info("delivery: no alternate recipient", "message_uuid", m.ID)
		return nil
	}
	ts, err := d.settings.GetTypeSetting(ctx, alt.TypeSettingID)
	if err != nil {
		return err
	}
	if !ts.RetryInvalid {
		d.logger.Info("delivery: retry on invalid number disabled", "message_uuid", m.ID, "type_setting_id", ts.ID)
		return nil
	}
	s, err := d.schedules.Get(ctx, alt.ScheduleID)
	if err != nil {
		return err
	}
	d.logger.Info("delivery: retrying invalid number with alternate recipient", "message_uuid", m.ID, "alternate_uuid", alt.ID)
	return d.dispatch(ctx, alt, s, *ts)
}

// openConversation parks m until the patient's open conversation closes.
func (d *Dispatcher) openConversation(ctx context.Context, m *ScheduleMessage, at time.Time) error {
	m.State = StateAwaitingResend
	m.ResponseType = ResponseOpenConversation
	m.ResponseAt = timePtr(at)
	if err := d.messages.Update(ctx, m); err != nil {
		return err
	}
	if m.ConversationID == "" {
		d.logger.Warn("delivery: open conversation status without conversation id", "message_uuid", m.ID)
		return nil
	}
	if d.cache == nil || !d.cache.Set(ctx, openConversationKey(m.ConversationID), m.ID.String(), openConversationTTL) {
		d.logger.Warn("delivery: could not store open conversation correlation", "message_uuid", m.ID, "conversation_id", m.ConversationID)
	}
	return nil
}

func (d *Dispatcher) conversationClosed(ctx context.Context, conversationID string) error {
	if d.cache == nil {
		return nil
	}
	key := openConversationKey(conversationID)
	val, ok := d.cache.Get(ctx, key)
	if !ok {
		return nil
	}

	id, err := uuid.Parse(val)
	if err != nil {
		d.logger.Warn("delivery: bad open conversation correlation", "conversation_id", conversationID, "value", val)
		d.cache.Del(ctx, key)
		return nil
	}
	// The correlation stays until the resend settles so a failed attempt can
	// be retried by the next close event.
	err = d.ResendOpenConversation(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, ErrScheduleInPast), errors.Is(err, ErrResendDisabled),
		errors.Is(err, ErrMessageNotFound), errors.Is(err, schedules.ErrScheduleNotFound):
		d.logger.Info("delivery: open conversation resend refused", "message_uuid", id, "reason", err)
	default:
		return err
	}
	d.cache.Del(ctx, key)
	return nil
}
