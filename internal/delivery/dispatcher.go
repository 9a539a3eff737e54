package delivery

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/schedule-notify/internal/events"
	"github.com/wolfman30/schedule-notify/internal/inbox"
	"github.com/wolfman30/schedule-notify/internal/integration"
	"github.com/wolfman30/schedule-notify/internal/observability/alerts"
	"github.com/wolfman30/schedule-notify/internal/observability/metrics"
	"github.com/wolfman30/schedule-notify/internal/schedules"
	"github.com/wolfman30/schedule-notify/internal/settings"
	"github.com/wolfman30/schedule-notify/pkg/logging"
)

var deliveryTracer = otel.Tracer("schedule-notify.internal.delivery")

// MessageStore persists schedule messages.
type MessageStore interface {
	CreateIfNotExists(ctx context.Context, m *ScheduleMessage) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (*ScheduleMessage, error)
	Update(ctx context.Context, m *ScheduleMessage) error
	FindAlternateRecipient(ctx context.Context, m *ScheduleMessage) (*ScheduleMessage, error)
	ListNotAnswered(ctx context.Context, since time.Time) ([]NotAnsweredCandidate, error)
	ListPendingIntegrationSave(ctx context.Context, since time.Time) ([]ScheduleMessage, error)
}

// ScheduleReader loads schedules.
type ScheduleReader interface {
	Get(ctx context.Context, id uuid.UUID) (*schedules.Schedule, error)
	ListByGroup(ctx context.Context, workspaceID string, groupID uuid.UUID) ([]schedules.Schedule, error)
}

// SettingsReader loads configuration.
type SettingsReader interface {
	Get(ctx context.Context, id uuid.UUID) (*settings.ScheduleSetting, error)
	GetTypeSetting(ctx context.Context, id uuid.UUID) (*settings.TypeSetting, error)
	CancelReason(ctx context.Context, workspaceID string, id uuid.UUID) (*settings.CancelReason, error)
}

// Gateway pushes appointment actions to the scheduling system.
type Gateway interface {
	ConfirmAppointment(ctx context.Context, req integration.ActionRequest) (integration.Result, error)
	CancelAppointment(ctx context.Context, req integration.ActionRequest) (integration.Result, error)
	ValidateScheduleData(ctx context.Context, req integration.ActionRequest) (integration.Result, error)
}

// Inbox reads and writes patient conversations.
type Inbox interface {
	GetConversation(ctx context.Context, workspaceID, conversationID string) (*inbox.Conversation, error)
	SendActivity(ctx context.Context, workspaceID, conversationID string, activity inbox.Activity) error
}

// KeyValueCache stores short-lived correlation keys.
type KeyValueCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration) bool
	Del(ctx context.Context, keys ...string)
}

// Delivery is everything a channel needs to send one message.
type Delivery struct {
	Message     *ScheduleMessage
	Schedule    *schedules.Schedule
	TypeSetting settings.TypeSetting
}

// Channel sends a message through one recipient type.
type Channel interface {
	Send(ctx context.Context, d Delivery) error
}

// Config wires a Dispatcher.
type Config struct {
	Messages  MessageStore
	Schedules ScheduleReader
	Settings  SettingsReader
	Gateway   Gateway
	Inbox     Inbox
	Cache     KeyValueCache
	Deduper   events.Deduper
	Channels  map[settings.RecipientType]Channel
	Metrics   *metrics.SchedulingMetrics
	Alerts    alerts.Alerter
	Logger    *logging.Logger
	Location  *time.Location
}

// Dispatcher drives the schedule message state machine.
type Dispatcher struct {
	messages  MessageStore
	schedules ScheduleReader
	settings  SettingsReader
	gateway   Gateway
	inbox     Inbox
	cache     KeyValueCache
	dedup     events.Deduper
	channels  map[settings.RecipientType]Channel
	metrics   *metrics.SchedulingMetrics
	alerts    alerts.Alerter
	logger    *logging.Logger
	loc       *time.Location
	now       func() time.Time
}

// NewDispatcher builds a Dispatcher from cfg.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Messages == nil {
		panic("delivery: message store required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Alerts == nil {
		cfg.Alerts = alerts.Nop{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Channels == nil {
		cfg.Channels = map[settings.RecipientType]Channel{}
	}
	return &Dispatcher{
		messages:  cfg.Messages,
		schedules: cfg.Schedules,
		settings:  cfg.Settings,
		gateway:   cfg.Gateway,
		inbox:     cfg.Inbox,
		cache:     cfg.Cache,
		dedup:     cfg.Deduper,
		channels:  cfg.Channels,
		metrics:   cfg.Metrics,
		alerts:    cfg.Alerts,
		logger:    cfg.Logger,
		loc:       cfg.Location,
		now:       time.Now,
	}
}

// SendRequest asks for the messages of one schedule to be created and sent.
type SendRequest struct {
	Schedule         *schedules.Schedule
	Setting          *settings.ScheduleSetting
	TypeSetting      settings.TypeSetting
	SendingGroupType string
}

// SendResult reports what SendSchedule did.
type SendResult struct {
	Created int
	Sent    bool
}

// Candidates builds one message per recipient of the configured type. A
// schedule without any usable recipient yields a single blank row.
func (d *Dispatcher) Candidates(req SendRequest) []*ScheduleMessage {
	s, ts := req.Schedule, req.TypeSetting
	recipientType := ts.RecipientOrDefault()
	now := d.now().UTC()

	base := func() *ScheduleMessage {
		return &ScheduleMessage{
			ID:                uuid.New(),
			ScheduleID:        s.ID,
			ScheduleSettingID: req.Setting.ID,
			TypeSettingID:     ts.ID,
			WorkspaceID:       s.WorkspaceID,
			GroupID:           s.GroupID,
			SendType:          ts.SendType,
			SendingGroupType:  req.SendingGroupType,
			State:             StateAwaitingSend,
		}
	}

	var raw []string
	switch recipientType {
	case settings.RecipientEmail:
		raw = s.PatientEmails
	default:
		raw = s.PatientPhones
	}

	out := []*ScheduleMessage{}
	seen := map[string]bool{}
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		normalized, ok := normalizeRecipient(recipientType, r)
		if seen[normalized] {
			continue
		}
		seen[normalized] = true

		m := base()
		m.Recipient = normalized
		m.RecipientType = recipientType
		if !ok {
			m.RecipientType = settings.RecipientInvalid
			m.State = StateNoRecipient
			m.ResponseType = ResponseInvalidRecipient
			m.ResponseAt = timePtr(now)
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		m := base()
		m.RecipientType = settings.RecipientBlank
		m.State = StateNoRecipient
		m.ResponseType = ResponseNoRecipient
		m.ResponseAt = timePtr(now)
		out = append(out, m)
	}
	return out
}

// SendSchedule creates the candidate messages for a schedule and sends the
// first newly created one. Existing rows are never sent again.
func (d *Dispatcher) SendSchedule(ctx context.Context, req SendRequest) (SendResult, error) {
	ctx, span := deliveryTracer.Start(ctx, "delivery.send_schedule")
	defer span.End()
	span.SetAttributes(
		attribute.String("schedule.id", req.Schedule.ID.String()),
		attribute.String("send.type", string(req.TypeSetting.SendType)),
	)

	var res SendResult
	created := []*ScheduleMessage{}
	for _, m := range d.Candidates(req) {
		ok, err := d.messages.CreateIfNotExists(ctx, m)
		if err != nil {
			span.RecordError(err)
			return res, err
		}
		if !ok {
			continue
		}
		res.Created++
		created = append(created, m)
		if m.State == StateNoRecipient {
			d.metrics.ObserveDispatch(string(m.RecipientType), string(m.ResponseType))
		}
	}
	if len(created) == 0 {
		d.logger.Debug("delivery: messages already exist, skipping send", "schedule_id", req.Schedule.ID, "send_type", req.TypeSetting.SendType)
		return res, nil
	}

	sent, err := d.BatchSend(ctx, created, req.Schedule, req.TypeSetting)
	res.Sent = sent
	if err != nil {
		span.RecordError(err)
	}
	return res, err
}

// BatchSend dispatches the first message whose recipient type matches the
// configured one.
func (d *Dispatcher) BatchSend(ctx context.Context, msgs []*ScheduleMessage, s *schedules.Schedule, ts settings.TypeSetting) (bool, error) {
	want := ts.RecipientOrDefault()
	for _, m := range msgs {
		if m.RecipientType != want || m.State != StateAwaitingSend {
			continue
		}
		if err := d.dispatch(ctx, m, s, ts); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, m *ScheduleMessage, s *schedules.Schedule, ts settings.TypeSetting) error {
	ch, ok := d.channels[m.RecipientType]
	if !ok {
		d.metrics.ObserveDispatch(string(m.RecipientType), "no_channel")
		return fmt.Errorf("%w: %s", ErrNoChannel, m.RecipientType)
	}
	if err := ch.Send(ctx, Delivery{Message: m, Schedule: s, TypeSetting: ts}); err != nil {
		d.metrics.ObserveDispatch(string(m.RecipientType), "error")
		return fmt.Errorf("delivery: send %s: %w", m.RecipientType, err)
	}
	d.metrics.ObserveDispatch(string(m.RecipientType), "enqueued")

	m.State = StateEnqueued
	m.EnqueuedAt = timePtr(d.now().UTC())
	if err := d.messages.Update(ctx, m); err != nil {
		return err
	}
	d.logger.Info("delivery: message enqueued", "message_uuid", m.ID, "schedule_id", m.ScheduleID, "recipient_type", m.RecipientType)
	return nil
}

var nonDigits = regexp.MustCompile(`\D`)

// normalizeRecipient cleans a phone or email and reports whether it is usable.
func normalizeRecipient(t settings.RecipientType, raw string) (string, bool) {
	if t == settings.RecipientEmail {
		email := strings.ToLower(strings.TrimSpace(raw))
		at := strings.LastIndex(email, "@")
		if at <= 0 || !strings.Contains(email[at:], ".") || strings.ContainsAny(email, " ,;") {
			return email, false
		}
		return email, true
	}
	digits := nonDigits.ReplaceAllString(raw, "")
	if len(digits) < 10 || len(digits) > 13 {
		return raw, false
	}
	return digits, true
}
