package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/schedule-notify/internal/schedules"
	"github.com/wolfman30/schedule-notify/internal/settings"
)

type harness struct {
	d         *Dispatcher
	msgs      *fakeMessages
	schedules *fakeSchedules
	settings  *fakeSettings
	gateway   *fakeGateway
	inbox     *fakeInbox
	cache     *fakeCache
	whatsapp  *recordingChannel
	email     *recordingChannel
	now       time.Time
	schedule  *schedules.Schedule
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	now := time.Date(2025, time.March, 11, 13, 0, 0, 0, time.UTC)
	groupID := uuid.New()
	schedule := &schedules.Schedule{
		ID:            uuid.New(),
		WorkspaceID:   "ws",
		IntegrationID: "int",
		ScheduleCode:  "S1",
		ScheduleDate:  time.Date(2025, time.March, 12, 9, 0, 0, 0, time.UTC),
		PatientCode:   "P1",
		PatientName:   "Ana",
		PatientPhones: []string{"+55 (11) 99999-0000", "5511988887777"},
		PatientEmails: []string{"ana@example.com"},
		DoctorName:    "Dr. Silva",
		GroupID:       &groupID,
	}
	sibling := &schedules.Schedule{
		ID:           uuid.New(),
		WorkspaceID:  "ws",
		ScheduleCode: "S2",
		ScheduleDate: time.Date(2025, time.March, 12, 10, 0, 0, 0, time.UTC),
		PatientCode:  "P1",
		GroupID:      &groupID,
	}
	setting := &settings.ScheduleSetting{ID: uuid.New(), WorkspaceID: "ws", IntegrationID: "int", Active: true}
	ts := &settings.TypeSetting{
		ID:                     uuid.New(),
		ScheduleSettingID:      setting.ID,
		SendType:               settings.SendTypeConfirmation,
		Active:                 true,
		TemplateID:             "tpl-confirm",
		SendRecipientType:      settings.RecipientWhatsApp,
		ResendOpenConversation: true,
		ResendNotAnswered:      true,
	}

	h := &harness{
		msgs:      newFakeMessages(),
		schedules: &fakeSchedules{rows: map[uuid.UUID]*schedules.Schedule{schedule.ID: schedule, sibling.ID: sibling}},
		settings:  &fakeSettings{setting: setting, typeSetting: ts, reasons: map[uuid.UUID]bool{}},
		gateway:   &fakeGateway{ok: true, validOK: true},
		inbox:     &fakeInbox{},
		cache:     newFakeCache(),
		whatsapp:  &recordingChannel{},
		email:     &recordingChannel{},
		now:       now,
		schedule:  schedule,
	}
	h.d = NewDispatcher(Config{
		Messages:  h.msgs,
		Schedules: h.schedules,
		Settings:  h.settings,
		Gateway:   h.gateway,
		Inbox:     h.inbox,
		Cache:     h.cache,
		Channels: map[settings.RecipientType]Channel{
			settings.RecipientWhatsApp: h.whatsapp,
			settings.RecipientEmail:    h.email,
		},
	})
	h.d.now = func() time.Time { return h.now }
	return h
}

func (h *harness) request() SendRequest {
	return SendRequest{
		Schedule:    h.schedule,
		Setting:     h.settings.setting,
		TypeSetting: *h.settings.typeSetting,
	}
}

func TestCandidatesNormalizesPhones(t *testing.T) {
	h := newHarness(t)
	h.schedule.PatientPhones = []string{"+55 (11) 99999-0000", "5511999990000", "123", " "}

	cands := h.d.Candidates(h.request())
	require.Len(t, cands, 2)
	assert.Equal(t, "5511999990000", cands[0].Recipient)
	assert.Equal(t, settings.RecipientWhatsApp, cands[0].RecipientType)
	assert.Equal(t, StateAwaitingSend, cands[0].State)
	assert.Equal(t, settings.RecipientInvalid, cands[1].RecipientType)
	assert.Equal(t, ResponseInvalidRecipient, cands[1].ResponseType)
	assert.Equal(t, StateNoRecipient, cands[1].State)
}

func TestCandidatesBlankWhenNoRecipient(t *testing.T) {
	h := newHarness(t)
	h.schedule.PatientPhones = nil

	cands := h.d.Candidates(h.request())
	require.Len(t, cands, 1)
	assert.Equal(t, settings.RecipientBlank, cands[0].RecipientType)
	assert.Equal(t, ResponseNoRecipient, cands[0].ResponseType)
	assert.Equal(t, StateNoRecipient, cands[0].State)
}

func TestCandidatesEmail(t *testing.T) {
	h := newHarness(t)
	req := h.request()
	req.TypeSetting.SendRecipientType = settings.RecipientEmail
	h.schedule.PatientEmails = []string{"Ana@Example.com", "broken"}

	cands := h.d.Candidates(req)
	require.Len(t, cands, 2)
	assert.Equal(t, "ana@example.com", cands[0].Recipient)
	assert.Equal(t, settings.RecipientEmail, cands[0].RecipientType)
	assert.Equal(t, settings.RecipientInvalid, cands[1].RecipientType)
}

func TestSendScheduleIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.d.SendSchedule(ctx, h.request())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.True(t, res.Sent)
	require.Len(t, h.whatsapp.sent, 1)

	sent := h.whatsapp.sent[0].Message
	stored, err := h.msgs.Get(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, StateEnqueued, stored.State)
	require.NotNil(t, stored.EnqueuedAt)
	assert.Equal(t, h.now, *stored.EnqueuedAt)

	res, err = h.d.SendSchedule(ctx, h.request())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.False(t, res.Sent)
	assert.Len(t, h.whatsapp.sent, 1, "existing messages must not be sent again")
}

func TestSendScheduleNoRecipientDoesNotSend(t *testing.T) {
	h := newHarness(t)
	h.schedule.PatientPhones = nil

	res, err := h.d.SendSchedule(context.Background(), h.request())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.False(t, res.Sent)
	assert.Empty(t, h.whatsapp.sent)
}

func TestSendScheduleChannelError(t *testing.T) {
	h := newHarness(t)
	h.whatsapp.err = errors.New("queue down")

	_, err := h.d.SendSchedule(context.Background(), h.request())
	require.Error(t, err)
	for _, m := range h.msgs.all() {
		assert.NotEqual(t, StateEnqueued, m.State)
	}
}

func TestSendScheduleMissingChannel(t *testing.T) {
	h := newHarness(t)
	delete(h.d.channels, settings.RecipientWhatsApp)

	_, err := h.d.SendSchedule(context.Background(), h.request())
	assert.True(t, errors.Is(err, ErrNoChannel))
}

func TestNormalizeRecipient(t *testing.T) {
	tests := []struct {
		kind  settings.RecipientType
		in    string
		want  string
		valid bool
	}{
		{settings.RecipientWhatsApp, "(11) 98888-7777", "11988887777", true},
		{settings.RecipientWhatsApp, "+55 11 98888-7777", "5511988887777", true},
		{settings.RecipientWhatsApp, "9888", "9888", false},
		{settings.RecipientEmail, "Foo@Bar.com", "foo@bar.com", true},
		{settings.RecipientEmail, "foo@bar", "foo@bar", false},
		{settings.RecipientEmail, "@bar.com", "@bar.com", false},
	}
	for _, tt := range tests {
		got, ok := normalizeRecipient(tt.kind, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.valid, ok, tt.in)
	}
}
