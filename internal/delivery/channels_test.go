package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/schedule-notify/internal/notify"
	"github.com/wolfman30/schedule-notify/internal/schedules"
	"github.com/wolfman30/schedule-notify/internal/settings"
)

type capturePublisher struct {
	jobs []any
}

func (p *capturePublisher) Publish(ctx context.Context, v any) error {
	p.jobs = append(p.jobs, v)
	return nil
}

type captureSender struct {
	sent []notify.EmailMessage
}

func (s *captureSender) Send(ctx context.Context, msg notify.EmailMessage) error {
	s.sent = append(s.sent, msg)
	return nil
}

func sampleDelivery(recipientType settings.RecipientType, recipient string) Delivery {
	return Delivery{
		Message: &ScheduleMessage{
			ID:            uuid.New(),
			WorkspaceID:   "ws",
			SendType:      settings.SendTypeReminder,
			Recipient:     recipient,
			RecipientType: recipientType,
		},
		Schedule: &schedules.Schedule{
			ID:               uuid.New(),
			PatientName:      "Ana",
			ScheduleDate:     time.Date(2025, time.March, 12, 12, 30, 0, 0, time.UTC),
			DoctorName:       "Dr. Silva",
			GroupDescription: "09:30 - Consulta - Dr. Silva",
		},
		TypeSetting: settings.TypeSetting{TemplateID: "tpl-reminder"},
	}
}

func TestWhatsAppChannelPublishesSendJob(t *testing.T) {
	pub := &capturePublisher{}
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	ch := NewWhatsAppChannel(pub, loc)
	d := sampleDelivery(settings.RecipientWhatsApp, "5511999990000")

	require.NoError(t, ch.Send(context.Background(), d))
	require.Len(t, pub.jobs, 1)
	job := pub.jobs[0].(SendJob)
	assert.Equal(t, d.Message.ID.String(), job.MessageUUID)
	assert.Equal(t, "5511999990000", job.Recipient)
	assert.Equal(t, "tpl-reminder", job.TemplateID)
	assert.Equal(t, "09:30", job.Variables["scheduleTime"])
	assert.Equal(t, "12/03/2025", job.Variables["scheduleDate"])
}

func TestEmailChannelRendersDeclaredVariables(t *testing.T) {
	sender := &captureSender{}
	templates := &fakeSettings{templates: map[string]*settings.EmailTemplate{
		"tpl-reminder": {
			TemplateID: "tpl-reminder",
			Subject:    "Lembrete para {{patientName}}",
			Body:       "Olá {{ patientName }}, sua consulta com {{doctorName}} é às {{scheduleTime}}.",
			Variables:  []string{"patientName", "scheduleTime"},
		},
	}}
	ch := NewEmailChannel(templates, sender, time.UTC)
	d := sampleDelivery(settings.RecipientEmail, "ana@example.com")

	require.NoError(t, ch.Send(context.Background(), d))
	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "ana@example.com", msg.To)
	assert.Equal(t, "Lembrete para Ana", msg.Subject)
	assert.Equal(t, "Olá Ana, sua consulta com  é às 12:30.", msg.Body)
	assert.Equal(t, d.Message.ID.String(), msg.Tags["message_uuid"])
}

func TestEmailChannelMissingTemplate(t *testing.T) {
	ch := NewEmailChannel(&fakeSettings{templates: map[string]*settings.EmailTemplate{}}, &captureSender{}, nil)
	assert.Error(t, ch.Send(context.Background(), sampleDelivery(settings.RecipientEmail, "ana@example.com")))
}

func TestFilterVariables(t *testing.T) {
	got := filterVariables(map[string]string{"a": "1", "b": "2"}, []string{"b", "c"})
	assert.Equal(t, map[string]string{"b": "2"}, got)
}
