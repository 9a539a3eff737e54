package delivery

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/wolfman30/schedule-notify/internal/notify"
	"github.com/wolfman30/schedule-notify/internal/schedules"
	"github.com/wolfman30/schedule-notify/internal/settings"
)

// Publisher publishes a JSON job.
type Publisher interface {
	Publish(ctx context.Context, v any) error
}

// WhatsAppChannel hands messages to the messaging worker through the send queue.
type WhatsAppChannel struct {
	publisher Publisher
	loc       *time.Location
}

// NewWhatsAppChannel builds the WhatsApp channel.
func NewWhatsAppChannel(publisher Publisher, loc *time.Location) *WhatsAppChannel {
	if loc == nil {
		loc = time.UTC
	}
	return &WhatsAppChannel{publisher: publisher, loc: loc}
}

func (c *WhatsAppChannel) Send(ctx context.Context, d Delivery) error {
	job := SendJob{
		MessageUUID: d.Message.ID.String(),
		WorkspaceID: d.Message.WorkspaceID,
		ScheduleID:  d.Schedule.ID.String(),
		SendType:    string(d.Message.SendType),
		Recipient:   d.Message.Recipient,
		TemplateID:  d.TypeSetting.TemplateID,
		Variables:   scheduleVariables(d.Schedule, c.loc),
	}
	return c.publisher.Publish(ctx, job)
}

// TemplateSource loads per-workspace email templates.
type TemplateSource interface {
	EmailTemplate(ctx context.Context, workspaceID, templateID string) (*settings.EmailTemplate, error)
}

// EmailChannel renders the workspace email template and sends it.
type EmailChannel struct {
	templates TemplateSource
	sender    notify.EmailSender
	loc       *time.Location
}

// NewEmailChannel builds the email channel.
func NewEmailChannel(templates TemplateSource, sender notify.EmailSender, loc *time.Location) *EmailChannel {
	if loc == nil {
		loc = time.UTC
	}
	return &EmailChannel{templates: templates, sender: sender, loc: loc}
}

func (c *EmailChannel) Send(ctx context.Context, d Delivery) error {
	tpl, err := c.templates.EmailTemplate(ctx, d.Message.WorkspaceID, d.TypeSetting.TemplateID)
	if err != nil {
		return err
	}
	if tpl == nil {
		return fmt.Errorf("delivery: email template %q not configured for workspace %s", d.TypeSetting.TemplateID, d.Message.WorkspaceID)
	}

	vars := filterVariables(scheduleVariables(d.Schedule, c.loc), tpl.Variables)
	return c.sender.Send(ctx, notify.EmailMessage{
		To:      d.Message.Recipient,
		ToName:  d.Schedule.PatientName,
		Subject: renderTemplate(tpl.Subject, vars),
		Body:    renderTemplate(tpl.Body, vars),
		Tags: map[string]string{
			"message_uuid": d.Message.ID.String(),
			"workspace_id": d.Message.WorkspaceID,
		},
	})
}

// scheduleVariables exposes the schedule fields templates may reference.
func scheduleVariables(s *schedules.Schedule, loc *time.Location) map[string]string {
	date := s.ScheduleDate.In(loc)
	vars := map[string]string{
		"patientName":             s.PatientName,
		"scheduleDate":            date.Format("02/01/2006"),
		"scheduleTime":            date.Format("15:04"),
		"doctorName":              s.DoctorName,
		"procedureName":           s.ProcedureName,
		"specialityName":          s.SpecialityName,
		"appointmentTypeName":     s.AppointmentTypeName,
		"organizationUnitName":    s.OrganizationUnitName,
		"organizationUnitAddress": s.OrganizationUnitAddress,
		"groupDescription":        s.GroupDescription,
	}
	if link := s.Record().Schedule.Link; link != "" {
		vars["link"] = link
	}
	return vars
}

// filterVariables keeps only the variables a template declares.
func filterVariables(vars map[string]string, declared []string) map[string]string {
	out := make(map[string]string, len(declared))
	for _, name := range declared {
		if v, ok := vars[name]; ok {
			out[name] = v
		}
	}
	return out
}

var placeholder = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// renderTemplate substitutes {{name}} placeholders; unknown names render empty.
func renderTemplate(text string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		return vars[name]
	})
}

var (
	_ Channel = (*WhatsAppChannel)(nil)
	_ Channel = (*EmailChannel)(nil)
)
