// Package settings reads clinic scheduling configuration: schedule settings,
// their per-message-type send settings, email templates and cancel reasons.
package settings

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Rule selects the extraction strategy for a setting.
type Rule string

const (
	RuleDefault Rule = "DEFAULT"
	RuleDaily   Rule = "DAILY"
	RuleDailyV2 Rule = "DAILYV2"
	RuleHourly  Rule = "HOURLY"
	RuleManual  Rule = "MANUAL"
)

// SendType identifies what kind of message a send setting produces.
type SendType string

const (
	SendTypeConfirmation         SendType = "confirmation"
	SendTypeReminder             SendType = "reminder"
	SendTypeScheduleNotification SendType = "schedule_notification"
	SendTypeNPS                  SendType = "nps"
	SendTypeRecoverLostSchedule  SendType = "recover_lost_schedule"
)

// UsesScheduleWindow reports whether the send type fetches appointments for a
// start/end window (confirmation, reminder) instead of a notification feed.
func (t SendType) UsesScheduleWindow() bool {
	return t == SendTypeConfirmation || t == SendTypeReminder
}

// AwaitsResponse reports whether a sent message waits for a patient answer.
func (t SendType) AwaitsResponse() bool {
	return t == SendTypeConfirmation || t == SendTypeReminder
}

// RecipientType is the channel a message goes through.
type RecipientType string

const (
	RecipientWhatsApp RecipientType = "whatsapp"
	RecipientEmail    RecipientType = "email"
	RecipientBlank    RecipientType = "blank"
	RecipientInvalid  RecipientType = "invalid"
)

// GroupRule decides how appointments are grouped per patient.
type GroupRule string

const (
	GroupAllOfRange   GroupRule = "allOfRange"
	GroupFirstOfRange GroupRule = "firstOfRange"
)

const (
	defaultHoursBeforeScheduleDate = 24
	defaultTimeResendNotAnswered   = 240
	minScheduleInterval            = 5
)

// ScheduleSetting is the per-workspace, per-integration scheduling configuration.
type ScheduleSetting struct {
	ID                          uuid.UUID       `json:"id"`
	WorkspaceID                 string          `json:"workspaceId"`
	IntegrationID               string          `json:"integrationId"`
	Active                      bool            `json:"active"`
	ExternalExtract             bool            `json:"externalExtract"`
	ExtractRule                 Rule            `json:"extractRule"`
	ExtractAt                   int             `json:"extractAt"`
	GetScheduleInterval         int             `json:"getScheduleInterval"`
	APIKey                      string          `json:"-"`
	ErpParams                   json.RawMessage `json:"erpParams,omitempty"`
	OmitDoctorName              bool            `json:"omitDoctorName"`
	OmitAppointmentType         bool            `json:"omitAppointmentType"`
	OmitSpeciality              bool            `json:"omitSpeciality"`
	ProcedureFirstWordOnly      bool            `json:"procedureFirstWordOnly"`
	FridayJoinWeekendMonday     bool            `json:"fridayJoinWeekendMonday"`
	UseSendFullDay              bool            `json:"useSendFullDay"`
	UseOrderOfArrival           bool            `json:"useOrderOfArrival"`
	SendOnlyPrincipalExam       bool            `json:"sendOnlyPrincipalExam"`
	SendOrganizationUnitName    bool            `json:"sendOrganizationUnitName"`
	SendOrganizationUnitAddress bool            `json:"sendOrganizationUnitAddress"`
	CheckScheduleChanges        bool            `json:"checkScheduleChanges"`
	ShortLink                   bool            `json:"shortLink"`
	CreatedAt                   time.Time       `json:"createdAt"`
	UpdatedAt                   time.Time       `json:"updatedAt"`

	TypeSettings []TypeSetting `json:"typeSettings,omitempty"`
}

// Interval returns getScheduleInterval in minutes, never below five.
func (s ScheduleSetting) Interval() int {
	if s.GetScheduleInterval < minScheduleInterval {
		return minScheduleInterval
	}
	return s.GetScheduleInterval
}

// ActiveTypeSettings returns the enabled send settings.
func (s ScheduleSetting) ActiveTypeSettings() []TypeSetting {
	out := make([]TypeSetting, 0, len(s.TypeSettings))
	for _, ts := range s.TypeSettings {
		if ts.Active {
			out = append(out, ts)
		}
	}
	return out
}

// TypeSetting is the send configuration for one message type of a ScheduleSetting.
type TypeSetting struct {
	ID                      uuid.UUID       `json:"id"`
	ScheduleSettingID       uuid.UUID       `json:"scheduleSettingId"`
	SendType                SendType        `json:"sendType"`
	Active                  bool            `json:"active"`
	TemplateID              string          `json:"templateId"`
	SendRecipientType       RecipientType   `json:"sendRecipientType"`
	ScheduleGroupRule       GroupRule       `json:"scheduleGroupRule"`
	SendingGroupType        string          `json:"sendingGroupType"`
	HoursBeforeScheduleDate int             `json:"hoursBeforeScheduleDate"`
	RetryInvalid            bool            `json:"retryInvalid"`
	ResendOpenConversation  bool            `json:"resendOpenConversation"`
	ResendNotAnswered       bool            `json:"resendNotAnswered"`
	TimeResendNotAnswered   int             `json:"timeResendNotAnswered"`
	ErpParams               json.RawMessage `json:"erpParams,omitempty"`
}

// HoursBefore returns hoursBeforeScheduleDate, defaulting to 24.
func (t TypeSetting) HoursBefore() int {
	if t.HoursBeforeScheduleDate <= 0 {
		return defaultHoursBeforeScheduleDate
	}
	return t.HoursBeforeScheduleDate
}

// ResendNotAnsweredAfter returns how long to wait before re-sending an unanswered message.
func (t TypeSetting) ResendNotAnsweredAfter() time.Duration {
	minutes := t.TimeResendNotAnswered
	if minutes <= 0 {
		minutes = defaultTimeResendNotAnswered
	}
	return time.Duration(minutes) * time.Minute
}

// GroupRuleOrDefault returns the configured group rule, defaulting to allOfRange.
func (t TypeSetting) GroupRuleOrDefault() GroupRule {
	if t.ScheduleGroupRule == "" {
		return GroupAllOfRange
	}
	return t.ScheduleGroupRule
}

// RecipientOrDefault returns the configured recipient type, defaulting to WhatsApp.
func (t TypeSetting) RecipientOrDefault() RecipientType {
	if t.SendRecipientType == "" {
		return RecipientWhatsApp
	}
	return t.SendRecipientType
}

// EmailTemplate is the per-workspace email layout for a template id.
type EmailTemplate struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	TemplateID  string    `json:"templateId"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	Variables   []string  `json:"variables"`
}

// CancelReason is a per-workspace cancellation label.
type CancelReason struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	Name        string    `json:"name"`
}
