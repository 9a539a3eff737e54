// Package extract decides when each schedule setting should run an extraction,
// keeps the ledger of extraction runs and publishes extraction jobs.
package extract

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/schedule-notify/internal/settings"
)

// State is the lifecycle state of an ExtractResume.
type State string

const (
	StateAwaitingRun State = "AWAITING_RUN"
	StateRunning     State = "RUNNING"
	StateEnded       State = "ENDED"
	StateEndedLock   State = "ENDED_LOCK"
	StateEndedError  State = "ENDED_ERROR"
)

// Terminal reports whether the run has finished in any way.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateEndedLock || s == StateEndedError
}

// ExtractResume records one extraction attempt for a (setting, send type, type setting) triple.
type ExtractResume struct {
	ID                uuid.UUID         `json:"id"`
	CorrelationID     uuid.UUID         `json:"correlationId"`
	ScheduleSettingID uuid.UUID         `json:"scheduleSettingId"`
	SettingTypeID     uuid.UUID         `json:"settingTypeId"`
	Type              settings.SendType `json:"type"`
	WorkspaceID       string            `json:"workspaceId"`
	IntegrationID     string            `json:"integrationId"`
	State             State             `json:"state"`
	ExtractRule       settings.Rule     `json:"extractRule"`
	StartedAt         *time.Time        `json:"startedAt,omitempty"`
	EndAt             *time.Time        `json:"endAt,omitempty"`
	StartRangeDate    time.Time         `json:"startRangeDate"`
	EndRangeDate      time.Time         `json:"endRangeDate"`
	ExtractedCount    int               `json:"extractedCount"`
	ProcessedCount    int               `json:"processedCount"`
	SentCount         int               `json:"sentCount"`
	Error             string            `json:"error,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// Counts are the per-run totals persisted when a run ends.
type Counts struct {
	Extracted int `json:"extracted"`
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
}

// Add returns the element-wise sum.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Extracted: c.Extracted + o.Extracted,
		Processed: c.Processed + o.Processed,
		Sent:      c.Sent + o.Sent,
	}
}

// Job is the extraction unit published to the extraction queue.
type Job struct {
	ExtractID               uuid.UUID                `json:"extractId"`
	CorrelationID           uuid.UUID                `json:"correlationId"`
	ExtractRule             settings.Rule            `json:"extractRule"`
	ScheduleSetting         settings.ScheduleSetting `json:"scheduleSetting"`
	TypeSetting             settings.TypeSetting     `json:"typeSetting"`
	StartDate               time.Time                `json:"startDate"`
	EndDate                 time.Time                `json:"endDate"`
	ErpParams               json.RawMessage          `json:"erpParams,omitempty"`
	ScheduleGroupRule       settings.GroupRule       `json:"scheduleGroupRule"`
	SendRecipientType       settings.RecipientType   `json:"sendRecipientType"`
	SendingGroupType        string                   `json:"sendingGroupType"`
	HoursBeforeScheduleDate int                      `json:"hoursBeforeScheduleDate"`
}
