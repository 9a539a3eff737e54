// Package schedules stores denormalized snapshots of external appointments.
package schedules

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/schedule-notify/internal/integration"
)

// Schedule is one external appointment. (schedule_code, schedule_date,
// workspace_id, integration_id, patient_code) is unique.
type Schedule struct {
	ID                      uuid.UUID       `json:"id"`
	WorkspaceID             string          `json:"workspaceId"`
	IntegrationID           string          `json:"integrationId"`
	ScheduleSettingID       uuid.UUID       `json:"scheduleSettingId"`
	ExtractID               *uuid.UUID      `json:"extractId,omitempty"`
	ScheduleCode            string          `json:"scheduleCode"`
	ScheduleDate            time.Time       `json:"scheduleDate"`
	PatientCode             string          `json:"patientCode"`
	PatientName             string          `json:"patientName"`
	PatientPhones           []string        `json:"patientPhones"`
	PatientEmails           []string        `json:"patientEmails"`
	IsPrincipal             bool            `json:"isPrincipal"`
	IsFirstComeFirstServed  bool            `json:"isFirstComeFirstServed"`
	AppointmentTypeCode     string          `json:"appointmentTypeCode"`
	AppointmentTypeName     string          `json:"appointmentTypeName"`
	SpecialityName          string          `json:"specialityName"`
	ProcedureName           string          `json:"procedureName"`
	DoctorName              string          `json:"doctorName"`
	OrganizationUnitName    string          `json:"organizationUnitName"`
	OrganizationUnitAddress string          `json:"organizationUnitAddress"`
	GroupID                 *uuid.UUID      `json:"groupId,omitempty"`
	GroupDescription        string          `json:"groupDescription,omitempty"`
	GroupCodeList           []string        `json:"groupCodeList,omitempty"`
	Data                    json.RawMessage `json:"data,omitempty"`
	CreatedAt               time.Time       `json:"createdAt"`
}

// Group carries the multi-appointment grouping written on each member.
type Group struct {
	ID          uuid.UUID
	Description string
	CodeList    []string
}

// FromRecord builds a Schedule from an integration record.
func FromRecord(rec integration.Record, workspaceID, integrationID string, settingID uuid.UUID) *Schedule {
	s := rec.Schedule
	patientCode := s.PatientCode
	if patientCode == "" {
		patientCode = rec.Contact.Code
	}
	data, _ := json.Marshal(rec)
	return &Schedule{
		WorkspaceID:             workspaceID,
		IntegrationID:           integrationID,
		ScheduleSettingID:       settingID,
		ScheduleCode:            s.ScheduleCode,
		ScheduleDate:            s.ScheduleDate,
		PatientCode:             patientCode,
		PatientName:             rec.Contact.Name,
		PatientPhones:           nonNil(rec.Contact.Phones),
		PatientEmails:           nonNil(rec.Contact.Emails),
		IsPrincipal:             s.IsPrincipal,
		IsFirstComeFirstServed:  s.IsFirstComeFirstServed,
		AppointmentTypeCode:     s.AppointmentTypeCode,
		AppointmentTypeName:     s.AppointmentTypeName,
		SpecialityName:          s.SpecialityName,
		ProcedureName:           s.ProcedureName,
		DoctorName:              s.DoctorName,
		OrganizationUnitName:    s.OrganizationUnitName,
		OrganizationUnitAddress: s.OrganizationUnitAddress,
		Data:                    data,
	}
}

// WithGroup attaches grouping information.
func (s *Schedule) WithGroup(g *Group) *Schedule {
	if g == nil {
		return s
	}
	id := g.ID
	s.GroupID = &id
	s.GroupDescription = g.Description
	s.GroupCodeList = g.CodeList
	return s
}

// Record rebuilds the integration record the schedule was created from.
func (s *Schedule) Record() integration.Record {
	var rec integration.Record
	if len(s.Data) > 0 && json.Unmarshal(s.Data, &rec) == nil && rec.Schedule.ScheduleCode != "" {
		return rec
	}
	return integration.Record{
		Contact: integration.Contact{
			Code:   s.PatientCode,
			Name:   s.PatientName,
			Phones: s.PatientPhones,
			Emails: s.PatientEmails,
		},
		Schedule: integration.ScheduleData{
			ScheduleCode:            s.ScheduleCode,
			ScheduleDate:            s.ScheduleDate,
			PatientCode:             s.PatientCode,
			IsPrincipal:             s.IsPrincipal,
			IsFirstComeFirstServed:  s.IsFirstComeFirstServed,
			AppointmentTypeCode:     s.AppointmentTypeCode,
			AppointmentTypeName:     s.AppointmentTypeName,
			SpecialityName:          s.SpecialityName,
			ProcedureName:           s.ProcedureName,
			DoctorName:              s.DoctorName,
			OrganizationUnitName:    s.OrganizationUnitName,
			OrganizationUnitAddress: s.OrganizationUnitAddress,
		},
	}
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
