// Package integration talks to the external scheduling system (ERP) that owns
// the appointments: listing what to send and pushing confirm/cancel actions back.
package integration

import (
	"encoding/json"
	"strings"
	"time"
)

// Contact is the patient contact attached to an appointment.
type Contact struct {
	Code   string   `json:"code"`
	Name   string   `json:"name"`
	Phones []string `json:"phones"`
	Emails []string `json:"emails"`
}

// FirstPhone returns the first non-blank phone.
func (c Contact) FirstPhone() string {
	for _, p := range c.Phones {
		if p = strings.TrimSpace(p); p != "" {
			return p
		}
	}
	return ""
}

// FirstEmail returns the first non-blank email.
func (c Contact) FirstEmail() string {
	for _, e := range c.Emails {
		if e = strings.TrimSpace(e); e != "" {
			return e
		}
	}
	return ""
}

// ScheduleData is one appointment as reported by the scheduling system.
type ScheduleData struct {
	ScheduleCode            string          `json:"scheduleCode"`
	ScheduleDate            time.Time       `json:"scheduleDate"`
	PatientCode             string          `json:"patientCode"`
	IsPrincipal             bool            `json:"isPrincipal"`
	IsFirstComeFirstServed  bool            `json:"isFirstComeFirstServed"`
	AppointmentTypeCode     string          `json:"appointmentTypeCode"`
	AppointmentTypeName     string          `json:"appointmentTypeName"`
	SpecialityCode          string          `json:"specialityCode"`
	SpecialityName          string          `json:"specialityName"`
	ProcedureCode           string          `json:"procedureCode"`
	ProcedureName           string          `json:"procedureName"`
	DoctorCode              string          `json:"doctorCode"`
	DoctorName              string          `json:"doctorName"`
	OrganizationUnitCode    string          `json:"organizationUnitCode"`
	OrganizationUnitName    string          `json:"organizationUnitName"`
	OrganizationUnitAddress string          `json:"organizationUnitAddress"`
	InsuranceName           string          `json:"insuranceName,omitempty"`
	Link                    string          `json:"link,omitempty"`
	Extra                   json.RawMessage `json:"extra,omitempty"`
}

// Record pairs an appointment with its contact.
type Record struct {
	Contact  Contact      `json:"contact"`
	Schedule ScheduleData `json:"schedule"`
}

// PatientKey identifies the patient for grouping: contact code, else first
// phone, else name.
func (r Record) PatientKey() string {
	if code := strings.TrimSpace(r.Contact.Code); code != "" {
		return "code:" + code
	}
	if phone := r.Contact.FirstPhone(); phone != "" {
		return "phone:" + phone
	}
	return "name:" + strings.ToLower(strings.TrimSpace(r.Contact.Name))
}

// Result is the outcome of an action pushed to the scheduling system.
type Result struct {
	OK      bool            `json:"ok"`
	Message string          `json:"message,omitempty"`
	Status  int             `json:"-"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ListRequest asks for appointments inside a window.
type ListRequest struct {
	IntegrationID string
	StartDate     time.Time
	EndDate       time.Time
	ErpParams     json.RawMessage
	FixedParams   map[string]any
	CorrelationID string
	ShortLink     bool
}

// ActionRequest pushes a confirm, cancel or validate for one appointment.
type ActionRequest struct {
	IntegrationID  string          `json:"-"`
	Schedule       ScheduleData    `json:"schedule"`
	ErpParams      json.RawMessage `json:"erpParams,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
	WorkspaceID    string          `json:"workspaceId"`
}
