package runner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/schedule-notify/internal/integration"
	"github.com/wolfman30/schedule-notify/internal/settings"
)

func codesOf(records []integration.Record) []string {
	return scheduleCodes(records)
}

func TestOrderGroup(t *testing.T) {
	a := record("P1", "A", at(12, 8, 0))
	b := record("P1", "B", at(12, 10, 0))
	b.Schedule.IsFirstComeFirstServed = true
	c := record("P1", "C", at(12, 7, 0))
	p := record("P1", "P", at(12, 11, 0))
	p.Schedule.IsPrincipal = true

	tests := []struct {
		name          string
		records       []integration.Record
		principalOnly bool
		want          []string
	}{
		{name: "default order", records: []integration.Record{a, b, c, p}, want: []string{"P", "B", "C", "A"}},
		{name: "principal only", records: []integration.Record{a, b, c, p}, principalOnly: true, want: []string{"P"}},
		{name: "principal only fallback", records: []integration.Record{a, b, c}, principalOnly: true, want: []string{"B", "C", "A"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, codesOf(orderGroup(tt.records, tt.principalOnly)))
		})
	}
}

func item(at time.Time, fn func(*integration.ScheduleData)) integration.Record {
	rec := integration.Record{Schedule: integration.ScheduleData{ScheduleDate: at}}
	fn(&rec.Schedule)
	return rec
}

func TestDescribeGroup(t *testing.T) {
	consultation := item(at(12, 9, 30), func(d *integration.ScheduleData) {
		d.AppointmentTypeCode = "C"
		d.AppointmentTypeName = "Consulta"
		d.SpecialityName = "Cardiologia"
		d.DoctorName = "Dr. Silva"
		d.OrganizationUnitName = "Clinica Centro"
		d.OrganizationUnitAddress = "Rua A, 10"
	})
	exam := item(at(12, 10, 0), func(d *integration.ScheduleData) {
		d.AppointmentTypeCode = "E"
		d.AppointmentTypeName = "Exame"
		d.SpecialityName = "Cardiologia"
		d.ProcedureName = "Ecocardiograma transtoracico"
		d.DoctorName = "Dr. Souza"
		d.OrganizationUnitName = "Clinica Centro"
		d.OrganizationUnitAddress = "Rua A, 10"
	})
	walkIn := item(at(12, 11, 0), func(d *integration.ScheduleData) {
		d.AppointmentTypeCode = "Q"
		d.AppointmentTypeName = "Retorno"
		d.DoctorName = "Dr. Lima"
		d.IsFirstComeFirstServed = true
		d.OrganizationUnitName = "Unidade Sul"
	})
	bare := item(at(12, 8, 0), func(d *integration.ScheduleData) {
		d.SpecialityName = "Ortopedia"
	})

	tests := []struct {
		name    string
		records []integration.Record
		setting settings.ScheduleSetting
		want    string
	}{
		{
			name:    "consultation shows speciality",
			records: []integration.Record{consultation},
			want:    "09:30 - Consulta - Cardiologia - Dr. Silva",
		},
		{
			name:    "exam skips speciality and truncates procedure",
			records: []integration.Record{exam},
			setting: settings.ScheduleSetting{ProcedureFirstWordOnly: true},
			want:    "10:00 - Exame - Ecocardiograma - Dr. Souza",
		},
		{
			name:    "queue code omits doctor and shows order of arrival",
			records: []integration.Record{walkIn},
			setting: settings.ScheduleSetting{UseOrderOfArrival: true},
			want:    "Ordem de chegada - Retorno",
		},
		{
			name:    "speciality when nothing else is named",
			records: []integration.Record{bare},
			want:    "08:00 - Ortopedia",
		},
		{
			name:    "omit flags",
			records: []integration.Record{consultation},
			setting: settings.ScheduleSetting{OmitDoctorName: true, OmitAppointmentType: true, OmitSpeciality: true},
			want:    "09:30",
		},
		{
			name:    "shared unit written once",
			records: []integration.Record{consultation, exam},
			setting: settings.ScheduleSetting{SendOrganizationUnitName: true, SendOrganizationUnitAddress: true},
			want: "09:30 - Consulta - Cardiologia - Dr. Silva\n" +
				"10:00 - Exame - Ecocardiograma transtoracico - Dr. Souza\n" +
				"Clinica Centro - Rua A, 10",
		},
		{
			name:    "distinct units written per item",
			records: []integration.Record{consultation, walkIn},
			setting: settings.ScheduleSetting{SendOrganizationUnitName: true},
			want:    "09:30 - Consulta - Cardiologia - Dr. Silva - Clinica Centro\n11:00 - Retorno - Unidade Sul",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describeGroup(tt.records, tt.setting, time.UTC))
		})
	}
}

func TestEligible(t *testing.T) {
	now := at(11, 10, 0)
	tests := []struct {
		name string
		rule settings.Rule
		when time.Time
		want bool
	}{
		{name: "hourly earlier time", rule: settings.RuleHourly, when: at(12, 9, 59), want: true},
		{name: "hourly same minute", rule: settings.RuleHourly, when: at(12, 10, 0), want: true},
		{name: "hourly later time", rule: settings.RuleHourly, when: at(12, 10, 1), want: false},
		{name: "default past", rule: settings.RuleDefault, when: at(11, 9, 0), want: false},
		{name: "default inside horizon", rule: settings.RuleDefault, when: at(11, 12, 0), want: true},
		{name: "default later in horizon hour", rule: settings.RuleDefault, when: at(11, 12, 59), want: true},
		{name: "default beyond horizon hour", rule: settings.RuleDefault, when: at(11, 13, 0), want: false},
		{name: "daily ignores time", rule: settings.RuleDaily, when: at(11, 23, 0), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := eligible(tt.rule, integration.ScheduleData{ScheduleDate: tt.when}, 2, now, time.UTC)
			assert.Equal(t, tt.want, got)
		})
	}
}
