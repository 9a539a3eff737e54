package runner

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/schedule-notify/internal/calendar"
	"github.com/wolfman30/schedule-notify/internal/delivery"
	"github.com/wolfman30/schedule-notify/internal/extract"
	"github.com/wolfman30/schedule-notify/internal/integration"
	"github.com/wolfman30/schedule-notify/internal/schedules"
	"github.com/wolfman30/schedule-notify/internal/settings"
)

const orderOfArrivalLabel = "Ordem de chegada"

var consultationCodes = map[string]bool{"C": true, "CONSULTA": true}

type patientGroup struct {
	day     string
	patient string
	records []integration.Record
}

// groupRecords buckets records by calendar day and then by patient, keeping
// the order in which each bucket first appears.
func groupRecords(records []integration.Record, loc *time.Location) []*patientGroup {
	index := map[string]*patientGroup{}
	out := []*patientGroup{}
	for _, rec := range records {
		day := rec.Schedule.ScheduleDate.In(loc).Format("2006-01-02")
		patient := rec.PatientKey()
		key := day + "|" + patient
		g, ok := index[key]
		if !ok {
			g = &patientGroup{day: day, patient: patient}
			index[key] = g
			out = append(out, g)
		}
		g.records = append(g.records, rec)
	}
	return out
}

// orderGroup sorts a patient group so its leader comes first: principal
// appointments, then first-come-first-served, then earliest. With
// principalOnly the group is reduced to principal appointments unless none
// exist, in which case the whole group is ordered without the principal key.
func orderGroup(records []integration.Record, principalOnly bool) []integration.Record {
	if principalOnly {
		principal := make([]integration.Record, 0, len(records))
		for _, rec := range records {
			if rec.Schedule.IsPrincipal {
				principal = append(principal, rec)
			}
		}
		if len(principal) > 0 {
			return sortRecords(principal, true)
		}
		return sortRecords(records, false)
	}
	return sortRecords(records, true)
}

func sortRecords(records []integration.Record, byPrincipal bool) []integration.Record {
	out := append([]integration.Record(nil), records...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Schedule, out[j].Schedule
		if byPrincipal && a.IsPrincipal != b.IsPrincipal {
			return a.IsPrincipal
		}
		if a.IsFirstComeFirstServed != b.IsFirstComeFirstServed {
			return a.IsFirstComeFirstServed
		}
		return a.ScheduleDate.Before(b.ScheduleDate)
	})
	return out
}

// eligible applies the rule-specific filters to a group leader. HOURLY only
// sends appointments whose time of day has already been reached. DEFAULT only
// sends future appointments up to the end of the hour holding the hoursBefore
// horizon, which is where the extraction window of the same run ends.
func eligible(rule settings.Rule, leader integration.ScheduleData, hoursBefore int, now time.Time, loc *time.Location) bool {
	switch rule {
	case settings.RuleHourly:
		at := leader.ScheduleDate.In(loc)
		n := now.In(loc)
		return minuteOfDay(at) <= minuteOfDay(n)
	case settings.RuleDefault:
		if leader.ScheduleDate.Before(now) {
			return false
		}
		horizon := calendar.EndOfHour(now.In(loc).Add(time.Duration(hoursBefore) * time.Hour))
		return !leader.ScheduleDate.After(horizon)
	default:
		return true
	}
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func (r *Runner) allOfRangeTasks(job extract.Job, records []integration.Record) []task {
	now := r.now()
	tasks := []task{}
	for _, g := range groupRecords(records, r.loc) {
		ordered := orderGroup(g.records, job.ScheduleSetting.SendOnlyPrincipalExam)
		if !eligible(job.ExtractRule, ordered[0].Schedule, job.TypeSetting.HoursBefore(), now, r.loc) {
			r.logger.Debug("runner: group filtered out",
				"rule", job.ExtractRule,
				"day", g.day,
				"schedule_code", ordered[0].Schedule.ScheduleCode,
			)
			continue
		}

		group := &schedules.Group{
			ID:          uuid.New(),
			Description: describeGroup(ordered, job.ScheduleSetting, r.loc),
			CodeList:    scheduleCodes(ordered),
		}
		built := make([]*schedules.Schedule, 0, len(ordered))
		for _, rec := range ordered {
			built = append(built, r.newSchedule(job, rec).WithGroup(group))
		}
		tasks = append(tasks, task{
			leader:  r.sendRequest(job, built[0]),
			members: built[1:],
		})
	}
	return tasks
}

// firstOfRangeTasks keeps the earliest appointment of each patient. Records
// without a contact for the configured channel are dropped.
func (r *Runner) firstOfRangeTasks(job extract.Job, records []integration.Record) []task {
	sorted := append([]integration.Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Schedule.ScheduleDate.Before(sorted[j].Schedule.ScheduleDate)
	})

	recipient := job.SendRecipientType
	if recipient == "" {
		recipient = job.TypeSetting.RecipientOrDefault()
	}

	seen := map[string]bool{}
	tasks := []task{}
	for _, rec := range sorted {
		key := rec.PatientKey()
		if seen[key] {
			continue
		}
		seen[key] = true

		if !hasContact(rec.Contact, recipient) {
			r.logger.Info("runner: dropping appointment without contact",
				"recipient_type", recipient,
				"schedule_code", rec.Schedule.ScheduleCode,
				"contact_code", rec.Contact.Code,
			)
			continue
		}
		tasks = append(tasks, task{leader: r.sendRequest(job, r.newSchedule(job, rec))})
	}
	return tasks
}

func hasContact(c integration.Contact, recipient settings.RecipientType) bool {
	if recipient == settings.RecipientEmail {
		return c.FirstEmail() != ""
	}
	return c.FirstPhone() != ""
}

func (r *Runner) newSchedule(job extract.Job, rec integration.Record) *schedules.Schedule {
	s := schedules.FromRecord(rec, job.ScheduleSetting.WorkspaceID, job.ScheduleSetting.IntegrationID, job.ScheduleSetting.ID)
	id := job.ExtractID
	s.ExtractID = &id
	return s
}

func (r *Runner) sendRequest(job extract.Job, s *schedules.Schedule) delivery.SendRequest {
	setting := job.ScheduleSetting
	ts := job.TypeSetting
	if job.SendRecipientType != "" {
		ts.SendRecipientType = job.SendRecipientType
	}
	groupType := job.SendingGroupType
	if groupType == "" {
		groupType = ts.SendingGroupType
	}
	req := sendRequestFor(&setting, ts, s)
	req.SendingGroupType = groupType
	return req
}

func sendRequestFor(setting *settings.ScheduleSetting, ts settings.TypeSetting, s *schedules.Schedule) delivery.SendRequest {
	return delivery.SendRequest{
		Schedule:         s,
		Setting:          setting,
		TypeSetting:      ts,
		SendingGroupType: ts.SendingGroupType,
	}
}

func scheduleCodes(records []integration.Record) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Schedule.ScheduleCode)
	}
	return out
}

// describeGroup renders one line per appointment. When every appointment
// shares the same organization unit it is written once as the last line.
func describeGroup(records []integration.Record, s settings.ScheduleSetting, loc *time.Location) string {
	shared := ""
	if len(records) > 1 {
		shared = unitText(records[0].Schedule, s)
		for _, rec := range records[1:] {
			if unitText(rec.Schedule, s) != shared {
				shared = ""
				break
			}
		}
	}

	lines := make([]string, 0, len(records)+1)
	for _, rec := range records {
		parts := itemParts(rec.Schedule, s, loc)
		if shared == "" {
			if unit := unitText(rec.Schedule, s); unit != "" {
				parts = append(parts, unit)
			}
		}
		lines = append(lines, strings.Join(parts, " - "))
	}
	if shared != "" {
		lines = append(lines, shared)
	}
	return strings.Join(lines, "\n")
}

func itemParts(d integration.ScheduleData, s settings.ScheduleSetting, loc *time.Location) []string {
	parts := []string{}
	if s.UseOrderOfArrival && d.IsFirstComeFirstServed {
		parts = append(parts, orderOfArrivalLabel)
	} else {
		parts = append(parts, d.ScheduleDate.In(loc).Format("15:04"))
	}

	if !s.OmitAppointmentType && d.AppointmentTypeName != "" {
		parts = append(parts, d.AppointmentTypeName)
	}

	noNames := d.AppointmentTypeName == "" && d.ProcedureName == "" && d.DoctorName == ""
	isConsultation := consultationCodes[strings.ToUpper(strings.TrimSpace(d.AppointmentTypeCode))]
	if !s.OmitSpeciality && d.SpecialityName != "" && (isConsultation || noNames) {
		parts = append(parts, d.SpecialityName)
	}

	if procedure := strings.TrimSpace(d.ProcedureName); procedure != "" {
		if s.ProcedureFirstWordOnly {
			procedure = strings.Fields(procedure)[0]
		}
		parts = append(parts, procedure)
	}

	if !s.OmitDoctorName && d.DoctorName != "" && d.AppointmentTypeCode != "Q" {
		parts = append(parts, d.DoctorName)
	}
	return parts
}

func unitText(d integration.ScheduleData, s settings.ScheduleSetting) string {
	parts := []string{}
	if s.SendOrganizationUnitName && d.OrganizationUnitName != "" {
		parts = append(parts, d.OrganizationUnitName)
	}
	if s.SendOrganizationUnitAddress && d.OrganizationUnitAddress != "" {
		parts = append(parts, d.OrganizationUnitAddress)
	}
	return strings.Join(parts, " - ")
}
