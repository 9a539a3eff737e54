package schedules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/wolfman30/schedule-notify/internal/integration"
)

var scheduleCols = []string{"id", "workspace_id", "integration_id", "schedule_setting_id", "extract_id", "schedule_code", "schedule_date",
	"patient_code", "patient_name", "patient_phones", "patient_emails", "is_principal", "is_first_come_first_served",
	"appointment_type_code", "appointment_type_name", "speciality_name", "procedure_name", "doctor_name",
	"organization_unit_name", "organization_unit_address", "group_id", "group_description", "group_code_list", "data", "created_at"}

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	st := NewStore(mock)
	st.now = func() time.Time { return time.Date(2025, time.March, 11, 13, 0, 0, 0, time.UTC) }
	return st, mock
}

func sampleSchedule() *Schedule {
	rec := integration.Record{
		Contact: integration.Contact{Code: "P1", Name: "Ana", Phones: []string{"5511999990000"}},
		Schedule: integration.ScheduleData{
			ScheduleCode: "S1",
			ScheduleDate: time.Date(2025, time.March, 12, 9, 0, 0, 0, time.UTC),
			IsPrincipal:  true,
			DoctorName:   "Dr. Silva",
		},
	}
	return FromRecord(rec, "ws", "int", uuid.New())
}

func TestFindOrCreateInserts(t *testing.T) {
	st, mock := newMockStore(t)
	s := sampleSchedule()

	mock.ExpectQuery("INSERT INTO schedules").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(uuid.New()))

	created, err := st.FindOrCreate(context.Background(), s)
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}
	if !created {
		t.Fatalf("expected row to be created")
	}
	if s.ID == uuid.Nil {
		t.Fatalf("expected id to be assigned")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindOrCreateReturnsExisting(t *testing.T) {
	st, mock := newMockStore(t)
	s := sampleSchedule()
	existingID := uuid.New()
	groupID := uuid.New()
	created := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO schedules").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM schedules").
		WithArgs("S1", s.ScheduleDate, "ws", "int", "P1").
		WillReturnRows(pgxmock.NewRows(scheduleCols).AddRow(
			existingID, "ws", "int", s.ScheduleSettingID, (*uuid.UUID)(nil), "S1", s.ScheduleDate,
			"P1", "Ana", []string{"5511999990000"}, []string{}, true, false,
			"", "", "", "", "Dr. Silva",
			"", "", &groupID, "09:00 - Dr. Silva", []string{"S1"}, []byte(`{}`), created))

	wasCreated, err := st.FindOrCreate(context.Background(), s)
	if err != nil {
		t.Fatalf("find or create: %v", err)
	}
	if wasCreated {
		t.Fatalf("expected existing row")
	}
	if s.ID != existingID || s.GroupID == nil || *s.GroupID != groupID {
		t.Fatalf("expected existing schedule to be loaded, got %+v", s)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindOrCreateSurfacesOtherErrors(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO schedules").WillReturnError(errors.New("connection reset"))

	if _, err := st.FindOrCreate(context.Background(), sampleSchedule()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestGetNotFound(t *testing.T) {
	st, mock := newMockStore(t)
	id := uuid.New()
	mock.ExpectQuery("FROM schedules WHERE id").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	if _, err := st.Get(context.Background(), id); !errors.Is(err, ErrScheduleNotFound) {
		t.Fatalf("expected ErrScheduleNotFound, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatalf("expected 23505 to be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key violation is not a unique violation")
	}
	if IsUniqueViolation(errors.New("boom")) {
		t.Fatalf("plain error is not a unique violation")
	}
}

func TestRecordRoundTrip(t *testing.T) {
	s := sampleSchedule()
	rec := s.Record()
	if rec.Schedule.ScheduleCode != "S1" || rec.Contact.Name != "Ana" {
		t.Fatalf("unexpected record %+v", rec)
	}

	s.Data = nil
	rec = s.Record()
	if rec.Schedule.DoctorName != "Dr. Silva" || rec.Contact.FirstPhone() != "5511999990000" {
		t.Fatalf("unexpected fallback record %+v", rec)
	}
}
