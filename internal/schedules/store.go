package schedules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrScheduleNotFound is returned when a schedule id does not exist.
var ErrScheduleNotFound = errors.New("schedules: schedule not found")

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const scheduleColumns = `id, workspace_id, integration_id, schedule_setting_id, extract_id, schedule_code, schedule_date,
	patient_code, patient_name, patient_phones, patient_emails, is_principal, is_first_come_first_served,
	appointment_type_code, appointment_type_name, speciality_name, procedure_name, doctor_name,
	organization_unit_name, organization_unit_address, group_id, group_description, group_code_list, data, created_at`

// Store persists schedules.
type Store struct {
	db  DB
	now func() time.Time
}

// NewStore creates a schedule store.
func NewStore(db DB) *Store {
	return &Store{db: db, now: time.Now}
}

// FindOrCreate inserts s unless a schedule with the same natural key already
// exists. s is filled with the stored id; created reports whether a row was inserted.
func (st *Store) FindOrCreate(ctx context.Context, s *Schedule) (bool, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.CreatedAt = st.now().UTC()

	var id uuid.UUID
	err := st.db.QueryRow(ctx, `
		INSERT INTO schedules (id, workspace_id, integration_id, schedule_setting_id, extract_id, schedule_code, schedule_date,
			patient_code, patient_name, patient_phones, patient_emails, is_principal, is_first_come_first_served,
			appointment_type_code, appointment_type_name, speciality_name, procedure_name, doctor_name,
			organization_unit_name, organization_unit_address, group_id, group_description, group_code_list, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25)
		ON CONFLICT (schedule_code, schedule_date, workspace_id, integration_id, patient_code) DO NOTHING
		RETURNING id`,
		s.ID, s.WorkspaceID, s.IntegrationID, s.ScheduleSettingID, s.ExtractID, s.ScheduleCode, s.ScheduleDate,
		s.PatientCode, s.PatientName, s.PatientPhones, s.PatientEmails, s.IsPrincipal, s.IsFirstComeFirstServed,
		s.AppointmentTypeCode, s.AppointmentTypeName, s.SpecialityName, s.ProcedureName, s.DoctorName,
		s.OrganizationUnitName, s.OrganizationUnitAddress, s.GroupID, s.GroupDescription, s.GroupCodeList, s.Data, s.CreatedAt,
	).Scan(&id)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) && !IsUniqueViolation(err) {
		return false, fmt.Errorf("schedules: insert: %w", err)
	}

	existing, err := st.findByKey(ctx, s)
	if err != nil {
		return false, err
	}
	*s = *existing
	return false, nil
}

func (st *Store) findByKey(ctx context.Context, s *Schedule) (*Schedule, error) {
	row := st.db.QueryRow(ctx, `SELECT `+scheduleColumns+`
		FROM schedules
		WHERE schedule_code = $1 AND schedule_date = $2 AND workspace_id = $3 AND integration_id = $4 AND patient_code = $5`,
		s.ScheduleCode, s.ScheduleDate, s.WorkspaceID, s.IntegrationID, s.PatientCode)
	found, err := scanSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("schedules: find by key: %w", err)
	}
	return found, nil
}

// Get loads a schedule by id.
func (st *Store) Get(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	row := st.db.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id)
	s, err := scanSchedule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("schedules: get: %w", err)
	}
	return s, nil
}

// ListByGroup returns every schedule in a group ordered by date.
func (st *Store) ListByGroup(ctx context.Context, workspaceID string, groupID uuid.UUID) ([]Schedule, error) {
	rows, err := st.db.Query(ctx, `SELECT `+scheduleColumns+`
		FROM schedules WHERE workspace_id = $1 AND group_id = $2
		ORDER BY schedule_date ASC`, workspaceID, groupID)
	if err != nil {
		return nil, fmt.Errorf("schedules: list by group: %w", err)
	}
	defer rows.Close()

	out := []Schedule{}
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("schedules: scan: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// IsUniqueViolation reports whether err is a Postgres unique_violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	err := row.Scan(&s.ID, &s.WorkspaceID, &s.IntegrationID, &s.ScheduleSettingID, &s.ExtractID, &s.ScheduleCode, &s.ScheduleDate,
		&s.PatientCode, &s.PatientName, &s.PatientPhones, &s.PatientEmails, &s.IsPrincipal, &s.IsFirstComeFirstServed,
		&s.AppointmentTypeCode, &s.AppointmentTypeName, &s.SpecialityName, &s.ProcedureName, &s.DoctorName,
		&s.OrganizationUnitName, &s.OrganizationUnitAddress, &s.GroupID, &s.GroupDescription, &s.GroupCodeList, &s.Data, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
