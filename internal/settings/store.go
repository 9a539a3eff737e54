package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrSettingNotFound is returned when no schedule setting matches.
var ErrSettingNotFound = errors.New("settings: schedule setting not found")

const settingColumns = `id, workspace_id, integration_id, active, external_extract, extract_rule, extract_at,
	get_schedule_interval, api_key, erp_params, omit_doctor_name, omit_appointment_type, omit_speciality,
	procedure_first_word_only, friday_join_weekend_monday, use_send_full_day, use_order_of_arrival,
	send_only_principal_exam, send_organization_unit_name, send_organization_unit_address,
	check_schedule_changes, short_link, created_at, updated_at`

const typeSettingColumns = `id, schedule_setting_id, send_type, active, template_id, send_recipient_type,
	schedule_group_rule, sending_group_type, hours_before_schedule_date, retry_invalid,
	resend_open_conversation, resend_not_answered, time_resend_not_answered, erp_params`

// Store reads settings from Postgres. Settings are never mutated by the
// scheduling pipeline, so the store is read-only.
type Store struct {
	db *sql.DB
}

// NewStore creates a settings store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListActive returns active settings that are extracted by this system, with
// their send settings attached.
func (s *Store) ListActive(ctx context.Context) ([]ScheduleSetting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+settingColumns+`
		FROM schedule_settings
		WHERE active = true AND external_extract = false
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("settings: list active: %w", err)
	}
	out, err := scanSettings(rows)
	if err != nil {
		return nil, fmt.Errorf("settings: list active: %w", err)
	}
	if len(out) == 0 {
		return out, nil
	}
	if err := s.attachTypeSettings(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one setting by id with its send settings.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*ScheduleSetting, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+settingColumns+` FROM schedule_settings WHERE id = $1`, id)
	setting, err := scanSetting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSettingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("settings: get: %w", err)
	}
	list := []ScheduleSetting{*setting}
	if err := s.attachTypeSettings(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// FindActiveByAPIKey resolves the active setting that owns apiKey.
func (s *Store) FindActiveByAPIKey(ctx context.Context, apiKey string) (*ScheduleSetting, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrSettingNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+settingColumns+`
		FROM schedule_settings WHERE api_key = $1 AND active = true LIMIT 1`, apiKey)
	setting, err := scanSetting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSettingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("settings: find by api key: %w", err)
	}
	list := []ScheduleSetting{*setting}
	if err := s.attachTypeSettings(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// GetTypeSetting returns one send setting by id.
func (s *Store) GetTypeSetting(ctx context.Context, id uuid.UUID) (*TypeSetting, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+typeSettingColumns+` FROM schedule_type_settings WHERE id = $1`, id)
	ts, err := scanTypeSetting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSettingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("settings: get type setting: %w", err)
	}
	return ts, nil
}

// EmailTemplate returns the workspace template for templateID, or nil when none exists.
func (s *Store) EmailTemplate(ctx context.Context, workspaceID, templateID string) (*EmailTemplate, error) {
	var tpl EmailTemplate
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, template_id, subject, body, variables
		FROM email_templates WHERE workspace_id = $1 AND template_id = $2`, workspaceID, templateID).Scan(
		&tpl.ID, &tpl.WorkspaceID, &tpl.TemplateID, &tpl.Subject, &tpl.Body, pq.Array(&tpl.Variables))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings: email template: %w", err)
	}
	if tpl.Variables == nil {
		tpl.Variables = []string{}
	}
	return &tpl, nil
}

// CancelReason returns a cancel reason scoped to workspaceID, or nil when missing.
func (s *Store) CancelReason(ctx context.Context, workspaceID string, id uuid.UUID) (*CancelReason, error) {
	var r CancelReason
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name FROM cancel_reasons WHERE id = $1 AND workspace_id = $2`,
		id, workspaceID).Scan(&r.ID, &r.WorkspaceID, &r.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings: cancel reason: %w", err)
	}
	return &r, nil
}

// ListCancelReasons returns every cancel reason for a workspace.
func (s *Store) ListCancelReasons(ctx context.Context, workspaceID string) ([]CancelReason, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, name FROM cancel_reasons WHERE workspace_id = $1 ORDER BY name ASC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("settings: list cancel reasons: %w", err)
	}
	defer rows.Close()

	out := []CancelReason{}
	for rows.Next() {
		var r CancelReason
		if err := rows.Scan(&r.ID, &r.WorkspaceID, &r.Name); err != nil {
			return nil, fmt.Errorf("settings: scan cancel reason: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) attachTypeSettings(ctx context.Context, list []ScheduleSetting) error {
	ids := make([]string, len(list))
	index := make(map[uuid.UUID]int, len(list))
	for i, setting := range list {
		ids[i] = setting.ID.String()
		index[setting.ID] = i
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+typeSettingColumns+`
		FROM schedule_type_settings
		WHERE schedule_setting_id = ANY($1::uuid[])
		ORDER BY send_type ASC`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("settings: list type settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ts, err := scanTypeSetting(rows)
		if err != nil {
			return fmt.Errorf("settings: scan type setting: %w", err)
		}
		if i, ok := index[ts.ScheduleSettingID]; ok {
			list[i].TypeSettings = append(list[i].TypeSettings, *ts)
		}
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSetting(row scanner) (*ScheduleSetting, error) {
	var s ScheduleSetting
	var rule string
	var erp []byte
	err := row.Scan(&s.ID, &s.WorkspaceID, &s.IntegrationID, &s.Active, &s.ExternalExtract, &rule, &s.ExtractAt,
		&s.GetScheduleInterval, &s.APIKey, &erp, &s.OmitDoctorName, &s.OmitAppointmentType, &s.OmitSpeciality,
		&s.ProcedureFirstWordOnly, &s.FridayJoinWeekendMonday, &s.UseSendFullDay, &s.UseOrderOfArrival,
		&s.SendOnlyPrincipalExam, &s.SendOrganizationUnitName, &s.SendOrganizationUnitAddress,
		&s.CheckScheduleChanges, &s.ShortLink, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.ExtractRule = Rule(rule)
	if len(erp) > 0 {
		s.ErpParams = erp
	}
	return &s, nil
}

func scanSettings(rows *sql.Rows) ([]ScheduleSetting, error) {
	defer rows.Close()
	out := []ScheduleSetting{}
	for rows.Next() {
		s, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanTypeSetting(row scanner) (*TypeSetting, error) {
	var t TypeSetting
	var sendType, recipient, groupRule string
	var erp []byte
	err := row.Scan(&t.ID, &t.ScheduleSettingID, &sendType, &t.Active, &t.TemplateID, &recipient,
		&groupRule, &t.SendingGroupType, &t.HoursBeforeScheduleDate, &t.RetryInvalid,
		&t.ResendOpenConversation, &t.ResendNotAnswered, &t.TimeResendNotAnswered, &erp)
	if err != nil {
		return nil, err
	}
	t.SendType = SendType(sendType)
	t.SendRecipientType = RecipientType(recipient)
	t.ScheduleGroupRule = GroupRule(groupRule)
	if len(erp) > 0 {
		t.ErpParams = erp
	}
	return &t, nil
}
