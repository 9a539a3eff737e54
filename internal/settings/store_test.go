package settings

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var settingCols = []string{"id", "workspace_id", "integration_id", "active", "external_extract", "extract_rule", "extract_at",
	"get_schedule_interval", "api_key", "erp_params", "omit_doctor_name", "omit_appointment_type", "omit_speciality",
	"procedure_first_word_only", "friday_join_weekend_monday", "use_send_full_day", "use_order_of_arrival",
	"send_only_principal_exam", "send_organization_unit_name", "send_organization_unit_address",
	"check_schedule_changes", "short_link", "created_at", "updated_at"}

var typeSettingCols = []string{"id", "schedule_setting_id", "send_type", "active", "template_id", "send_recipient_type",
	"schedule_group_rule", "sending_group_type", "hours_before_schedule_date", "retry_invalid",
	"resend_open_conversation", "resend_not_answered", "time_resend_not_answered", "erp_params"}

func settingRow(id uuid.UUID, rule Rule) []driver.Value {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	return []driver.Value{id.String(), "ws-1", "int-1", true, false, string(rule), 420,
		60, "key-1", []byte(`{"unit":"a"}`), false, false, false,
		false, true, false, false,
		false, true, false,
		true, false, now, now}
}

func TestListActiveAttachesTypeSettings(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s1, s2 := uuid.New(), uuid.New()
	mock.ExpectQuery("FROM schedule_settings\\s+WHERE active = true AND external_extract = false").
		WillReturnRows(sqlmock.NewRows(settingCols).
			AddRow(settingRow(s1, RuleDaily)...).
			AddRow(settingRow(s2, RuleHourly)...))
	mock.ExpectQuery("FROM schedule_type_settings\\s+WHERE schedule_setting_id = ANY").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(typeSettingCols).
			AddRow(uuid.New().String(), s1.String(), "confirmation", true, "tpl-1", "whatsapp", "allOfRange", "", 24, true, true, true, 240, nil).
			AddRow(uuid.New().String(), s2.String(), "reminder", false, "tpl-2", "email", "firstOfRange", "", 0, false, false, false, 0, nil))

	store := NewStore(db)
	list, err := store.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, RuleDaily, list[0].ExtractRule)
	assert.True(t, list[0].FridayJoinWeekendMonday)
	assert.JSONEq(t, `{"unit":"a"}`, string(list[0].ErpParams))
	require.Len(t, list[0].TypeSettings, 1)
	assert.Equal(t, SendTypeConfirmation, list[0].TypeSettings[0].SendType)
	assert.Len(t, list[0].ActiveTypeSettings(), 1)

	require.Len(t, list[1].TypeSettings, 1)
	assert.Empty(t, list[1].ActiveTypeSettings())
	assert.Equal(t, 24, list[1].TypeSettings[0].HoursBefore())
	assert.Equal(t, 4*time.Hour, list[1].TypeSettings[0].ResendNotAnsweredAfter())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveByAPIKeyNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("WHERE api_key = \\$1 AND active = true").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(settingCols))

	store := NewStore(db)
	_, err = store.FindActiveByAPIKey(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSettingNotFound)

	_, err = store.FindActiveByAPIKey(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrSettingNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWrapsDatabaseErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := uuid.New()
	mock.ExpectQuery("FROM schedule_settings WHERE id = \\$1").
		WithArgs(id).
		WillReturnError(errors.New("connection reset"))

	_, err = NewStore(db).Get(context.Background(), id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "settings: get")
}

func TestEmailTemplateVariables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM email_templates").
		WithArgs("ws-1", "tpl-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "workspace_id", "template_id", "subject", "body", "variables"}).
			AddRow(uuid.New().String(), "ws-1", "tpl-1", "Confirme", "Olá {{patientName}}", "{patientName,scheduleDate}"))

	tpl, err := NewStore(db).EmailTemplate(context.Background(), "ws-1", "tpl-1")
	require.NoError(t, err)
	require.NotNil(t, tpl)
	assert.Equal(t, []string{"patientName", "scheduleDate"}, tpl.Variables)
}

func TestCancelReasonMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := uuid.New()
	mock.ExpectQuery("FROM cancel_reasons WHERE id = \\$1").
		WithArgs(id, "ws-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "workspace_id", "name"}))

	reason, err := NewStore(db).CancelReason(context.Background(), "ws-1", id)
	require.NoError(t, err)
	assert.Nil(t, reason)
}

func TestSettingDefaults(t *testing.T) {
	s := ScheduleSetting{GetScheduleInterval: 2}
	assert.Equal(t, 5, s.Interval())
	s.GetScheduleInterval = 60
	assert.Equal(t, 60, s.Interval())

	ts := TypeSetting{}
	assert.Equal(t, GroupAllOfRange, ts.GroupRuleOrDefault())
	assert.Equal(t, RecipientWhatsApp, ts.RecipientOrDefault())
	assert.True(t, SendTypeReminder.UsesScheduleWindow())
	assert.False(t, SendTypeNPS.UsesScheduleWindow())
}
