package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/schedule-notify/internal/settings"
)

// ErrExtractNotFound is returned when an extract id does not exist.
var ErrExtractNotFound = errors.New("extract: extract resume not found")

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const resumeColumns = `id, correlation_id, schedule_setting_id, setting_type_id, type, workspace_id, integration_id,
	state, extract_rule, started_at, end_at, start_range_date, end_range_date,
	extracted_count, processed_count, sent_count, error, created_at, updated_at`

// Ledger persists ExtractResume rows. Rows are never deleted.
type Ledger struct {
	db  DB
	now func() time.Time
}

// NewLedger creates a Postgres-backed ledger.
func NewLedger(db DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Create inserts a new row, filling id, correlation id, state and timestamps when empty.
func (l *Ledger) Create(ctx context.Context, r *ExtractResume) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CorrelationID == uuid.Nil {
		r.CorrelationID = uuid.New()
	}
	if r.State == "" {
		r.State = StateAwaitingRun
	}
	now := l.now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := l.db.Exec(ctx, `
		INSERT INTO extract_resumes (id, correlation_id, schedule_setting_id, setting_type_id, type, workspace_id,
			integration_id, state, extract_rule, start_range_date, end_range_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.CorrelationID, r.ScheduleSettingID, r.SettingTypeID, string(r.Type), r.WorkspaceID,
		r.IntegrationID, string(r.State), string(r.ExtractRule), r.StartRangeDate, r.EndRangeDate, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("extract: create resume: %w", err)
	}
	return nil
}

// Get loads a row by id.
func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*ExtractResume, error) {
	row := l.db.QueryRow(ctx, `SELECT `+resumeColumns+` FROM extract_resumes WHERE id = $1`, id)
	r, err := scanResume(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExtractNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("extract: get resume: %w", err)
	}
	return r, nil
}

// FindLast returns the most recently created row for the triple, or nil.
func (l *Ledger) FindLast(ctx context.Context, settingID uuid.UUID, sendType settings.SendType, typeSettingID uuid.UUID) (*ExtractResume, error) {
	row := l.db.QueryRow(ctx, `SELECT `+resumeColumns+`
		FROM extract_resumes
		WHERE schedule_setting_id = $1 AND type = $2 AND setting_type_id = $3
		ORDER BY created_at DESC LIMIT 1`, settingID, string(sendType), typeSettingID)
	r, err := scanResume(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("extract: find last: %w", err)
	}
	return r, nil
}

// FindDaily returns the most recent row for the triple created on the calendar
// day [dayStart, dayStart+24h), or nil.
func (l *Ledger) FindDaily(ctx context.Context, settingID uuid.UUID, sendType settings.SendType, typeSettingID uuid.UUID, dayStart time.Time) (*ExtractResume, error) {
	row := l.db.QueryRow(ctx, `SELECT `+resumeColumns+`
		FROM extract_resumes
		WHERE schedule_setting_id = $1 AND type = $2 AND setting_type_id = $3
		  AND created_at >= $4 AND created_at < $5
		ORDER BY created_at DESC LIMIT 1`,
		settingID, string(sendType), typeSettingID, dayStart.UTC(), dayStart.AddDate(0, 0, 1).UTC())
	r, err := scanResume(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("extract: find daily: %w", err)
	}
	return r, nil
}

// UpdateRange rewrites the appointment window of a row that has not started yet.
func (l *Ledger) UpdateRange(ctx context.Context, id uuid.UUID, start, end time.Time) error {
	tag, err := l.db.Exec(ctx, `
		UPDATE extract_resumes SET start_range_date = $1, end_range_date = $2, updated_at = $3
		WHERE id = $4`, start, end, l.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("extract: update range: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExtractNotFound
	}
	return nil
}

// UpdateStart marks the row RUNNING.
func (l *Ledger) UpdateStart(ctx context.Context, id uuid.UUID) error {
	now := l.now().UTC()
	tag, err := l.db.Exec(ctx, `
		UPDATE extract_resumes SET state = $1, started_at = $2, updated_at = $2
		WHERE id = $3`, string(StateRunning), now, id)
	if err != nil {
		return fmt.Errorf("extract: update start: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExtractNotFound
	}
	return nil
}

// UpdateEnded marks the row ENDED with its counts.
func (l *Ledger) UpdateEnded(ctx context.Context, id uuid.UUID, counts Counts) error {
	return l.finish(ctx, id, StateEnded, counts, "")
}

// UpdateEndedError marks the row ENDED_ERROR and stores the error text.
func (l *Ledger) UpdateEndedError(ctx context.Context, id uuid.UUID, counts Counts, errText string) error {
	return l.finish(ctx, id, StateEndedError, counts, errText)
}

// UpdateEndedLock forces an abandoned RUNNING row to ENDED_LOCK.
func (l *Ledger) UpdateEndedLock(ctx context.Context, id uuid.UUID) error {
	now := l.now().UTC()
	_, err := l.db.Exec(ctx, `
		UPDATE extract_resumes SET state = $1, end_at = $2, updated_at = $2
		WHERE id = $3`, string(StateEndedLock), now, id)
	if err != nil {
		return fmt.Errorf("extract: update ended lock: %w", err)
	}
	return nil
}

func (l *Ledger) finish(ctx context.Context, id uuid.UUID, state State, counts Counts, errText string) error {
	now := l.now().UTC()
	_, err := l.db.Exec(ctx, `
		UPDATE extract_resumes
		SET state = $1, end_at = $2, extracted_count = $3, processed_count = $4, sent_count = $5, error = $6, updated_at = $2
		WHERE id = $7`,
		string(state), now, counts.Extracted, counts.Processed, counts.Sent, errText, id)
	if err != nil {
		return fmt.Errorf("extract: update %s: %w", state, err)
	}
	return nil
}

// ListBySetting returns the latest rows for a setting, newest first.
func (l *Ledger) ListBySetting(ctx context.Context, settingID uuid.UUID, limit int) ([]ExtractResume, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.Query(ctx, `SELECT `+resumeColumns+`
		FROM extract_resumes WHERE schedule_setting_id = $1
		ORDER BY created_at DESC LIMIT $2`, settingID, limit)
	if err != nil {
		return nil, fmt.Errorf("extract: list by setting: %w", err)
	}
	defer rows.Close()

	out := []ExtractResume{}
	for rows.Next() {
		r, err := scanResume(rows)
		if err != nil {
			return nil, fmt.Errorf("extract: scan resume: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanResume(row pgx.Row) (*ExtractResume, error) {
	var r ExtractResume
	var sendType, state, rule string
	var errText *string
	err := row.Scan(&r.ID, &r.CorrelationID, &r.ScheduleSettingID, &r.SettingTypeID, &sendType, &r.WorkspaceID,
		&r.IntegrationID, &state, &rule, &r.StartedAt, &r.EndAt, &r.StartRangeDate, &r.EndRangeDate,
		&r.ExtractedCount, &r.ProcessedCount, &r.SentCount, &errText, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Type = settings.SendType(sendType)
	r.State = State(state)
	r.ExtractRule = settings.Rule(rule)
	if errText != nil {
		r.Error = *errText
	}
	return &r, nil
}
