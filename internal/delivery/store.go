package delivery

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

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const messageColumns = `m.id, m.schedule_id, m.schedule_setting_id, m.type_setting_id, m.workspace_id, m.group_id,
	m.send_type, m.recipient, m.recipient_type, m.sending_group_type, m.state, m.response_type, m.reason_id,
	m.conversation_id, m.nps_score, m.nps_comment, m.sended_at, m.enqueued_at, m.received_at, m.read_at,
	m.answered_at, m.response_at, m.created_at, m.updated_at`

// NotAnsweredCandidate is a message waiting for a patient answer together with
// the patient it was sent to.
type NotAnsweredCandidate struct {
	Message     ScheduleMessage
	PatientCode string
}

// Store persists schedule messages.
type Store struct {
	db  DB
	now func() time.Time
}

// NewStore creates a schedule message store.
func NewStore(db DB) *Store {
	return &Store{db: db, now: time.Now}
}

// CreateIfNotExists inserts m unless its uniqueness tuple already exists.
// It reports false, without error, for duplicates.
func (s *Store) CreateIfNotExists(ctx context.Context, m *ScheduleMessage) (bool, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.State == "" {
		m.State = StateAwaitingSend
	}
	now := s.now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	var id uuid.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO schedule_messages (id, schedule_id, schedule_setting_id, type_setting_id, workspace_id, group_id,
			send_type, recipient, recipient_type, sending_group_type, state, response_type, conversation_id,
			sended_at, response_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (schedule_id, send_type, recipient, recipient_type, sending_group_type) DO NOTHING
		RETURNING id`,
		m.ID, m.ScheduleID, m.ScheduleSettingID, m.TypeSettingID, m.WorkspaceID, m.GroupID,
		string(m.SendType), m.Recipient, string(m.RecipientType), m.SendingGroupType, string(m.State), string(m.ResponseType), m.ConversationID,
		m.SendedAt, m.ResponseAt, m.CreatedAt, m.UpdatedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delivery: insert message: %w", err)
	}
	return true, nil
}

// Get loads a message by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*ScheduleMessage, error) {
	row := s.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM schedule_messages m WHERE m.id = $1`, id)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delivery: get message: %w", err)
	}
	return m, nil
}

// Update writes every mutable column of m. Concurrent writers are last-write-wins.
func (s *Store) Update(ctx context.Context, m *ScheduleMessage) error {
	m.UpdatedAt = s.now().UTC()
	tag, err := s.db.Exec(ctx, `
		UPDATE schedule_messages
		SET state = $2, response_type = $3, reason_id = $4, conversation_id = $5, nps_score = $6, nps_comment = $7,
			sended_at = $8, enqueued_at = $9, received_at = $10, read_at = $11, answered_at = $12, response_at = $13,
			updated_at = $14
		WHERE id = $1`,
		m.ID, string(m.State), string(m.ResponseType), m.ReasonID, m.ConversationID, m.NpsScore, m.NpsComment,
		m.SendedAt, m.EnqueuedAt, m.ReceivedAt, m.ReadAt, m.AnsweredAt, m.ResponseAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("delivery: update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// FindAlternateRecipient returns another unsent, unanswered message for the
// same group (or schedule when ungrouped), recipient type and send type
// created in the last 24h.
func (s *Store) FindAlternateRecipient(ctx context.Context, m *ScheduleMessage) (*ScheduleMessage, error) {
	since := s.now().UTC().Add(-24 * time.Hour)
	row := s.db.QueryRow(ctx, `SELECT `+messageColumns+`
		FROM schedule_messages m
		WHERE m.workspace_id = $1 AND m.recipient_type = $2 AND m.send_type = $3
			AND (m.group_id = $4 OR ($4::uuid IS NULL AND m.schedule_id = $5))
			AND m.id <> $6 AND m.state = 'AWAITING_SEND' AND m.response_type = ''
			AND m.sended_at IS NULL AND m.created_at >= $7
		ORDER BY m.created_at ASC
		LIMIT 1`,
		m.WorkspaceID, string(m.RecipientType), string(m.SendType), m.GroupID, m.ScheduleID, m.ID, since)
	alt, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delivery: find alternate recipient: %w", err)
	}
	return alt, nil
}

// ListNotAnswered returns messages awaiting a response (or already retried)
// that have a linked conversation and were sent after since.
func (s *Store) ListNotAnswered(ctx context.Context, since time.Time) ([]NotAnsweredCandidate, error) {
	rows, err := s.db.Query(ctx, `SELECT `+messageColumns+`, sc.patient_code
		FROM schedule_messages m
		JOIN schedules sc ON sc.id = m.schedule_id
		WHERE m.state IN ('AWAITING_RESPONSE', 'RETRY_RESEND_CONFIRM_RSPNS')
			AND m.conversation_id <> '' AND m.sended_at >= $1
		ORDER BY m.sended_at ASC`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("delivery: list not answered: %w", err)
	}
	defer rows.Close()

	out := []NotAnsweredCandidate{}
	for rows.Next() {
		var c NotAnsweredCandidate
		var patientCode string
		m, err := scanMessage(rows, &patientCode)
		if err != nil {
			return nil, fmt.Errorf("delivery: scan not answered: %w", err)
		}
		c.Message = *m
		c.PatientCode = patientCode
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListPendingIntegrationSave returns confirmation messages whose confirmed or
// canceled response has not been saved to the scheduling system.
func (s *Store) ListPendingIntegrationSave(ctx context.Context, since time.Time) ([]ScheduleMessage, error) {
	rows, err := s.db.Query(ctx, `SELECT `+messageColumns+`
		FROM schedule_messages m
		WHERE m.send_type = $1 AND m.state = 'AWAITING_SAVE_INTEGRATIONS'
			AND m.response_type IN ('confirmed', 'canceled') AND m.response_at >= $2
		ORDER BY m.response_at ASC`, string(settings.SendTypeConfirmation), since.UTC())
	if err != nil {
		return nil, fmt.Errorf("delivery: list pending integration save: %w", err)
	}
	defer rows.Close()

	out := []ScheduleMessage{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("delivery: scan pending save: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// ListBySchedule returns every message of a schedule, newest first.
func (s *Store) ListBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]ScheduleMessage, error) {
	rows, err := s.db.Query(ctx, `SELECT `+messageColumns+`
		FROM schedule_messages m WHERE m.schedule_id = $1
		ORDER BY m.created_at DESC`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("delivery: list by schedule: %w", err)
	}
	defer rows.Close()

	out := []ScheduleMessage{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("delivery: scan message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanMessage(row pgx.Row, extra ...any) (*ScheduleMessage, error) {
	var (
		m                                       ScheduleMessage
		sendType, recipientType, state, respTyp string
	)
	dest := []any{&m.ID, &m.ScheduleID, &m.ScheduleSettingID, &m.TypeSettingID, &m.WorkspaceID, &m.GroupID,
		&sendType, &m.Recipient, &recipientType, &m.SendingGroupType, &state, &respTyp, &m.ReasonID,
		&m.ConversationID, &m.NpsScore, &m.NpsComment, &m.SendedAt, &m.EnqueuedAt, &m.ReceivedAt, &m.ReadAt,
		&m.AnsweredAt, &m.ResponseAt, &m.CreatedAt, &m.UpdatedAt}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	m.SendType = settings.SendType(sendType)
	m.RecipientType = settings.RecipientType(recipientType)
	m.State = State(state)
	m.ResponseType = ResponseType(respTyp)
	return &m, nil
}
