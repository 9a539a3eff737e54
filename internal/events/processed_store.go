package events

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Deduper records channel events that were already handled.
type Deduper interface {
	// MarkProcessed returns false when the event id was seen before.
	MarkProcessed(ctx context.Context, source, eventID string) (bool, error)
	// Forget releases a mark so a redelivery of a failed event is applied again.
	Forget(ctx context.Context, source, eventID string) error
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ProcessedStore keeps processed event ids in Postgres.
type ProcessedStore struct {
	pool execer
}

// NewProcessedStore builds a Postgres-backed deduper.
func NewProcessedStore(pool execer) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{pool: pool}
}

// MarkProcessed inserts an event id for the source, returning false if it already exists.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, source, eventID string) (bool, error) {
	query := `
		INSERT INTO processed_channel_events (source, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, source, eventID)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// Forget deletes the event id for the source.
func (s *ProcessedStore) Forget(ctx context.Context, source, eventID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM processed_channel_events WHERE source = $1 AND event_id = $2`, source, eventID)
	if err != nil {
		return fmt.Errorf("events: forget processed: %w", err)
	}
	return nil
}
