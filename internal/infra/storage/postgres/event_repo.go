package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hoangnd/queuemedic/internal/core/domain"
)

// EventRepo implements storage.EventRepository using PostgreSQL. The
// payload is stored as JSONB and restored as a raw carrier; consumers
// of persisted timelines work with the serialized form.
type EventRepo struct {
	db *DB
}

// NewEventRepo creates a new PostgreSQL event repository.
func NewEventRepo(db *DB) *EventRepo {
	return &EventRepo{db: db}
}

type eventRow struct {
	ID            string    `db:"id"`
	EventType     string    `db:"event_type"`
	CorrelationID string    `db:"correlation_id"`
	CausationID   string    `db:"causation_id"`
	OccurredAt    time.Time `db:"occurred_at"`
	Payload       []byte    `db:"payload"`
}

func (row eventRow) toDomain() *domain.Envelope {
	return &domain.Envelope{
		ID:            row.ID,
		Type:          domain.EventType(row.EventType),
		CorrelationID: row.CorrelationID,
		CausationID:   row.CausationID,
		Timestamp:     row.OccurredAt,
		Payload:       domain.RawPayload{Type: domain.EventType(row.EventType), Data: row.Payload},
	}
}

// Append persists one envelope.
func (r *EventRepo) Append(ctx context.Context, ev *domain.Envelope) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	query := `
		INSERT INTO events (id, event_type, correlation_id, causation_id, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.db.ExecContext(ctx, query,
		ev.ID, string(ev.Type), ev.CorrelationID, ev.CausationID, ev.Timestamp, payload)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ByCorrelation returns the causal timeline of one lifecycle, oldest first.
func (r *EventRepo) ByCorrelation(ctx context.Context, correlationID string) ([]*domain.Envelope, error) {
	query := `
		SELECT id, event_type, correlation_id, causation_id, occurred_at, payload
		FROM events
		WHERE correlation_id = $1
		ORDER BY occurred_at ASC, id ASC
	`

	var rows []eventRow
	if err := r.db.SelectContext(ctx, &rows, query, correlationID); err != nil {
		return nil, fmt.Errorf("failed to get event timeline: %w", err)
	}

	out := make([]*domain.Envelope, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// Recent returns the most recent events, oldest first.
func (r *EventRepo) Recent(ctx context.Context, limit int) ([]*domain.Envelope, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, event_type, correlation_id, causation_id, occurred_at, payload
		FROM (
			SELECT id, event_type, correlation_id, causation_id, occurred_at, payload
			FROM events
			ORDER BY occurred_at DESC, id DESC
			LIMIT $1
		) latest
		ORDER BY occurred_at ASC, id ASC
	`

	var rows []eventRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to get recent events: %w", err)
	}

	out := make([]*domain.Envelope, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// Count returns the number of persisted events.
func (r *EventRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM events`); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}
