package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hoangnd/queuemedic/internal/core/domain"
)

// RecordRepo implements storage.RetryRecordRepository using PostgreSQL.
type RecordRepo struct {
	db *DB
}

// NewRecordRepo creates a new PostgreSQL retry record repository.
func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

type recordRow struct {
	ID               string         `db:"id"`
	ItemID           string         `db:"item_id"`
	CorrelationID    string         `db:"correlation_id"`
	Status           string         `db:"status"`
	AttemptCount     int            `db:"attempt_count"`
	NextEligibleTime sql.NullTime   `db:"next_eligible_time"`
	LastStrategy     sql.NullString `db:"last_strategy"`
	Category         string         `db:"category"`
	Severity         string         `db:"severity"`
	SourceApp        string         `db:"source_app"`
	InDeadLetter     bool           `db:"in_dead_letter"`
	Quality          string         `db:"quality"`
	Release          string         `db:"release_group"`
	LastError        string         `db:"last_error"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (row recordRow) toDomain() *domain.RetryRecord {
	rec := &domain.RetryRecord{
		ID:            row.ID,
		ItemID:        row.ItemID,
		CorrelationID: row.CorrelationID,
		Status:        domain.RecordStatus(row.Status),
		AttemptCount:  row.AttemptCount,
		Category:      domain.FailureCategory(row.Category),
		Severity:      domain.Severity(row.Severity),
		SourceApp:     domain.SourceApp(row.SourceApp),
		InDeadLetter:  row.InDeadLetter,
		Quality:       row.Quality,
		Release:       row.Release,
		LastError:     row.LastError,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if row.NextEligibleTime.Valid {
		rec.NextEligibleTime = row.NextEligibleTime.Time
	}
	if row.LastStrategy.Valid {
		rec.LastStrategy = domain.Strategy(row.LastStrategy.String)
	}
	return rec
}

const recordColumns = `
	id, item_id, correlation_id, status, attempt_count, next_eligible_time,
	last_strategy, category, severity, source_app, in_dead_letter,
	quality, release_group, last_error, created_at, updated_at
`

// Get retrieves the record for an item, nil when absent.
func (r *RecordRepo) Get(ctx context.Context, itemID string) (*domain.RetryRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM retry_records WHERE item_id = $1`

	var row recordRow
	err := r.db.GetContext(ctx, &row, query, itemID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get retry record: %w", err)
	}
	return row.toDomain(), nil
}

// Save inserts or updates a record, keyed by item id.
func (r *RecordRepo) Save(ctx context.Context, rec *domain.RetryRecord) error {
	query := `
		INSERT INTO retry_records (
			id, item_id, correlation_id, status, attempt_count, next_eligible_time,
			last_strategy, category, severity, source_app, in_dead_letter,
			quality, release_group, last_error, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (item_id) DO UPDATE SET
			correlation_id = EXCLUDED.correlation_id,
			status = EXCLUDED.status,
			attempt_count = EXCLUDED.attempt_count,
			next_eligible_time = EXCLUDED.next_eligible_time,
			last_strategy = EXCLUDED.last_strategy,
			category = EXCLUDED.category,
			severity = EXCLUDED.severity,
			source_app = EXCLUDED.source_app,
			in_dead_letter = EXCLUDED.in_dead_letter,
			quality = EXCLUDED.quality,
			release_group = EXCLUDED.release_group,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
	`

	var eligible sql.NullTime
	if !rec.NextEligibleTime.IsZero() {
		eligible = sql.NullTime{Time: rec.NextEligibleTime, Valid: true}
	}
	var strategy sql.NullString
	if rec.LastStrategy != "" {
		strategy = sql.NullString{String: string(rec.LastStrategy), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.ItemID, rec.CorrelationID, string(rec.Status), rec.AttemptCount,
		eligible, strategy, string(rec.Category), string(rec.Severity),
		string(rec.SourceApp), rec.InDeadLetter, rec.Quality, rec.Release,
		rec.LastError, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save retry record: %w", err)
	}
	return nil
}

// ListFailed returns unrecovered records, optionally excluding the
// dead-lettered ones, oldest update first.
func (r *RecordRepo) ListFailed(ctx context.Context, excludeDeadLetter bool) ([]*domain.RetryRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM retry_records
		WHERE status <> 'recovered'
	`
	if excludeDeadLetter {
		query += ` AND in_dead_letter = FALSE`
	}
	query += ` ORDER BY updated_at ASC`

	var rows []recordRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list failed records: %w", err)
	}

	out := make([]*domain.RetryRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// ListDeadLetter returns all dead-lettered records, oldest update first.
func (r *RecordRepo) ListDeadLetter(ctx context.Context) ([]*domain.RetryRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM retry_records
		WHERE in_dead_letter = TRUE
		ORDER BY updated_at ASC
	`

	var rows []recordRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list dead letter records: %w", err)
	}

	out := make([]*domain.RetryRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// Count returns the number of unrecovered records.
func (r *RecordRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM retry_records WHERE status <> 'recovered'`)
	if err != nil {
		return 0, fmt.Errorf("failed to count retry records: %w", err)
	}
	return count, nil
}

// CountDeadLetter returns the number of dead-lettered records.
func (r *RecordRepo) CountDeadLetter(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM retry_records WHERE in_dead_letter = TRUE`)
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letter records: %w", err)
	}
	return count, nil
}
