package storage

import (
	"context"
	"errors"

	"github.com/hoangnd/queuemedic/internal/core/domain"
)

var (
	// ErrRecordNotFound is returned when a retry record doesn't exist
	ErrRecordNotFound = errors.New("retry record not found")
)

// RetryRecordRepository handles retry record storage operations
type RetryRecordRepository interface {
	// Get retrieves the record for an item, nil when absent
	Get(ctx context.Context, itemID string) (*domain.RetryRecord, error)

	// Save inserts or updates a record
	Save(ctx context.Context, rec *domain.RetryRecord) error

	// ListFailed retrieves all records not yet recovered, optionally
	// excluding dead-lettered ones
	ListFailed(ctx context.Context, excludeDeadLetter bool) ([]*domain.RetryRecord, error)

	// ListDeadLetter retrieves all dead-lettered records
	ListDeadLetter(ctx context.Context) ([]*domain.RetryRecord, error)

	// Count returns the number of unrecovered records
	Count(ctx context.Context) (int, error)

	// CountDeadLetter returns the number of dead-lettered records
	CountDeadLetter(ctx context.Context) (int, error)
}

// EventRepository is the append-only activity log sink
type EventRepository interface {
	// Append persists one envelope
	Append(ctx context.Context, ev *domain.Envelope) error

	// ByCorrelation retrieves the causal timeline of one lifecycle,
	// oldest first
	ByCorrelation(ctx context.Context, correlationID string) ([]*domain.Envelope, error)

	// Recent retrieves the most recent envelopes, oldest first
	Recent(ctx context.Context, limit int) ([]*domain.Envelope, error)

	// Count returns the number of persisted envelopes
	Count(ctx context.Context) (int, error)
}
