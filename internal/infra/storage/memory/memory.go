package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/hoangnd/queuemedic/internal/core/domain"
)

// MemoryStorage backs the repositories for tests and single-process
// runs without external dependencies.
type MemoryStorage struct {
	mu      sync.RWMutex
	records map[string]*domain.RetryRecord
	events  []*domain.Envelope
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]*domain.RetryRecord),
	}
}

// -----------------------------------------------------------------------------
// Retry Record Repository
// -----------------------------------------------------------------------------

type RecordRepo struct {
	store *MemoryStorage
}

func NewRecordRepo(store *MemoryStorage) *RecordRepo {
	return &RecordRepo{store: store}
}

func (r *RecordRepo) Get(ctx context.Context, itemID string) (*domain.RetryRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rec, ok := r.store.records[itemID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *RecordRepo) Save(ctx context.Context, rec *domain.RetryRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *rec
	r.store.records[rec.ItemID] = &cp
	return nil
}

func (r *RecordRepo) ListFailed(ctx context.Context, excludeDeadLetter bool) ([]*domain.RetryRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.RetryRecord
	for _, rec := range r.store.records {
		if rec.Status == domain.RecordStatusRecovered {
			continue
		}
		if excludeDeadLetter && rec.InDeadLetter {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sortByUpdated(out)
	return out, nil
}

func (r *RecordRepo) ListDeadLetter(ctx context.Context) ([]*domain.RetryRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.RetryRecord
	for _, rec := range r.store.records {
		if rec.InDeadLetter {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sortByUpdated(out)
	return out, nil
}

func (r *RecordRepo) Count(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	n := 0
	for _, rec := range r.store.records {
		if rec.Status != domain.RecordStatusRecovered {
			n++
		}
	}
	return n, nil
}

func (r *RecordRepo) CountDeadLetter(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	n := 0
	for _, rec := range r.store.records {
		if rec.InDeadLetter {
			n++
		}
	}
	return n, nil
}

func sortByUpdated(recs []*domain.RetryRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].UpdatedAt.Before(recs[j].UpdatedAt)
	})
}

// -----------------------------------------------------------------------------
// Event Repository
// -----------------------------------------------------------------------------

type EventRepo struct {
	store *MemoryStorage
}

func NewEventRepo(store *MemoryStorage) *EventRepo {
	return &EventRepo{store: store}
}

func (r *EventRepo) Append(ctx context.Context, ev *domain.Envelope) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.events = append(r.store.events, ev)
	return nil
}

func (r *EventRepo) ByCorrelation(ctx context.Context, correlationID string) ([]*domain.Envelope, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*domain.Envelope
	for _, ev := range r.store.events {
		if ev.CorrelationID == correlationID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *EventRepo) Recent(ctx context.Context, limit int) ([]*domain.Envelope, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if limit <= 0 || limit > len(r.store.events) {
		limit = len(r.store.events)
	}
	out := make([]*domain.Envelope, limit)
	copy(out, r.store.events[len(r.store.events)-limit:])
	return out, nil
}

func (r *EventRepo) Count(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.events), nil
}
