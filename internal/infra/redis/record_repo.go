package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hoangnd/queuemedic/internal/core/domain"
)

// RecordRepo implements storage.RetryRecordRepository using Redis. Each
// record is a JSON value keyed by item id; an index sorted set keyed by
// update time drives the list operations, plus one set per flag.
type RecordRepo struct {
	rdb *redis.Client
}

// NewRecordRepo creates a new Redis-backed retry record repository.
func NewRecordRepo(client *Client) *RecordRepo {
	return &RecordRepo{rdb: client.rdb}
}

const (
	indexKey      = "retry_records:index"
	deadLetterKey = "retry_records:dead_letter"
	recoveredKey  = "retry_records:recovered"
)

func recordKey(itemID string) string {
	return fmt.Sprintf("retry_record:%s", itemID)
}

// Get retrieves the record for an item, nil when absent.
func (r *RecordRepo) Get(ctx context.Context, itemID string) (*domain.RetryRecord, error) {
	data, err := r.rdb.Get(ctx, recordKey(itemID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get retry record: %w", err)
	}

	var rec domain.RetryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal retry record: %w", err)
	}
	return &rec, nil
}

// Save inserts or updates a record and its flag indexes.
func (r *RecordRepo) Save(ctx context.Context, rec *domain.RetryRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal retry record: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, recordKey(rec.ItemID), data, 0)
	pipe.ZAdd(ctx, indexKey, redis.Z{
		Score:  float64(rec.UpdatedAt.UnixMilli()),
		Member: rec.ItemID,
	})
	if rec.InDeadLetter {
		pipe.SAdd(ctx, deadLetterKey, rec.ItemID)
	} else {
		pipe.SRem(ctx, deadLetterKey, rec.ItemID)
	}
	if rec.Status == domain.RecordStatusRecovered {
		pipe.SAdd(ctx, recoveredKey, rec.ItemID)
	} else {
		pipe.SRem(ctx, recoveredKey, rec.ItemID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save retry record: %w", err)
	}
	return nil
}

// ListFailed returns unrecovered records, optionally excluding the
// dead-lettered ones, oldest update first.
func (r *RecordRepo) ListFailed(ctx context.Context, excludeDeadLetter bool) ([]*domain.RetryRecord, error) {
	ids, err := r.rdb.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}

	var out []*domain.RetryRecord
	for _, id := range ids {
		rec, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			// Value gone but id still indexed, drop the stale entry.
			r.rdb.ZRem(ctx, indexKey, id)
			continue
		}
		if rec.Status == domain.RecordStatusRecovered {
			continue
		}
		if excludeDeadLetter && rec.InDeadLetter {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// ListDeadLetter returns all dead-lettered records, oldest update first.
func (r *RecordRepo) ListDeadLetter(ctx context.Context) ([]*domain.RetryRecord, error) {
	recs, err := r.ListFailed(ctx, false)
	if err != nil {
		return nil, err
	}
	var out []*domain.RetryRecord
	for _, rec := range recs {
		if rec.InDeadLetter {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Count returns the number of unrecovered records.
func (r *RecordRepo) Count(ctx context.Context) (int, error) {
	total, err := r.rdb.ZCard(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	recovered, err := r.rdb.SCard(ctx, recoveredKey).Result()
	if err != nil {
		return 0, fmt.Errorf("scard failed: %w", err)
	}
	return int(total - recovered), nil
}

// CountDeadLetter returns the number of dead-lettered records.
func (r *RecordRepo) CountDeadLetter(ctx context.Context) (int, error) {
	count, err := r.rdb.SCard(ctx, deadLetterKey).Result()
	if err != nil {
		return 0, fmt.Errorf("scard failed: %w", err)
	}
	return int(count), nil
}
