package memory

import (
	"context"
	"testing"
	"time"

	"github.com/hoangnd/queuemedic/internal/core/domain"
)

func record(itemID string, status domain.RecordStatus, dead bool, updated time.Time) *domain.RetryRecord {
	return &domain.RetryRecord{
		ID:           "rec-" + itemID,
		ItemID:       itemID,
		Status:       status,
		InDeadLetter: dead,
		UpdatedAt:    updated,
	}
}

func TestRecordRepo_SaveAndGet(t *testing.T) {
	repo := NewRecordRepo(NewMemoryStorage())
	ctx := context.Background()

	got, err := repo.Get(ctx, "item-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for absent record")
	}

	rec := record("item-1", domain.RecordStatusNew, false, time.Now())
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err = repo.Get(ctx, "item-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.ID != rec.ID {
		t.Fatalf("got %+v, want saved record", got)
	}

	// Mutating the returned copy must not touch the stored record.
	got.AttemptCount = 99
	again, _ := repo.Get(ctx, "item-1")
	if again.AttemptCount != 0 {
		t.Error("repository returned a shared pointer instead of a copy")
	}
}

func TestRecordRepo_SaveUpserts(t *testing.T) {
	repo := NewRecordRepo(NewMemoryStorage())
	ctx := context.Background()

	rec := record("item-1", domain.RecordStatusNew, false, time.Now())
	_ = repo.Save(ctx, rec)
	rec.AttemptCount = 2
	rec.Status = domain.RecordStatusRetrying
	_ = repo.Save(ctx, rec)

	got, _ := repo.Get(ctx, "item-1")
	if got.AttemptCount != 2 || got.Status != domain.RecordStatusRetrying {
		t.Errorf("got %+v, want updated record", got)
	}
	if n, _ := repo.Count(ctx); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestRecordRepo_Listing(t *testing.T) {
	repo := NewRecordRepo(NewMemoryStorage())
	ctx := context.Background()
	base := time.Now()

	_ = repo.Save(ctx, record("a", domain.RecordStatusRetrying, false, base))
	_ = repo.Save(ctx, record("b", domain.RecordStatusDeadLettered, true, base.Add(time.Second)))
	_ = repo.Save(ctx, record("c", domain.RecordStatusRecovered, false, base.Add(2*time.Second)))

	failed, err := repo.ListFailed(ctx, true)
	if err != nil {
		t.Fatalf("ListFailed failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ItemID != "a" {
		t.Errorf("ListFailed(exclude) = %d records, want only a", len(failed))
	}

	all, _ := repo.ListFailed(ctx, false)
	if len(all) != 2 {
		t.Errorf("ListFailed(include) = %d records, want 2", len(all))
	}

	dead, _ := repo.ListDeadLetter(ctx)
	if len(dead) != 1 || dead[0].ItemID != "b" {
		t.Errorf("ListDeadLetter = %d records, want only b", len(dead))
	}

	if n, _ := repo.Count(ctx); n != 2 {
		t.Errorf("Count = %d, want 2 (recovered excluded)", n)
	}
	if n, _ := repo.CountDeadLetter(ctx); n != 1 {
		t.Errorf("CountDeadLetter = %d, want 1", n)
	}
}

func TestEventRepo_AppendAndQuery(t *testing.T) {
	repo := NewEventRepo(NewMemoryStorage())
	ctx := context.Background()

	root := domain.NewEvent("item-1", domain.DownloadFailedPayload{ItemID: "item-1"})
	child := root.Caused(domain.RetryStartedPayload{ItemID: "item-1", Attempt: 1})
	other := domain.NewEvent("item-2", domain.DownloadFailedPayload{ItemID: "item-2"})

	for _, ev := range []*domain.Envelope{root, child, other} {
		if err := repo.Append(ctx, ev); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	timeline, err := repo.ByCorrelation(ctx, "item-1")
	if err != nil {
		t.Fatalf("ByCorrelation failed: %v", err)
	}
	if len(timeline) != 2 {
		t.Fatalf("timeline has %d events, want 2", len(timeline))
	}
	if timeline[0].ID != root.ID || timeline[1].ID != child.ID {
		t.Error("timeline must be insertion ordered, oldest first")
	}

	recent, _ := repo.Recent(ctx, 2)
	if len(recent) != 2 || recent[0].ID != child.ID || recent[1].ID != other.ID {
		t.Errorf("Recent(2) wrong, got %d events", len(recent))
	}

	if n, _ := repo.Count(ctx); n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}
