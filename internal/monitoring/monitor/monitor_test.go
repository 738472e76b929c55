package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hoangnd/queuemedic/internal/core/domain"
	"github.com/hoangnd/queuemedic/internal/eventbus"
)

// =============================================================================
// Mock Fetcher
// =============================================================================

type mockFetcher struct {
	mu        sync.Mutex
	snapshots []*domain.QueueSnapshot
	errs      []error
	calls     int
}

func (f *mockFetcher) FetchQueueSnapshot(ctx context.Context) (*domain.QueueSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.snapshots) {
		return f.snapshots[i], nil
	}
	return &domain.QueueSnapshot{}, nil
}

type collector struct {
	mu     sync.Mutex
	events []*domain.Envelope
}

func (c *collector) handle(ctx context.Context, ev *domain.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) byType(t domain.EventType) []*domain.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*domain.Envelope
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newMonitorWithBus(fetcher QueueFetcher) (*Monitor, *collector) {
	bus := eventbus.New(100, nil)
	col := &collector{}
	bus.Subscribe(domain.EventAll, col.handle)

	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	return New(cfg, fetcher, bus, nil, nil), col
}

// =============================================================================
// Tests
// =============================================================================

func TestMonitor_NewFailurePublished(t *testing.T) {
	fetcher := &mockFetcher{
		snapshots: []*domain.QueueSnapshot{
			{Active: []domain.QueueItem{{
				ID:       "nzb-1",
				Title:    "Some.Show.S01E01",
				Category: "tv",
				State:    domain.ItemStateFailed,
				Message:  "archive is password protected",
			}}},
		},
	}
	m, col := newMonitorWithBus(fetcher)

	m.PollOnce(context.Background())

	failed := col.byType(domain.EventDownloadFailed)
	if len(failed) != 1 {
		t.Fatalf("expected 1 download.failed, got %d", len(failed))
	}
	payload := failed[0].Payload.(domain.DownloadFailedPayload)
	if payload.Category != domain.CategoryPasswordProtected {
		t.Errorf("category = %s, want %s", payload.Category, domain.CategoryPasswordProtected)
	}
	if payload.Severity != domain.SeverityCritical {
		t.Errorf("severity = %s, want %s", payload.Severity, domain.SeverityCritical)
	}
	if payload.SourceApp != domain.SourceShowManager {
		t.Errorf("source app = %s, want %s", payload.SourceApp, domain.SourceShowManager)
	}
	if !strings.HasPrefix(failed[0].CorrelationID, "nzb-1:") {
		t.Errorf("correlation id = %s, want item-prefixed lifecycle id", failed[0].CorrelationID)
	}
}

func TestMonitor_NoDuplicateFailureEvents(t *testing.T) {
	item := domain.QueueItem{ID: "nzb-1", State: domain.ItemStateFailed, Message: "incomplete"}
	fetcher := &mockFetcher{
		snapshots: []*domain.QueueSnapshot{
			{History: []domain.QueueItem{item}},
			{History: []domain.QueueItem{item}},
		},
	}
	m, col := newMonitorWithBus(fetcher)

	m.PollOnce(context.Background())
	m.PollOnce(context.Background())

	if got := len(col.byType(domain.EventDownloadFailed)); got != 1 {
		t.Errorf("expected 1 download.failed across two cycles, got %d", got)
	}
	if got := len(col.byType(domain.EventQueuePolled)); got != 2 {
		t.Errorf("expected 2 heartbeats, got %d", got)
	}
}

func TestMonitor_TransitionIntoFailure(t *testing.T) {
	fetcher := &mockFetcher{
		snapshots: []*domain.QueueSnapshot{
			{Active: []domain.QueueItem{{ID: "nzb-1", State: domain.ItemStateDownloading}}},
			{History: []domain.QueueItem{{ID: "nzb-1", State: domain.ItemStateFailed, Message: "unpack failed"}}},
		},
	}
	m, col := newMonitorWithBus(fetcher)

	m.PollOnce(context.Background())
	m.PollOnce(context.Background())

	failed := col.byType(domain.EventDownloadFailed)
	if len(failed) != 1 {
		t.Fatalf("expected 1 download.failed, got %d", len(failed))
	}
	payload := failed[0].Payload.(domain.DownloadFailedPayload)
	if payload.Category != domain.CategoryUnpackFailed {
		t.Errorf("category = %s, want %s", payload.Category, domain.CategoryUnpackFailed)
	}
}

func TestMonitor_StateChangeEvent(t *testing.T) {
	fetcher := &mockFetcher{
		snapshots: []*domain.QueueSnapshot{
			{Active: []domain.QueueItem{{ID: "nzb-1", State: domain.ItemStateQueued}}},
			{Active: []domain.QueueItem{{ID: "nzb-1", State: domain.ItemStateDownloading}}},
		},
	}
	m, col := newMonitorWithBus(fetcher)

	m.PollOnce(context.Background())
	m.PollOnce(context.Background())

	changed := col.byType(domain.EventQueueStateChanged)
	if len(changed) != 1 {
		t.Fatalf("expected 1 queue.state_changed, got %d", len(changed))
	}
	payload := changed[0].Payload.(domain.QueueStateChangedPayload)
	if payload.FromState != domain.ItemStateQueued || payload.ToState != domain.ItemStateDownloading {
		t.Errorf("transition = %s -> %s", payload.FromState, payload.ToState)
	}
}

func TestMonitor_FetchErrorPublishesServiceError(t *testing.T) {
	fetcher := &mockFetcher{
		errs: []error{errors.New("connection refused"), nil},
		snapshots: []*domain.QueueSnapshot{
			nil,
			{Active: []domain.QueueItem{{ID: "nzb-1", State: domain.ItemStateQueued}}},
		},
	}
	m, col := newMonitorWithBus(fetcher)

	m.PollOnce(context.Background())

	if got := len(col.byType(domain.EventServiceError)); got != 1 {
		t.Fatalf("expected 1 service.error, got %d", got)
	}
	// A failed cycle publishes no heartbeat but does not stop the loop:
	// the next cycle proceeds normally.
	m.PollOnce(context.Background())
	if got := len(col.byType(domain.EventQueuePolled)); got != 1 {
		t.Errorf("expected 1 heartbeat after recovery, got %d", got)
	}
}

func TestMonitor_HeartbeatAlwaysPublished(t *testing.T) {
	fetcher := &mockFetcher{snapshots: []*domain.QueueSnapshot{{}}}
	m, col := newMonitorWithBus(fetcher)

	m.PollOnce(context.Background())

	beats := col.byType(domain.EventQueuePolled)
	if len(beats) != 1 {
		t.Fatalf("expected heartbeat with empty queue, got %d", len(beats))
	}
	payload := beats[0].Payload.(domain.QueuePolledPayload)
	if payload.NewFailures != 0 || payload.ActiveItems != 0 {
		t.Errorf("unexpected heartbeat payload: %+v", payload)
	}
}

func TestMonitor_StartStop(t *testing.T) {
	fetcher := &mockFetcher{}
	m, _ := newMonitorWithBus(fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	time.Sleep(30 * time.Millisecond)
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}

	fetcher.mu.Lock()
	calls := fetcher.calls
	fetcher.mu.Unlock()
	if calls == 0 {
		t.Error("expected at least one poll cycle")
	}
}
