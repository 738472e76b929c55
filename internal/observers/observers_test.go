package observers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hoangnd/queuemedic/internal/core/domain"
	"github.com/hoangnd/queuemedic/internal/eventbus"
)

type mockEventRepo struct {
	mu     sync.Mutex
	events []*domain.Envelope
}

func (r *mockEventRepo) Append(ctx context.Context, ev *domain.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *mockEventRepo) ByCorrelation(ctx context.Context, correlationID string) ([]*domain.Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Envelope
	for _, ev := range r.events {
		if ev.CorrelationID == correlationID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *mockEventRepo) Recent(ctx context.Context, limit int) ([]*domain.Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.events) {
		limit = len(r.events)
	}
	return append([]*domain.Envelope(nil), r.events[len(r.events)-limit:]...), nil
}

func (r *mockEventRepo) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events), nil
}

func heartbeat(correlationID string) *domain.Envelope {
	return domain.NewEvent(correlationID, domain.QueuePolledPayload{ActiveItems: 1})
}

func TestActivityLog_PersistsEveryEvent(t *testing.T) {
	bus := eventbus.New(100, nil)
	repo := &mockEventRepo{}
	al := NewActivityLog(bus, repo, 16, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := al.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := bus.Publish(ctx, heartbeat("cycle")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	if err := al.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	n, _ := repo.Count(ctx)
	if n != 5 {
		t.Errorf("persisted %d events, want 5", n)
	}
	if al.Dropped() != 0 {
		t.Errorf("dropped = %d, want 0", al.Dropped())
	}
}

func TestActivityLog_Timeline(t *testing.T) {
	bus := eventbus.New(100, nil)
	repo := &mockEventRepo{}
	al := NewActivityLog(bus, repo, 16, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := al.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	root := domain.NewEvent("item-9", domain.DownloadFailedPayload{ItemID: "item-9"})
	_ = bus.Publish(ctx, root)
	_ = bus.Publish(ctx, root.Caused(domain.RetryStartedPayload{ItemID: "item-9", Attempt: 1}))
	_ = bus.Publish(ctx, heartbeat("other"))
	if err := al.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	timeline, err := al.Timeline(ctx, "item-9")
	if err != nil {
		t.Fatalf("Timeline failed: %v", err)
	}
	if len(timeline) != 2 {
		t.Fatalf("timeline has %d events, want 2", len(timeline))
	}
	if timeline[0].Type != domain.EventDownloadFailed || timeline[1].Type != domain.EventRetryStarted {
		t.Errorf("timeline order wrong: %s, %s", timeline[0].Type, timeline[1].Type)
	}
	if timeline[1].CausationID != timeline[0].ID {
		t.Error("second event must be caused by the first")
	}
}

func TestActivityLog_DropsOnFullBufferWithoutBlocking(t *testing.T) {
	bus := eventbus.New(100, nil)
	repo := &mockEventRepo{}
	al := NewActivityLog(bus, repo, 2, nil)
	// Worker never started: the buffer fills after 2 events.

	al.sub = bus.Subscribe(domain.EventAll, al.handle)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := bus.Publish(ctx, heartbeat("cycle")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	bus.Unsubscribe(al.sub)

	if al.Dropped() != 3 {
		t.Errorf("dropped = %d, want 3", al.Dropped())
	}
}

func TestBroadcaster_FansOutToAllClients(t *testing.T) {
	bus := eventbus.New(100, nil)
	b := NewBroadcaster(bus, nil)

	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer b.Stop()

	ch1, detach1 := b.Attach()
	ch2, detach2 := b.Attach()
	defer detach1()
	defer detach2()

	ev := heartbeat("cycle")
	if err := bus.Publish(ctx, ev); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	for i, ch := range []<-chan *domain.Envelope{ch1, ch2} {
		select {
		case got := <-ch:
			if got.ID != ev.ID {
				t.Errorf("client %d got event %s, want %s", i, got.ID, ev.ID)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %d received nothing", i)
		}
	}
}

func TestBroadcaster_SlowClientLosesEventsOnly(t *testing.T) {
	bus := eventbus.New(500, nil)
	b := NewBroadcaster(bus, nil)

	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer b.Stop()

	slow, detachSlow := b.Attach()
	defer detachSlow()

	// Never read from slow; its buffer fills and further events drop.
	for i := 0; i < DefaultClientBuffer+10; i++ {
		if err := bus.Publish(ctx, heartbeat("cycle")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	if got := len(slow); got != DefaultClientBuffer {
		t.Errorf("slow client buffered %d, want %d", got, DefaultClientBuffer)
	}

	// A fresh client still gets new events.
	fresh, detachFresh := b.Attach()
	defer detachFresh()
	if err := bus.Publish(ctx, heartbeat("cycle")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	select {
	case <-fresh:
	case <-time.After(time.Second):
		t.Fatal("fresh client received nothing")
	}
}

func TestBroadcaster_DetachClosesChannel(t *testing.T) {
	bus := eventbus.New(100, nil)
	b := NewBroadcaster(bus, nil)
	_ = b.Start(context.Background())
	defer b.Stop()

	ch, detach := b.Attach()
	if b.ClientCount() != 1 {
		t.Fatalf("client count = %d, want 1", b.ClientCount())
	}
	detach()
	if b.ClientCount() != 0 {
		t.Errorf("client count = %d after detach, want 0", b.ClientCount())
	}
	if _, open := <-ch; open {
		t.Error("channel still open after detach")
	}
	detach() // second detach is a no-op
}
