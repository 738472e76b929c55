package recovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hoangnd/queuemedic/internal/core/domain"
)

func TestDelayQueue_DispatchesInDeadlineOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	q := newDelayQueue(func(ctx context.Context, itemID string, trigger *domain.Envelope) {
		mu.Lock()
		order = append(order, itemID)
		n := len(order)
		mu.Unlock()
		if n == 2 {
			close(done)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	now := time.Now()
	q.Push("late", nil, now.Add(40*time.Millisecond))
	q.Push("early", nil, now.Add(10*time.Millisecond))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "early" || order[1] != "late" {
		t.Errorf("dispatch order = %v, want [early late]", order)
	}
	if q.Len() != 0 {
		t.Errorf("queue length = %d after dispatch, want 0", q.Len())
	}
}

func TestDelayQueue_EarlierPushPreemptsDeadline(t *testing.T) {
	dispatched := make(chan string, 2)

	q := newDelayQueue(func(ctx context.Context, itemID string, trigger *domain.Envelope) {
		dispatched <- itemID
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	// The loop is parked on a far deadline; a new earlier entry must
	// wake it rather than wait the hour out.
	q.Push("far", nil, time.Now().Add(time.Hour))
	q.Push("soon", nil, time.Now().Add(20*time.Millisecond))

	select {
	case id := <-dispatched:
		if id != "soon" {
			t.Errorf("dispatched %s first, want soon", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("earlier entry was not dispatched")
	}
	if q.Len() != 1 {
		t.Errorf("queue length = %d, want 1 (the far entry)", q.Len())
	}
}

func TestDelayQueue_StopsOnContextCancel(t *testing.T) {
	q := newDelayQueue(func(ctx context.Context, itemID string, trigger *domain.Envelope) {
		t.Error("dispatch after cancel")
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
