package recovery

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/hoangnd/queuemedic/internal/core/domain"
	"github.com/hoangnd/queuemedic/internal/monitoring/metrics"
)

// deferred is one retry attempt waiting for its eligibility time.
type deferred struct {
	at      time.Time
	itemID  string
	trigger *domain.Envelope
	index   int
}

type deferredHeap []*deferred

func (h deferredHeap) Len() int           { return len(h) }
func (h deferredHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h deferredHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *deferredHeap) Push(x any)        { d := x.(*deferred); d.index = len(*h); *h = append(*h, d) }
func (h *deferredHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return d
}

// dispatchFunc re-enters the eligibility check for a deferred attempt.
type dispatchFunc func(ctx context.Context, itemID string, trigger *domain.Envelope)

// delayQueue holds deferred retry attempts in a min-heap and dispatches
// each one once its eligibility time arrives.
type delayQueue struct {
	mu       sync.Mutex
	heap     deferredHeap
	wake     chan struct{}
	dispatch dispatchFunc
	now      func() time.Time
}

func newDelayQueue(dispatch dispatchFunc) *delayQueue {
	return &delayQueue{
		wake:     make(chan struct{}, 1),
		dispatch: dispatch,
		now:      time.Now,
	}
}

// Push defers an attempt until at.
func (q *delayQueue) Push(itemID string, trigger *domain.Envelope, at time.Time) {
	q.mu.Lock()
	heap.Push(&q.heap, &deferred{at: at, itemID: itemID, trigger: trigger})
	metrics.DeferredRetries.Set(float64(q.heap.Len()))
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of pending deferred attempts.
func (q *delayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Run dispatches due attempts until ctx is cancelled.
func (q *delayQueue) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		next, ok := q.peek()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if ok {
			timer.Reset(next.Sub(q.now()))
		} else {
			timer.Reset(time.Hour)
		}

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
			// New entry may be earlier than the current deadline.
		case <-timer.C:
			for _, d := range q.popDue(q.now()) {
				q.dispatch(ctx, d.itemID, d.trigger)
			}
		}
	}
}

func (q *delayQueue) peek() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return time.Time{}, false
	}
	return q.heap[0].at, true
}

func (q *delayQueue) popDue(now time.Time) []*deferred {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*deferred
	for q.heap.Len() > 0 && !q.heap[0].at.After(now) {
		due = append(due, heap.Pop(&q.heap).(*deferred))
	}
	metrics.DeferredRetries.Set(float64(q.heap.Len()))
	return due
}
