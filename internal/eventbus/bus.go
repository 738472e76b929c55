package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hoangnd/queuemedic/internal/core/domain"
)

// DefaultHistoryCapacity bounds the in-memory debug ring.
const DefaultHistoryCapacity = 1000

// Handler consumes one envelope. A returned error (or panic) is isolated
// to this subscriber: it is logged, counted and swallowed.
type Handler func(ctx context.Context, ev *domain.Envelope) error

// InvalidEventError is returned by Publish for malformed envelopes.
type InvalidEventError struct {
	Reason string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("invalid event: %s", e.Reason)
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id      string
	channel domain.EventType
	handler Handler
}

// Stats is an observability snapshot of the bus.
type Stats struct {
	TotalPublished uint64                      `json:"total_published"`
	PerType        map[domain.EventType]uint64 `json:"per_type"`
	PerSubscriber  map[string]uint64           `json:"per_subscriber"`
	HandlerFaults  uint64                      `json:"handler_faults"`
}

// Bus is a single-process publish/subscribe primitive. Publishing is
// synchronous: all subscribers run on the caller's goroutine, in
// registration order, concrete channel before the wildcard.
type Bus struct {
	log *slog.Logger

	mu          sync.RWMutex
	subs        map[domain.EventType][]*Subscription
	history     []*domain.Envelope
	historyCap  int
	nextSubID   int
	published   uint64
	perType     map[domain.EventType]uint64
	perSub      map[string]uint64
	faults      uint64
}

// New creates a bus with the given history capacity (<= 0 uses the default).
func New(historyCap int, log *slog.Logger) *Bus {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCapacity
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		log:        log,
		subs:       make(map[domain.EventType][]*Subscription),
		historyCap: historyCap,
		perType:    make(map[domain.EventType]uint64),
		perSub:     make(map[string]uint64),
	}
}

// Subscribe registers a handler for one event type or the wildcard
// domain.EventAll. Handlers run in registration order.
func (b *Bus) Subscribe(channel domain.EventType, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	sub := &Subscription{
		id:      fmt.Sprintf("sub-%d:%s", b.nextSubID, channel),
		channel: channel,
		handler: h,
	}
	b.subs[channel] = append(b.subs[channel], sub)
	return sub
}

// Unsubscribe removes a subscription handle. Unknown handles are a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[sub.channel]
	for i, s := range list {
		if s == sub {
			b.subs[sub.channel] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Publish validates the envelope, appends it to the history ring and
// synchronously invokes every subscriber for its type and the wildcard.
// One subscriber's fault never prevents sibling handlers from running,
// nor the publisher from returning nil.
func (b *Bus) Publish(ctx context.Context, ev *domain.Envelope) error {
	if ev == nil {
		return &InvalidEventError{Reason: "nil envelope"}
	}
	if !ev.Type.Known() {
		return &InvalidEventError{Reason: fmt.Sprintf("unknown event type %q", ev.Type)}
	}
	if ev.CorrelationID == "" {
		return &InvalidEventError{Reason: "empty correlation id"}
	}

	b.mu.Lock()
	b.history = append(b.history, ev)
	if len(b.history) > b.historyCap {
		b.history = b.history[len(b.history)-b.historyCap:]
	}
	b.published++
	b.perType[ev.Type]++

	// Snapshot handlers under the lock, invoke outside it so handlers
	// may publish follow-up events without deadlocking.
	targets := make([]*Subscription, 0, len(b.subs[ev.Type])+len(b.subs[domain.EventAll]))
	targets = append(targets, b.subs[ev.Type]...)
	targets = append(targets, b.subs[domain.EventAll]...)
	b.mu.Unlock()

	for _, sub := range targets {
		b.invoke(ctx, sub, ev)
	}
	return nil
}

func (b *Bus) invoke(ctx context.Context, sub *Subscription, ev *domain.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.recordFault()
			b.log.Error("subscriber panicked",
				slog.String("subscriber", sub.id),
				slog.String("event_type", string(ev.Type)),
				slog.String("event_id", ev.ID),
				slog.Any("panic", r))
		}
	}()

	b.mu.Lock()
	b.perSub[sub.id]++
	b.mu.Unlock()

	if err := sub.handler(ctx, ev); err != nil {
		b.recordFault()
		b.log.Warn("subscriber returned error",
			slog.String("subscriber", sub.id),
			slog.String("event_type", string(ev.Type)),
			slog.String("event_id", ev.ID),
			slog.Any("err", err))
	}
}

func (b *Bus) recordFault() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults++
}

// Stats returns a copy of the publish/invocation counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	perType := make(map[domain.EventType]uint64, len(b.perType))
	for k, v := range b.perType {
		perType[k] = v
	}
	perSub := make(map[string]uint64, len(b.perSub))
	for k, v := range b.perSub {
		perSub[k] = v
	}
	return Stats{
		TotalPublished: b.published,
		PerType:        perType,
		PerSubscriber:  perSub,
		HandlerFaults:  b.faults,
	}
}

// History returns the retained envelopes for one correlation id, oldest
// first. Events evicted from the ring are gone unless a subscriber
// persisted them.
func (b *Bus) History(correlationID string) []*domain.Envelope {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*domain.Envelope
	for _, ev := range b.history {
		if ev.CorrelationID == correlationID {
			out = append(out, ev)
		}
	}
	return out
}

// Recent returns the most recent n envelopes, oldest first.
func (b *Bus) Recent(n int) []*domain.Envelope {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > len(b.history) {
		n = len(b.history)
	}
	out := make([]*domain.Envelope, n)
	copy(out, b.history[len(b.history)-n:])
	return out
}
