package observers

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hoangnd/queuemedic/internal/core/domain"
	"github.com/hoangnd/queuemedic/internal/eventbus"
	"github.com/hoangnd/queuemedic/internal/infra/storage"
)

// DefaultActivityBuffer bounds the pending-write channel.
const DefaultActivityBuffer = 256

// ActivityLog subscribes to every event and appends it to the event
// repository on a background worker. The bus handler never blocks: when
// the buffer is full the event is dropped and counted, the bus keeps
// running.
type ActivityLog struct {
	bus    *eventbus.Bus
	events storage.EventRepository
	log    *slog.Logger

	pending chan *domain.Envelope
	sub     *eventbus.Subscription
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// NewActivityLog creates the activity log observer.
func NewActivityLog(bus *eventbus.Bus, events storage.EventRepository, buffer int, log *slog.Logger) *ActivityLog {
	if buffer <= 0 {
		buffer = DefaultActivityBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	return &ActivityLog{
		bus:     bus,
		events:  events,
		log:     log,
		pending: make(chan *domain.Envelope, buffer),
	}
}

// Start subscribes to the wildcard channel and runs the write worker
// until ctx is cancelled.
func (a *ActivityLog) Start(ctx context.Context) error {
	a.sub = a.bus.Subscribe(domain.EventAll, a.handle)
	a.wg.Add(1)
	go a.worker(ctx)
	return nil
}

// Stop detaches from the bus and drains pending writes.
func (a *ActivityLog) Stop() error {
	if a.sub != nil {
		a.bus.Unsubscribe(a.sub)
		a.sub = nil
	}
	close(a.pending)
	a.wg.Wait()
	return nil
}

// Dropped returns the number of events lost to a full buffer.
func (a *ActivityLog) Dropped() uint64 {
	return a.dropped.Load()
}

func (a *ActivityLog) handle(ctx context.Context, ev *domain.Envelope) error {
	select {
	case a.pending <- ev:
	default:
		a.dropped.Add(1)
		a.log.Warn("activity log buffer full, event dropped",
			slog.String("event_type", string(ev.Type)),
			slog.String("event_id", ev.ID))
	}
	return nil
}

func (a *ActivityLog) worker(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.pending:
			if !ok {
				return
			}
			if err := a.events.Append(ctx, ev); err != nil {
				a.log.Error("append event failed",
					slog.String("event_type", string(ev.Type)),
					slog.String("event_id", ev.ID),
					slog.Any("err", err))
			}
		}
	}
}

// Timeline returns the persisted causal chain for one lifecycle,
// oldest first.
func (a *ActivityLog) Timeline(ctx context.Context, correlationID string) ([]*domain.Envelope, error) {
	return a.events.ByCorrelation(ctx, correlationID)
}

// Recent returns the most recently persisted events, oldest first.
func (a *ActivityLog) Recent(ctx context.Context, limit int) ([]*domain.Envelope, error) {
	return a.events.Recent(ctx, limit)
}
