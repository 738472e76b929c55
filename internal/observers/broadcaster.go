package observers

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hoangnd/queuemedic/internal/core/domain"
	"github.com/hoangnd/queuemedic/internal/eventbus"
)

// DefaultClientBuffer bounds each client's delivery channel.
const DefaultClientBuffer = 64

// Broadcaster fans every event out to attached clients (SSE streams,
// notification sinks). Delivery is best effort: a slow client loses
// events instead of stalling the bus.
type Broadcaster struct {
	bus *eventbus.Bus
	log *slog.Logger

	mu      sync.Mutex
	clients map[int]chan *domain.Envelope
	nextID  int
	sub     *eventbus.Subscription
}

// NewBroadcaster creates a broadcaster attached to the bus.
func NewBroadcaster(bus *eventbus.Bus, log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		bus:     bus,
		log:     log,
		clients: make(map[int]chan *domain.Envelope),
	}
}

// Start subscribes to the wildcard channel.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.sub = b.bus.Subscribe(domain.EventAll, b.handle)
	return nil
}

// Stop detaches from the bus and closes every client channel.
func (b *Broadcaster) Stop() error {
	if b.sub != nil {
		b.bus.Unsubscribe(b.sub)
		b.sub = nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
	return nil
}

// Attach registers a client and returns its delivery channel plus a
// detach func. The channel is closed on detach or Stop.
func (b *Broadcaster) Attach() (<-chan *domain.Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan *domain.Envelope, DefaultClientBuffer)
	b.clients[id] = ch

	detach := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.clients[id]; ok {
			close(c)
			delete(b.clients, id)
		}
	}
	return ch, detach
}

// ClientCount returns the number of attached clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *Broadcaster) handle(ctx context.Context, ev *domain.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.clients {
		select {
		case ch <- ev:
		default:
			b.log.Debug("broadcast client lagging, event skipped",
				slog.Int("client", id),
				slog.String("event_type", string(ev.Type)))
		}
	}
	return nil
}
