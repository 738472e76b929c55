package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hoangnd/queuemedic/internal/core/domain"
	"github.com/hoangnd/queuemedic/internal/monitoring/classify"
	"github.com/hoangnd/queuemedic/internal/monitoring/metrics"
)

// QueueFetcher fetches the current queue snapshot from the download client.
type QueueFetcher interface {
	FetchQueueSnapshot(ctx context.Context) (*domain.QueueSnapshot, error)
}

// Publisher is the bus surface the monitor needs.
type Publisher interface {
	Publish(ctx context.Context, ev *domain.Envelope) error
}

// Config holds queue monitor settings.
type Config struct {
	Interval     time.Duration // polling interval (default: 120s)
	FetchTimeout time.Duration // bound on one snapshot fetch (default: 15s)
	// SourceApps maps queue category prefixes to owning applications,
	// e.g. "tv" -> show-manager.
	SourceApps map[string]domain.SourceApp
}

// DefaultConfig returns the standard polling settings.
func DefaultConfig() Config {
	return Config{
		Interval:     120 * time.Second,
		FetchTimeout: 15 * time.Second,
		SourceApps: map[string]domain.SourceApp{
			"tv":     domain.SourceShowManager,
			"movies": domain.SourceMovieManager,
		},
	}
}

// Monitor polls the external download queue, diffs against the previous
// snapshot and publishes failure and heartbeat events. It never
// terminates on transient fetch errors.
type Monitor struct {
	cfg        Config
	fetcher    QueueFetcher
	bus        Publisher
	classifier *classify.Classifier
	log        *slog.Logger

	running atomic.Bool
	stop    chan struct{}

	// prev holds the item states of the last completed cycle. Touched
	// only by the polling goroutine.
	prev map[string]domain.ItemState
}

// New creates a queue monitor.
func New(cfg Config, fetcher QueueFetcher, bus Publisher, classifier *classify.Classifier, log *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 120 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if classifier == nil {
		classifier = classify.New(classify.DefaultRules())
	}
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		cfg:        cfg,
		fetcher:    fetcher,
		bus:        bus,
		classifier: classifier,
		log:        log,
		stop:       make(chan struct{}),
		prev:       make(map[string]domain.ItemState),
	}
}

// Start begins the polling loop. Only one cycle is ever active: cycles run
// on the loop goroutine and a tick arriving mid-cycle is dropped by the
// ticker, never queued.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("monitor already running")
	}
	defer m.running.Store(false)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.PollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.stop:
			return nil
		case <-ticker.C:
			m.PollOnce(ctx)
		}
	}
}

// Stop stops the polling loop.
func (m *Monitor) Stop() error {
	if m.running.Load() {
		close(m.stop)
	}
	return nil
}

// PollOnce executes one Polling -> Diffing -> Publishing cycle. A fetch
// failure becomes a service.error event and the cycle ends; the caller's
// loop schedules the next tick as usual.
func (m *Monitor) PollOnce(ctx context.Context) {
	start := time.Now()

	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	snapshot, err := m.fetcher.FetchQueueSnapshot(fetchCtx)
	cancel()

	if err != nil {
		metrics.PollCycles.WithLabelValues("fetch_error").Inc()
		m.log.Warn("queue fetch failed", slog.Any("err", err))
		m.publish(ctx, domain.NewEvent("queue-monitor", domain.ServiceErrorPayload{
			Component: "download-client",
			Error:     err.Error(),
		}))
		return
	}

	newFailures := m.diff(ctx, snapshot)

	items := snapshot.Items()
	metrics.QueueItems.Set(float64(len(items)))
	metrics.PollCycles.WithLabelValues("ok").Inc()
	metrics.PollDuration.Observe(time.Since(start).Seconds())

	m.publish(ctx, domain.NewEvent("queue-monitor", domain.QueuePolledPayload{
		ActiveItems: len(snapshot.Active),
		NewFailures: newFailures,
		Duration:    time.Since(start),
	}))
}

// diff compares the snapshot against the previous cycle and publishes one
// event per detected transition. Returns the number of new failures.
func (m *Monitor) diff(ctx context.Context, snapshot *domain.QueueSnapshot) int {
	next := make(map[string]domain.ItemState)
	newFailures := 0

	for _, item := range snapshot.Items() {
		prevState, seen := m.prev[item.ID]
		next[item.ID] = item.State

		if seen && prevState == item.State {
			continue
		}

		if item.Failed() {
			newFailures++
			m.publishFailure(ctx, item)
			continue
		}

		if seen {
			m.publish(ctx, domain.NewEvent(item.ID, domain.QueueStateChangedPayload{
				ItemID:    item.ID,
				Title:     item.Title,
				FromState: prevState,
				ToState:   item.State,
			}))
		}
	}

	m.prev = next
	return newFailures
}

func (m *Monitor) publishFailure(ctx context.Context, item domain.QueueItem) {
	res := m.classifier.Classify(item.Message)
	metrics.FailuresClassified.WithLabelValues(string(res.Category), string(res.Severity)).Inc()

	m.log.Info("download failure detected",
		slog.String("item", item.ID),
		slog.String("title", item.Title),
		slog.String("category", string(res.Category)),
		slog.String("severity", string(res.Severity)))

	// Each failure episode is its own lifecycle: a recovered item that
	// fails again gets a fresh correlation id and a fresh attempt budget.
	correlationID := fmt.Sprintf("%s:%s", item.ID, uuid.New().String()[:8])
	m.publish(ctx, domain.NewEvent(correlationID, domain.DownloadFailedPayload{
		ItemID:    item.ID,
		Title:     item.Title,
		Message:   item.Message,
		Category:  res.Category,
		Severity:  res.Severity,
		SourceApp: m.resolveSourceApp(item.Category),
		Quality:   item.Quality,
		Release:   item.Release,
	}))
}

// resolveSourceApp maps a queue category to the owning application by
// prefix lookup.
func (m *Monitor) resolveSourceApp(category string) domain.SourceApp {
	for prefix, app := range m.cfg.SourceApps {
		if len(category) >= len(prefix) && category[:len(prefix)] == prefix {
			return app
		}
	}
	return domain.SourceUnknown
}

func (m *Monitor) publish(ctx context.Context, ev *domain.Envelope) {
	if err := m.bus.Publish(ctx, ev); err != nil {
		m.log.Error("publish failed",
			slog.String("event_type", string(ev.Type)),
			slog.Any("err", err))
		return
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
}
