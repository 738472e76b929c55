package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hoangnd/queuemedic/internal/core/domain"
	"github.com/hoangnd/queuemedic/internal/eventbus"
	"github.com/hoangnd/queuemedic/internal/infra/storage"
	"github.com/hoangnd/queuemedic/internal/monitoring/metrics"
)

// Bus is the event bus surface the orchestrator needs.
type Bus interface {
	Publish(ctx context.Context, ev *domain.Envelope) error
	Subscribe(channel domain.EventType, h eventbus.Handler) *eventbus.Subscription
	Unsubscribe(sub *eventbus.Subscription)
}

// Config holds recovery orchestrator settings.
type Config struct {
	MaxRetries    int                // attempts before dead letter (default: 3)
	Backoff       ExponentialBackoff // eligibility schedule
	InvokeTimeout time.Duration      // bound on one capability call (default: 30s)
}

// DefaultConfig returns the standard recovery settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		Backoff:       DefaultBackoff(),
		InvokeTimeout: 30 * time.Second,
	}
}

// Orchestrator drives the tiered retry process for failed downloads. It
// subscribes to download.failed, keeps one retry record per item and
// publishes every outcome back onto the bus. Distinct items are handled
// concurrently; per-item mutation is serialized by a mutex arena.
type Orchestrator struct {
	cfg        Config
	bus        Bus
	records    storage.RetryRecordRepository
	strategies []Strategy
	log        *slog.Logger

	dq  *delayQueue
	sub *eventbus.Subscription

	// now is swapped in tests.
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a recovery orchestrator.
func New(cfg Config, bus Bus, records storage.RetryRecordRepository, capability RetryCapability, log *slog.Logger) *Orchestrator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.InvokeTimeout <= 0 {
		cfg.InvokeTimeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	o := &Orchestrator{
		cfg:        cfg,
		bus:        bus,
		records:    records,
		strategies: DefaultStrategies(capability),
		log:        log,
		now:        time.Now,
		locks:      make(map[string]*sync.Mutex),
	}
	o.dq = newDelayQueue(o.redispatch)
	return o
}

// Start subscribes to failure events and runs the deferred-attempt queue
// until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.dq.now = o.now
	o.sub = o.bus.Subscribe(domain.EventDownloadFailed, o.handleFailureEvent)
	go o.dq.Run(ctx)
	return nil
}

// Stop detaches the orchestrator from the bus.
func (o *Orchestrator) Stop() error {
	if o.sub != nil {
		o.bus.Unsubscribe(o.sub)
		o.sub = nil
	}
	return nil
}

// lockFor returns the per-item mutex, creating it on first use.
func (o *Orchestrator) lockFor(itemID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[itemID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[itemID] = l
	}
	return l
}

// handleFailureEvent is the download.failed subscriber.
func (o *Orchestrator) handleFailureEvent(ctx context.Context, ev *domain.Envelope) error {
	payload, ok := ev.Payload.(domain.DownloadFailedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", ev.Payload, ev.Type)
	}

	l := o.lockFor(payload.ItemID)
	l.Lock()
	defer l.Unlock()

	rec, err := o.records.Get(ctx, payload.ItemID)
	if err != nil {
		return fmt.Errorf("load retry record: %w", err)
	}

	if rec == nil {
		rec = o.newRecord(ev, payload)
	} else {
		if rec.Status == domain.RecordStatusRecovered && ev.CorrelationID == rec.CorrelationID {
			// Recovered is terminal for a lifecycle; a late duplicate of
			// the same lifecycle does not reopen it.
			return nil
		}
		if rec.Status == domain.RecordStatusRecovered && ev.CorrelationID != rec.CorrelationID {
			// A brand-new failure lifecycle reopens a recovered record.
			rec.Status = domain.RecordStatusNew
			rec.AttemptCount = 0
			rec.NextEligibleTime = time.Time{}
			rec.CorrelationID = ev.CorrelationID
		}
		// A new distinct failure updates the classification.
		if payload.Category != rec.Category {
			rec.Category = payload.Category
			rec.Severity = payload.Severity
		}
		rec.Quality = payload.Quality
		rec.Release = payload.Release
		rec.LastError = payload.Message
		rec.UpdatedAt = o.now()
	}

	o.process(ctx, ev, rec, false)
	return nil
}

func (o *Orchestrator) newRecord(ev *domain.Envelope, payload domain.DownloadFailedPayload) *domain.RetryRecord {
	now := o.now()
	return &domain.RetryRecord{
		ID:            uuid.New().String(),
		ItemID:        payload.ItemID,
		CorrelationID: ev.CorrelationID,
		Status:        domain.RecordStatusNew,
		Category:      payload.Category,
		Severity:      payload.Severity,
		SourceApp:     payload.SourceApp,
		Quality:       payload.Quality,
		Release:       payload.Release,
		LastError:     payload.Message,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// redispatch re-enters the eligibility check for a deferred attempt.
func (o *Orchestrator) redispatch(ctx context.Context, itemID string, trigger *domain.Envelope) {
	l := o.lockFor(itemID)
	l.Lock()
	defer l.Unlock()

	rec, err := o.records.Get(ctx, itemID)
	if err != nil {
		o.log.Error("reload retry record failed", slog.String("item", itemID), slog.Any("err", err))
		return
	}
	if rec == nil {
		return
	}
	o.process(ctx, trigger, rec, false)
}

// process runs the eligibility check and, when allowed, one retry
// invocation. Caller must hold the item lock. forced bypasses the
// eligibility time and resets the strategy index; it still respects
// max retries and the dead-letter state.
func (o *Orchestrator) process(ctx context.Context, trigger *domain.Envelope, rec *domain.RetryRecord, forced bool) {
	if rec.InDeadLetter {
		// The single moved_to_dead_letter was published at the
		// transition; later failures of a parked item are ignored.
		o.log.Debug("ignoring failure for dead-lettered item", slog.String("item", rec.ItemID))
		return
	}

	if rec.AttemptCount >= o.cfg.MaxRetries {
		o.moveToDeadLetter(ctx, trigger, rec)
		return
	}

	now := o.now()
	if !forced && now.Before(rec.NextEligibleTime) {
		if err := o.records.Save(ctx, rec); err != nil {
			o.log.Error("save retry record failed", slog.String("item", rec.ItemID), slog.Any("err", err))
			return
		}
		o.log.Debug("retry deferred",
			slog.String("item", rec.ItemID),
			slog.Time("eligible_at", rec.NextEligibleTime))
		o.dq.Push(rec.ItemID, trigger, rec.NextEligibleTime)
		return
	}

	idx := rec.AttemptCount
	if forced {
		idx = 0
	}
	if idx >= len(o.strategies) {
		idx = len(o.strategies) - 1
	}
	strategy := o.strategies[idx]
	attempt := rec.AttemptCount + 1

	// The eligibility time is advanced and persisted before the result
	// is known, so a crash mid-retry cannot cause an immediate repeat.
	rec.Status = domain.RecordStatusRetrying
	rec.LastStrategy = strategy.Name()
	rec.NextEligibleTime = now.Add(o.cfg.Backoff.Delay(rec.AttemptCount))
	rec.UpdatedAt = now
	if err := o.records.Save(ctx, rec); err != nil {
		o.log.Error("save retry record failed", slog.String("item", rec.ItemID), slog.Any("err", err))
		return
	}

	started := o.derive(trigger, rec.CorrelationID, domain.RetryStartedPayload{
		ItemID:   rec.ItemID,
		Strategy: strategy.Name(),
		Attempt:  attempt,
	})
	o.publish(ctx, started)

	invokeCtx, cancel := context.WithTimeout(ctx, o.cfg.InvokeTimeout)
	err := strategy.Execute(invokeCtx, rec)
	cancel()

	if err == nil {
		rec.Status = domain.RecordStatusRecovered
		rec.UpdatedAt = o.now()
		if saveErr := o.records.Save(ctx, rec); saveErr != nil {
			o.log.Error("save retry record failed", slog.String("item", rec.ItemID), slog.Any("err", saveErr))
		}
		metrics.RetriesTotal.WithLabelValues(string(strategy.Name()), "success").Inc()
		o.log.Info("item recovered",
			slog.String("item", rec.ItemID),
			slog.String("strategy", string(strategy.Name())),
			slog.Int("attempts", attempt))
		o.publish(ctx, started.Caused(domain.RecoveredPayload{
			ItemID:   rec.ItemID,
			Strategy: strategy.Name(),
			Attempts: attempt,
		}))
		return
	}

	// A timeout is treated identically to a failure response.
	rec.AttemptCount++
	rec.LastError = err.Error()
	rec.UpdatedAt = o.now()
	if saveErr := o.records.Save(ctx, rec); saveErr != nil {
		o.log.Error("save retry record failed", slog.String("item", rec.ItemID), slog.Any("err", saveErr))
	}
	metrics.RetriesTotal.WithLabelValues(string(strategy.Name()), "failure").Inc()
	o.log.Warn("retry failed",
		slog.String("item", rec.ItemID),
		slog.String("strategy", string(strategy.Name())),
		slog.Int("attempt", attempt),
		slog.Any("err", err))

	failedEv := started.Caused(domain.RetryFailedPayload{
		ItemID:   rec.ItemID,
		Strategy: strategy.Name(),
		Attempt:  attempt,
		Error:    err.Error(),
	})
	o.publish(ctx, failedEv)

	// Loop back into the eligibility check for the next strategy. The
	// advanced eligibility time defers it (or max retries parks it).
	o.process(ctx, failedEv, rec, false)
}

// moveToDeadLetter performs the terminal, one-way transition.
func (o *Orchestrator) moveToDeadLetter(ctx context.Context, trigger *domain.Envelope, rec *domain.RetryRecord) {
	rec.InDeadLetter = true
	rec.Status = domain.RecordStatusDeadLettered
	rec.UpdatedAt = o.now()
	if err := o.records.Save(ctx, rec); err != nil {
		o.log.Error("save retry record failed", slog.String("item", rec.ItemID), slog.Any("err", err))
		return
	}

	metrics.DeadLetterTotal.Inc()
	o.log.Warn("item moved to dead letter",
		slog.String("item", rec.ItemID),
		slog.Int("attempts", rec.AttemptCount))

	o.publish(ctx, o.derive(trigger, rec.CorrelationID, domain.DeadLetterPayload{
		ItemID:   rec.ItemID,
		Attempts: rec.AttemptCount,
		Reason:   "max retries exhausted",
	}))
}

// ForceRetry bypasses the eligibility time and retries with the first
// strategy. On a dead-lettered item this is the explicit manual
// intervention that reverts in_dead_letter and opens a fresh attempt
// budget; max retries still binds the new cycle.
func (o *Orchestrator) ForceRetry(ctx context.Context, itemID string) error {
	l := o.lockFor(itemID)
	l.Lock()
	defer l.Unlock()

	rec, err := o.records.Get(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load retry record: %w", err)
	}
	if rec == nil {
		return storage.ErrRecordNotFound
	}
	if rec.InDeadLetter {
		rec.InDeadLetter = false
		rec.Status = domain.RecordStatusNew
		rec.AttemptCount = 0
		rec.UpdatedAt = o.now()
	}
	if rec.AttemptCount >= o.cfg.MaxRetries {
		return fmt.Errorf("item %s exhausted its retries", itemID)
	}

	o.process(ctx, nil, rec, true)
	return nil
}

// ListFailedItems returns unrecovered records, optionally excluding the
// dead-lettered ones.
func (o *Orchestrator) ListFailedItems(ctx context.Context, excludeDeadLetter bool) ([]*domain.RetryRecord, error) {
	return o.records.ListFailed(ctx, excludeDeadLetter)
}

// ListDeadLetterItems returns all dead-lettered records.
func (o *Orchestrator) ListDeadLetterItems(ctx context.Context) ([]*domain.RetryRecord, error) {
	return o.records.ListDeadLetter(ctx)
}

// derive chains a follow-up event off its trigger; manual operations
// have no trigger and start from the record's correlation id.
func (o *Orchestrator) derive(trigger *domain.Envelope, correlationID string, p domain.Payload) *domain.Envelope {
	if trigger != nil {
		return trigger.Caused(p)
	}
	return domain.NewEvent(correlationID, p)
}

func (o *Orchestrator) publish(ctx context.Context, ev *domain.Envelope) {
	if err := o.bus.Publish(ctx, ev); err != nil {
		o.log.Error("publish failed",
			slog.String("event_type", string(ev.Type)),
			slog.Any("err", err))
		return
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
}
