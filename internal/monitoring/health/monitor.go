package health

import (
	"context"
	"sync"
	"time"

	"github.com/hoangnd/queuemedic/internal/core/domain"
	"github.com/hoangnd/queuemedic/internal/eventbus"
	"github.com/hoangnd/queuemedic/internal/infra/storage"
)

// Status is the aggregate service condition.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// Report is the detailed health snapshot.
type Report struct {
	Status          Status            `json:"status"`
	FailedItems     int               `json:"failed_items"`
	DeadLetterItems int               `json:"dead_letter_items"`
	LastPoll        time.Time         `json:"last_poll"`
	EventsPublished uint64            `json:"events_published"`
	HandlerFaults   uint64            `json:"handler_faults"`
	Dependencies    map[string]string `json:"dependencies"`
}

// Checker is one external dependency that can report its own health.
type Checker interface {
	Health(ctx context.Context) error
}

// NamedChecker pairs a dependency with its report label.
type NamedChecker struct {
	Name    string
	Checker Checker
}

// Monitor aggregates health from the retry store, the bus and the
// external dependencies. It watches heartbeats on the bus to judge poll
// staleness.
type Monitor struct {
	records      storage.RetryRecordRepository
	bus          *eventbus.Bus
	dependencies []NamedChecker
	staleAfter   time.Duration

	mu         sync.RWMutex
	lastPoll   time.Time
	lastCheck  time.Time
	lastReport *Report

	sub *eventbus.Subscription
}

// NewMonitor creates a health monitor. staleAfter bounds how old the
// latest queue heartbeat may be before the service counts as degraded.
func NewMonitor(records storage.RetryRecordRepository, bus *eventbus.Bus, staleAfter time.Duration, deps ...NamedChecker) *Monitor {
	if staleAfter <= 0 {
		staleAfter = 6 * time.Minute
	}
	return &Monitor{
		records:      records,
		bus:          bus,
		dependencies: deps,
		staleAfter:   staleAfter,
	}
}

// Start subscribes to queue heartbeats.
func (m *Monitor) Start(ctx context.Context) error {
	m.sub = m.bus.Subscribe(domain.EventQueuePolled, func(ctx context.Context, ev *domain.Envelope) error {
		m.mu.Lock()
		m.lastPoll = ev.Timestamp
		m.mu.Unlock()
		return nil
	})
	return nil
}

// Stop detaches from the bus.
func (m *Monitor) Stop() error {
	if m.sub != nil {
		m.bus.Unsubscribe(m.sub)
		m.sub = nil
	}
	return nil
}

// CheckHealth builds the aggregate report. Results are cached briefly
// so the endpoint cannot hammer the dependencies.
func (m *Monitor) CheckHealth(ctx context.Context) *Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < 10*time.Second {
		return m.lastReport
	}

	report := &Report{
		Status:       StatusHealthy,
		LastPoll:     m.lastPoll,
		Dependencies: make(map[string]string),
	}

	if count, err := m.records.Count(ctx); err == nil {
		report.FailedItems = count
	}
	if count, err := m.records.CountDeadLetter(ctx); err == nil {
		report.DeadLetterItems = count
	}

	stats := m.bus.Stats()
	report.EventsPublished = stats.TotalPublished
	report.HandlerFaults = stats.HandlerFaults

	for _, dep := range m.dependencies {
		if err := dep.Checker.Health(ctx); err != nil {
			report.Dependencies[dep.Name] = err.Error()
			report.Status = StatusCritical
		} else {
			report.Dependencies[dep.Name] = "ok"
		}
	}

	if report.Status != StatusCritical {
		stale := !m.lastPoll.IsZero() && time.Since(m.lastPoll) > m.staleAfter
		if stale || report.FailedItems > 0 || report.DeadLetterItems > 0 {
			report.Status = StatusDegraded
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
