package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublished tracks events published on the bus per type
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuemedic_events_published_total",
			Help: "Total number of events published on the bus",
		},
		[]string{"event_type"},
	)

	// FailuresClassified tracks classified failures per category/severity
	FailuresClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuemedic_failures_classified_total",
			Help: "Total number of classified download failures",
		},
		[]string{"category", "severity"},
	)

	// RetriesTotal tracks retry invocations per strategy and outcome
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuemedic_retries_total",
			Help: "Total number of retry invocations",
		},
		[]string{"strategy", "outcome"},
	)

	// DeadLetterTotal tracks items moved to the dead letter state
	DeadLetterTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queuemedic_dead_letter_total",
			Help: "Total number of items moved to dead letter",
		},
	)

	// PollCycles tracks monitor polling cycles per result
	PollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queuemedic_poll_cycles_total",
			Help: "Total number of queue polling cycles",
		},
		[]string{"result"},
	)

	// PollDuration tracks the duration of one polling cycle
	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "queuemedic_poll_duration_seconds",
			Help:    "Queue polling cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// QueueItems tracks the size of the last observed queue snapshot
	QueueItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queuemedic_queue_items",
			Help: "Items in the last observed queue snapshot",
		},
	)

	// DeferredRetries tracks retries waiting on their eligibility time
	DeferredRetries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queuemedic_deferred_retries",
			Help: "Retry attempts currently deferred by backoff",
		},
	)
)
