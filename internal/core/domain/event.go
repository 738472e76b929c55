package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies one kind of envelope on the bus.
type EventType string

const (
	EventDownloadFailed     EventType = "download.failed"
	EventRetryStarted       EventType = "download.retry_started"
	EventRetryFailed        EventType = "download.retry_failed"
	EventRecovered          EventType = "download.recovered"
	EventMovedToDeadLetter  EventType = "download.moved_to_dead_letter"
	EventQueuePolled        EventType = "queue.polled"
	EventQueueStateChanged  EventType = "queue.state_changed"
	EventServiceError       EventType = "service.error"

	// EventAll is the wildcard channel delivered every published event.
	EventAll EventType = "all"
)

var knownEventTypes = map[EventType]struct{}{
	EventDownloadFailed:    {},
	EventRetryStarted:      {},
	EventRetryFailed:       {},
	EventRecovered:         {},
	EventMovedToDeadLetter: {},
	EventQueuePolled:       {},
	EventQueueStateChanged: {},
	EventServiceError:      {},
}

// Known reports whether t is a publishable event type.
// The wildcard is a subscription channel, not a publishable type.
func (t EventType) Known() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// Payload is the typed, event-type-specific body of an envelope.
type Payload interface {
	EventType() EventType
}

// Envelope is an immutable record published on the event bus.
// CorrelationID groups all events of one item lifecycle; CausationID
// points at the event that directly caused this one.
type Envelope struct {
	ID            string    `json:"id"`
	Type          EventType `json:"event_type"`
	CorrelationID string    `json:"correlation_id"`
	CausationID   string    `json:"causation_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Payload       Payload   `json:"payload"`
}

// NewEvent starts a new lifecycle (no causation).
func NewEvent(correlationID string, p Payload) *Envelope {
	return &Envelope{
		ID:            uuid.New().String(),
		Type:          p.EventType(),
		CorrelationID: correlationID,
		Timestamp:     time.Now(),
		Payload:       p,
	}
}

// Caused derives a child event from e: same correlation id, causation
// set to e's id.
func (e *Envelope) Caused(p Payload) *Envelope {
	return &Envelope{
		ID:            uuid.New().String(),
		Type:          p.EventType(),
		CorrelationID: e.CorrelationID,
		CausationID:   e.ID,
		Timestamp:     time.Now(),
		Payload:       p,
	}
}

// RawPayload carries a payload restored from storage where the concrete
// type is no longer known. Used for timeline reconstruction.
type RawPayload struct {
	Type EventType       `json:"-"`
	Data json.RawMessage `json:"-"`
}

func (p RawPayload) EventType() EventType { return p.Type }

func (p RawPayload) MarshalJSON() ([]byte, error) {
	if len(p.Data) == 0 {
		return []byte("null"), nil
	}
	return p.Data, nil
}
