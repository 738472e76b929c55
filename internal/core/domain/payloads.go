package domain

import "time"

// DownloadFailedPayload is published by the queue monitor for every item
// newly observed in a failure state.
type DownloadFailedPayload struct {
	ItemID    string          `json:"item_id"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Category  FailureCategory `json:"category"`
	Severity  Severity        `json:"severity"`
	SourceApp SourceApp       `json:"source_app"`
	Quality   string          `json:"quality,omitempty"`
	Release   string          `json:"release,omitempty"`
}

func (DownloadFailedPayload) EventType() EventType { return EventDownloadFailed }

// RetryStartedPayload is published just before a retry strategy is invoked.
type RetryStartedPayload struct {
	ItemID   string   `json:"item_id"`
	Strategy Strategy `json:"strategy"`
	Attempt  int      `json:"attempt"`
}

func (RetryStartedPayload) EventType() EventType { return EventRetryStarted }

// RetryFailedPayload is published when a retry invocation fails.
type RetryFailedPayload struct {
	ItemID   string   `json:"item_id"`
	Strategy Strategy `json:"strategy"`
	Attempt  int      `json:"attempt"`
	Error    string   `json:"error"`
}

func (RetryFailedPayload) EventType() EventType { return EventRetryFailed }

// RecoveredPayload is published when a retry invocation succeeds.
type RecoveredPayload struct {
	ItemID   string   `json:"item_id"`
	Strategy Strategy `json:"strategy"`
	Attempts int      `json:"attempts"`
}

func (RecoveredPayload) EventType() EventType { return EventRecovered }

// DeadLetterPayload is published once when an item exhausts its retries.
type DeadLetterPayload struct {
	ItemID   string `json:"item_id"`
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason"`
}

func (DeadLetterPayload) EventType() EventType { return EventMovedToDeadLetter }

// QueuePolledPayload is the per-cycle heartbeat, published even when the
// cycle found nothing.
type QueuePolledPayload struct {
	ActiveItems int           `json:"active_items"`
	NewFailures int           `json:"new_failures"`
	Duration    time.Duration `json:"duration_ns"`
}

func (QueuePolledPayload) EventType() EventType { return EventQueuePolled }

// QueueStateChangedPayload records a non-failure item transition.
type QueueStateChangedPayload struct {
	ItemID    string    `json:"item_id"`
	Title     string    `json:"title"`
	FromState ItemState `json:"from_state"`
	ToState   ItemState `json:"to_state"`
}

func (QueueStateChangedPayload) EventType() EventType { return EventQueueStateChanged }

// ServiceErrorPayload reports a transient failure of an external capability.
type ServiceErrorPayload struct {
	Component string `json:"component"`
	Error     string `json:"error"`
}

func (ServiceErrorPayload) EventType() EventType { return EventServiceError }
