package domain

import "time"

// RecordStatus is the lifecycle state of a retry record.
type RecordStatus string

const (
	RecordStatusNew          RecordStatus = "new"
	RecordStatusRetrying     RecordStatus = "retrying"
	RecordStatusRecovered    RecordStatus = "recovered"
	RecordStatusDeadLettered RecordStatus = "dead_lettered"
)

// FailureCategory is assigned by the first matching classifier.
type FailureCategory string

const (
	CategoryIncomplete        FailureCategory = "incomplete"
	CategoryPasswordProtected FailureCategory = "password_protected"
	CategoryUnpackFailed      FailureCategory = "unpack_failed"
	CategoryDuplicate         FailureCategory = "duplicate"
	CategoryDiskSpace         FailureCategory = "disk_space"
	CategoryCorrupt           FailureCategory = "corrupt"
	CategoryPropagation       FailureCategory = "propagation"
	CategoryUnknown           FailureCategory = "unknown"
)

// Severity of a classified failure.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Strategy names one retry approach in the fixed priority order.
type Strategy string

const (
	StrategyPlainRetry         Strategy = "plain_retry"
	StrategyQualityFallback    Strategy = "quality_fallback"
	StrategyAlternativeRelease Strategy = "alternative_release"
)

// SourceApp is the upstream consumer that owns a queue item.
type SourceApp string

const (
	SourceShowManager  SourceApp = "show-manager"
	SourceMovieManager SourceApp = "movie-manager"
	SourceUnknown      SourceApp = "unknown"
)

// RetryRecord tracks the recovery lifecycle of one monitored item.
// Mutated only by the recovery orchestrator; attempt_count never exceeds
// the configured maximum before in_dead_letter becomes true.
type RetryRecord struct {
	ID               string          `json:"id"`
	ItemID           string          `json:"item_id"`
	CorrelationID    string          `json:"correlation_id"`
	Status           RecordStatus    `json:"status"`
	AttemptCount     int             `json:"attempt_count"`
	NextEligibleTime time.Time       `json:"next_eligible_time"`
	LastStrategy     Strategy        `json:"last_strategy,omitempty"`
	Category         FailureCategory `json:"failure_category"`
	Severity         Severity        `json:"severity"`
	SourceApp        SourceApp       `json:"source_application"`
	InDeadLetter     bool            `json:"in_dead_letter"`
	Quality          string          `json:"quality,omitempty"`
	Release          string          `json:"release,omitempty"`
	LastError        string          `json:"last_error,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
