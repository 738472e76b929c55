package recovery

import (
	"context"
	"math"
	"time"

	"github.com/hoangnd/queuemedic/internal/core/domain"
)

// SearchConstraints narrow an alternative-release search.
type SearchConstraints struct {
	MaxQuality     string
	ExcludeRelease string
}

// RetryCapability is the external retry surface, implemented by the
// download client and the upstream managers. Timeouts are treated
// identically to failures by the caller.
type RetryCapability interface {
	RetryItem(ctx context.Context, itemID string) error
	SearchAlternative(ctx context.Context, itemID string, constraints SearchConstraints) error
}

// Strategy is one retry approach. Attempt k always runs strategy k;
// selection is deterministic, not adaptive.
type Strategy interface {
	Name() domain.Strategy
	Execute(ctx context.Context, rec *domain.RetryRecord) error
}

// QualityLadder is the fixed ordered fallback list. A quality-ladder
// retry triggers a fresh search at the next rung down.
var QualityLadder = []string{"4K", "2160p", "1080p", "720p", "480p", "SD"}

// NextQuality returns the rung below current. Unknown qualities step to
// 1080p; the bottom rung stays SD.
func NextQuality(current string) string {
	for i, q := range QualityLadder {
		if q == current {
			if i+1 < len(QualityLadder) {
				return QualityLadder[i+1]
			}
			return QualityLadder[len(QualityLadder)-1]
		}
	}
	return "1080p"
}

// PlainRetry re-queues the same item via the download client.
type PlainRetry struct {
	capability RetryCapability
}

func (s *PlainRetry) Name() domain.Strategy { return domain.StrategyPlainRetry }

func (s *PlainRetry) Execute(ctx context.Context, rec *domain.RetryRecord) error {
	return s.capability.RetryItem(ctx, rec.ItemID)
}

// QualityFallback searches again one quality rung down.
type QualityFallback struct {
	capability RetryCapability
}

func (s *QualityFallback) Name() domain.Strategy { return domain.StrategyQualityFallback }

func (s *QualityFallback) Execute(ctx context.Context, rec *domain.RetryRecord) error {
	return s.capability.SearchAlternative(ctx, rec.ItemID, SearchConstraints{
		MaxQuality: NextQuality(rec.Quality),
	})
}

// AlternativeRelease searches for a different release of the same item.
type AlternativeRelease struct {
	capability RetryCapability
}

func (s *AlternativeRelease) Name() domain.Strategy { return domain.StrategyAlternativeRelease }

func (s *AlternativeRelease) Execute(ctx context.Context, rec *domain.RetryRecord) error {
	return s.capability.SearchAlternative(ctx, rec.ItemID, SearchConstraints{
		ExcludeRelease: rec.Release,
	})
}

// DefaultStrategies returns the fixed priority order: plain retry, then
// quality fallback, then alternative release.
func DefaultStrategies(capability RetryCapability) []Strategy {
	return []Strategy{
		&PlainRetry{capability: capability},
		&QualityFallback{capability: capability},
		&AlternativeRelease{capability: capability},
	}
}

// ExponentialBackoff computes retry delays: Base * 2^attempt, capped.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff returns the standard schedule: 5m, 10m, 20m (max 6h).
func DefaultBackoff() ExponentialBackoff {
	return ExponentialBackoff{
		Base: 5 * time.Minute,
		Max:  6 * time.Hour,
	}
}

// Delay returns the backoff for the given number of completed attempts.
func (b ExponentialBackoff) Delay(attempts int) time.Duration {
	d := float64(b.Base) * math.Pow(2, float64(attempts))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}
