package classify

import (
	"regexp"

	"github.com/hoangnd/queuemedic/internal/core/domain"
)

// Rule is one ordered pattern matcher. The first matching rule wins;
// there is no scoring.
type Rule struct {
	Name     string
	Pattern  *regexp.Regexp
	Category domain.FailureCategory
	Severity domain.Severity
}

// Classifier runs failure text through an ordered rule list.
type Classifier struct {
	rules []Rule
}

// Result of classifying one failure message.
type Result struct {
	Rule     string
	Category domain.FailureCategory
	Severity domain.Severity
	// Matched is false when the default low-confidence category was used.
	Matched bool
}

// New creates a classifier with the given rules, evaluated in order.
func New(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// DefaultRules is the built-in ordering for download client failure text.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "password_protected",
			Pattern:  regexp.MustCompile(`(?i)password[- ]?protected|wrong password|encrypted (archive|rar)`),
			Category: domain.CategoryPasswordProtected,
			Severity: domain.SeverityCritical,
		},
		{
			Name:     "corrupt",
			Pattern:  regexp.MustCompile(`(?i)corrupt|crc (error|failed)|verification failed|par2? (failed|repair)`),
			Category: domain.CategoryCorrupt,
			Severity: domain.SeverityHigh,
		},
		{
			Name:     "unpack_failed",
			Pattern:  regexp.MustCompile(`(?i)unpack(ing)? failed|extraction failed|unrar error`),
			Category: domain.CategoryUnpackFailed,
			Severity: domain.SeverityHigh,
		},
		{
			Name:     "disk_space",
			Pattern:  regexp.MustCompile(`(?i)disk ?space|out of space|no space left`),
			Category: domain.CategoryDiskSpace,
			Severity: domain.SeverityCritical,
		},
		{
			Name:     "incomplete",
			Pattern:  regexp.MustCompile(`(?i)incomplete|missing articles?|too many articles missing`),
			Category: domain.CategoryIncomplete,
			Severity: domain.SeverityMedium,
		},
		{
			Name:     "duplicate",
			Pattern:  regexp.MustCompile(`(?i)duplicate`),
			Category: domain.CategoryDuplicate,
			Severity: domain.SeverityLow,
		},
		{
			Name:     "propagation",
			Pattern:  regexp.MustCompile(`(?i)propagat(ion|ing)|try again later|not yet available`),
			Category: domain.CategoryPropagation,
			Severity: domain.SeverityLow,
		},
	}
}

// Classify returns the first matching rule's category and severity, or the
// default low-confidence category when nothing matches. Classification
// never blocks processing.
func (c *Classifier) Classify(message string) Result {
	for _, r := range c.rules {
		if r.Pattern.MatchString(message) {
			return Result{
				Rule:     r.Name,
				Category: r.Category,
				Severity: r.Severity,
				Matched:  true,
			}
		}
	}
	return Result{
		Rule:     "default",
		Category: domain.CategoryUnknown,
		Severity: domain.SeverityLow,
	}
}
