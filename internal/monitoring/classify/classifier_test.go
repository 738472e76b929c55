package classify

import (
	"regexp"
	"testing"

	"github.com/hoangnd/queuemedic/internal/core/domain"
)

func TestClassify_PasswordProtectedIsCritical(t *testing.T) {
	c := New(DefaultRules())

	res := c.Classify("Aborted, cannot be completed - archive is password protected")
	if res.Category != domain.CategoryPasswordProtected {
		t.Errorf("category = %s, want %s", res.Category, domain.CategoryPasswordProtected)
	}
	if res.Severity != domain.SeverityCritical {
		t.Errorf("severity = %s, want %s", res.Severity, domain.SeverityCritical)
	}
	if !res.Matched {
		t.Error("expected a rule match")
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	rules := []Rule{
		{Name: "a", Pattern: regexp.MustCompile(`(?i)failed`), Category: domain.CategoryCorrupt, Severity: domain.SeverityHigh},
		{Name: "b", Pattern: regexp.MustCompile(`(?i)failed`), Category: domain.CategoryUnpackFailed, Severity: domain.SeverityLow},
	}
	c := New(rules)

	res := c.Classify("unpack failed")
	if res.Rule != "a" {
		t.Errorf("rule = %s, want first matching rule a", res.Rule)
	}
}

func TestClassify_DefaultCategory(t *testing.T) {
	c := New(DefaultRules())

	res := c.Classify("something nobody has ever seen before")
	if res.Category != domain.CategoryUnknown {
		t.Errorf("category = %s, want %s", res.Category, domain.CategoryUnknown)
	}
	if res.Severity != domain.SeverityLow {
		t.Errorf("severity = %s, want %s", res.Severity, domain.SeverityLow)
	}
	if res.Matched {
		t.Error("default result must not report a match")
	}
}

func TestClassify_KnownPatterns(t *testing.T) {
	c := New(DefaultRules())

	cases := []struct {
		message string
		want    domain.FailureCategory
	}{
		{"Download incomplete: 42 missing articles", domain.CategoryIncomplete},
		{"Unpacking failed, write error or disk is full?", domain.CategoryUnpackFailed},
		{"Duplicate download detected", domain.CategoryDuplicate},
		{"ERROR: no space left on device", domain.CategoryDiskSpace},
		{"Verification failed, CRC error in volume 3", domain.CategoryCorrupt},
		{"Post will not be available, still propagating", domain.CategoryPropagation},
	}

	for _, tc := range cases {
		if got := c.Classify(tc.message).Category; got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.message, got, tc.want)
		}
	}
}
