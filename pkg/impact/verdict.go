package impact

import (
	"maps"
	"slices"

	"github.com/Sumatoshi-tech/duvet/pkg/coverage"
)

// Reason explains a verdict.
type Reason string

// Verdict reasons. Every reason except ReasonStable means modified.
const (
	ReasonNoHistory       Reason = "no-history"
	ReasonNewTest         Reason = "new-test"
	ReasonUnusableRecord  Reason = "unusable-record"
	ReasonUninterpretable Reason = "uninterpretable-record"
	ReasonRepositoryError Reason = "repository-error"
	ReasonStoreError      Reason = "store-error"
	ReasonChangedLines    Reason = "changed-lines"
	ReasonStable          Reason = "stable"
	ReasonDisabled        Reason = "disabled"
)

// Verdict is the analyzer's decision for one test.
type Verdict struct {
	Test   coverage.TestID   `json:"test"             yaml:"test"`
	Reason Reason            `json:"reason"           yaml:"reason"`
	Commit coverage.CommitID `json:"commit,omitempty" yaml:"commit,omitempty"`
	// Files maps absolute paths to executed lines that intersect the change.
	Files map[string][]int `json:"files,omitempty" yaml:"files,omitempty"`
	Err   error            `json:"-"               yaml:"-"`

	Modified bool `json:"modified" yaml:"modified"`
}

// HasBaseline reports whether a historical record was located.
func (v Verdict) HasBaseline() bool {
	return v.Commit != coverage.DirtyCommit
}

// FileNames returns the intersecting files in ascending order.
func (v Verdict) FileNames() []string {
	return slices.Sorted(maps.Keys(v.Files))
}

// ChangedLineCount returns the number of intersecting lines over all files.
func (v Verdict) ChangedLineCount() int {
	total := 0
	for _, lines := range v.Files {
		total += len(lines)
	}

	return total
}

func modified(test coverage.TestID, reason Reason) Verdict {
	return Verdict{Test: test, Reason: reason, Modified: true}
}
