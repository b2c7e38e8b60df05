// Package report renders verdicts, plans, run summaries and store contents.
package report

import (
	"time"

	"github.com/Sumatoshi-tech/duvet/pkg/impact"
	"github.com/Sumatoshi-tech/duvet/pkg/selection"
)

// VerdictView is the serializable form of a verdict.
type VerdictView struct {
	Files    map[string][]int `json:"files,omitempty"    yaml:"files,omitempty"`
	Test     string           `json:"test"               yaml:"test"`
	Reason   string           `json:"reason"             yaml:"reason"`
	Baseline string           `json:"baseline,omitempty" yaml:"baseline,omitempty"`
	Error    string           `json:"error,omitempty"    yaml:"error,omitempty"`
	Modified bool             `json:"modified"           yaml:"modified"`
}

// NewVerdictView converts a verdict.
func NewVerdictView(verdict impact.Verdict) VerdictView {
	view := VerdictView{
		Test:     verdict.Test.String(),
		Reason:   string(verdict.Reason),
		Files:    verdict.Files,
		Modified: verdict.Modified,
	}

	if verdict.HasBaseline() {
		view.Baseline = string(verdict.Commit)
	}

	if verdict.Err != nil {
		view.Error = verdict.Err.Error()
	}

	return view
}

// CommitView describes the baseline commit of a verdict.
type CommitView struct {
	When    time.Time `json:"when"    yaml:"when"`
	Author  string    `json:"author"  yaml:"author"`
	Summary string    `json:"summary" yaml:"summary"`
}

// ExplainView is a verdict with its baseline commit, when known.
type ExplainView struct {
	VerdictView `yaml:",inline"`

	Commit *CommitView `json:"commit,omitempty" yaml:"commit,omitempty"`
}

// DecisionView is one planned test.
type DecisionView struct {
	VerdictView `yaml:",inline"`

	Run bool `json:"run" yaml:"run"`
}

// PlanView is the serializable form of a plan.
type PlanView struct {
	Tests    []DecisionView `json:"tests"    yaml:"tests"`
	Total    int            `json:"total"    yaml:"total"`
	ToRun    int            `json:"to_run"   yaml:"to_run"`
	Modified int            `json:"modified" yaml:"modified"`
}

// NewPlanView converts a plan.
func NewPlanView(plan selection.Plan) PlanView {
	view := PlanView{
		Tests:    make([]DecisionView, 0, len(plan.Decisions)),
		Total:    len(plan.Decisions),
		ToRun:    len(plan.Run()),
		Modified: plan.Modified(),
	}

	for _, decision := range plan.Decisions {
		view.Tests = append(view.Tests, DecisionView{VerdictView: NewVerdictView(decision.Verdict), Run: decision.Run})
	}

	return view
}
