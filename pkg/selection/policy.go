// Package selection skips or reorders tests using impact verdicts.
package selection

import (
	"context"
	"slices"

	"github.com/Sumatoshi-tech/duvet/pkg/coverage"
	"github.com/Sumatoshi-tech/duvet/pkg/impact"
)

// Analyzer produces verdicts.
type Analyzer interface {
	Explain(ctx context.Context, test coverage.TestID) impact.Verdict
}

// Policy applies skip mode and sort mode.
type Policy struct {
	analyzer Analyzer
	// Skip drops tests whose verdict is stable.
	Skip bool
	// Sort runs modified tests first.
	Sort bool
}

// NewPolicy creates a policy over analyzer.
func NewPolicy(analyzer Analyzer, skip, sortByImpact bool) *Policy {
	return &Policy{analyzer: analyzer, Skip: skip, Sort: sortByImpact}
}

// Decision says whether a test runs.
type Decision struct {
	Verdict impact.Verdict `json:"verdict" yaml:"verdict"`
	Run     bool           `json:"run"     yaml:"run"`
}

// Outcome returns OutcomeSkipped for a skipped test, else "" since the
// outcome of a run test is only known after execution.
func (d Decision) Outcome() Outcome {
	if d.Run {
		return ""
	}

	return OutcomeSkipped
}

// Decide returns the decision for one test. Without skip mode every test runs.
func (p *Policy) Decide(ctx context.Context, test coverage.TestID) Decision {
	verdict := p.analyzer.Explain(ctx, test)

	return Decision{Verdict: verdict, Run: !p.Skip || verdict.Modified}
}

// Order returns tests sorted modified first, then stable, each group in
// ascending TestID order.
func (p *Policy) Order(ctx context.Context, tests []coverage.TestID) []coverage.TestID {
	decisions := make([]Decision, 0, len(tests))
	for _, test := range tests {
		decisions = append(decisions, Decision{Verdict: p.analyzer.Explain(ctx, test), Run: true})
	}

	sortDecisions(decisions)

	ordered := make([]coverage.TestID, 0, len(decisions))
	for _, decision := range decisions {
		ordered = append(ordered, decision.Verdict.Test)
	}

	return ordered
}

func sortDecisions(decisions []Decision) {
	slices.SortStableFunc(decisions, func(a, b Decision) int {
		if a.Verdict.Modified != b.Verdict.Modified {
			if a.Verdict.Modified {
				return -1
			}

			return 1
		}

		return a.Verdict.Test.Compare(b.Verdict.Test)
	})
}

// Plan is the decisions for a suite, in execution order.
type Plan struct {
	Decisions []Decision `json:"decisions" yaml:"decisions"`
}

// Plan decides every test and, in sort mode, orders them.
func (p *Policy) Plan(ctx context.Context, tests []coverage.TestID) Plan {
	decisions := make([]Decision, 0, len(tests))
	for _, test := range tests {
		decisions = append(decisions, p.Decide(ctx, test))
	}

	if p.Sort {
		sortDecisions(decisions)
	}

	return Plan{Decisions: decisions}
}

// Run returns the tests to execute, in order.
func (pl Plan) Run() []coverage.TestID {
	return pl.filter(true)
}

// Skipped returns the tests not run.
func (pl Plan) Skipped() []coverage.TestID {
	return pl.filter(false)
}

// Modified returns the number of tests judged modified.
func (pl Plan) Modified() int {
	count := 0

	for _, decision := range pl.Decisions {
		if decision.Verdict.Modified {
			count++
		}
	}

	return count
}

func (pl Plan) filter(run bool) []coverage.TestID {
	var tests []coverage.TestID

	for _, decision := range pl.Decisions {
		if decision.Run == run {
			tests = append(tests, decision.Verdict.Test)
		}
	}

	return tests
}
