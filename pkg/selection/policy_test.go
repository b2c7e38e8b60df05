package selection_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/duvet/pkg/coverage"
	"github.com/Sumatoshi-tech/duvet/pkg/impact"
	"github.com/Sumatoshi-tech/duvet/pkg/selection"
)

type fakeAnalyzer struct {
	modified map[string]bool
	calls    int
}

func (f *fakeAnalyzer) Explain(_ context.Context, test coverage.TestID) impact.Verdict {
	f.calls++

	if f.modified[test.Key()] {
		return impact.Verdict{Test: test, Modified: true, Reason: impact.ReasonChangedLines}
	}

	return impact.Verdict{Test: test, Reason: impact.ReasonStable}
}

func suite() ([]coverage.TestID, *fakeAnalyzer) {
	t1 := coverage.NewTestID("pkg", "T1")
	t2 := coverage.NewTestID("pkg", "T2")
	t3 := coverage.NewTestID("pkg", "T3")
	t4 := coverage.NewTestID("pkg", "T4")

	analyzer := &fakeAnalyzer{modified: map[string]bool{t1.Key(): true, t3.Key(): true}}

	return []coverage.TestID{t4, t3, t2, t1}, analyzer
}

func names(tests []coverage.TestID) []string {
	out := make([]string, 0, len(tests))
	for _, test := range tests {
		out = append(out, test[len(test)-1])
	}

	return out
}

func TestOrder_ModifiedFirst(t *testing.T) {
	t.Parallel()

	tests, analyzer := suite()
	policy := selection.NewPolicy(analyzer, false, true)

	assert.Equal(t, []string{"T1", "T3", "T2", "T4"}, names(policy.Order(context.Background(), tests)))
}

func TestDecide_SkipMode(t *testing.T) {
	t.Parallel()

	tests, analyzer := suite()
	policy := selection.NewPolicy(analyzer, true, false)
	ctx := context.Background()

	stable := policy.Decide(ctx, tests[0])
	assert.False(t, stable.Run)
	assert.Equal(t, selection.OutcomeSkipped, stable.Outcome())
	assert.False(t, stable.Outcome().IsFailure())

	changed := policy.Decide(ctx, tests[1])
	assert.True(t, changed.Run)
	assert.Empty(t, changed.Outcome())
}

func TestDecide_WithoutSkipEverythingRuns(t *testing.T) {
	t.Parallel()

	tests, analyzer := suite()
	policy := selection.NewPolicy(analyzer, false, false)

	for _, test := range tests {
		assert.True(t, policy.Decide(context.Background(), test).Run)
	}
}

func TestPlan(t *testing.T) {
	t.Parallel()

	tests, analyzer := suite()
	ctx := context.Background()

	plan := selection.NewPolicy(analyzer, true, true).Plan(ctx, tests)
	assert.Equal(t, []string{"T1", "T3"}, names(plan.Run()))
	assert.Equal(t, []string{"T2", "T4"}, names(plan.Skipped()))
	assert.Equal(t, 2, plan.Modified())

	unsorted := selection.NewPolicy(analyzer, false, false).Plan(ctx, tests)
	assert.Equal(t, []string{"T4", "T3", "T2", "T1"}, names(unsorted.Run()))
	assert.Empty(t, unsorted.Skipped())
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	assert.True(t, selection.OutcomeFailed.IsFailure())
	assert.True(t, selection.OutcomeErrored.IsFailure())
	assert.False(t, selection.OutcomePassed.IsFailure())
	assert.False(t, selection.OutcomeSkipped.IsFailure())

	outcome, err := selection.ParseOutcome("errored")
	require.NoError(t, err)
	assert.Equal(t, selection.OutcomeErrored, outcome)

	_, err = selection.ParseOutcome("flaky")
	require.ErrorIs(t, err, selection.ErrUnknownOutcome)
}
