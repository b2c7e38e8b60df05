package report_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/duvet/pkg/coverage"
	"github.com/Sumatoshi-tech/duvet/pkg/gotest"
	"github.com/Sumatoshi-tech/duvet/pkg/impact"
	"github.com/Sumatoshi-tech/duvet/pkg/report"
	"github.com/Sumatoshi-tech/duvet/pkg/selection"
	"github.com/Sumatoshi-tech/duvet/pkg/store"
)

func TestMain(m *testing.M) {
	color.NoColor = true

	os.Exit(m.Run())
}

const baseline = coverage.CommitID("0123456789abcdef0123456789abcdef01234567")

func samplePlan() selection.Plan {
	return selection.Plan{Decisions: []selection.Decision{
		{
			Verdict: impact.Verdict{
				Test:     coverage.NewTestID("pkg", "TestChanged"),
				Reason:   impact.ReasonChangedLines,
				Commit:   baseline,
				Files:    map[string][]int{"/src/a.go": {3, 4}},
				Modified: true,
			},
			Run: true,
		},
		{
			Verdict: impact.Verdict{
				Test:   coverage.NewTestID("pkg", "TestStable"),
				Reason: impact.ReasonStable,
				Commit: baseline,
			},
		},
		{
			Verdict: impact.Verdict{
				Test:     coverage.NewTestID("pkg", "TestNew"),
				Reason:   impact.ReasonNoHistory,
				Modified: true,
			},
			Run: true,
		},
	}}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"text", "JSON", "yaml"} {
		_, err := report.ParseFormat(name)
		require.NoError(t, err, name)
	}

	_, err := report.ParseFormat("xml")
	require.ErrorIs(t, err, report.ErrUnknownFormat)
}

func TestFormatLines(t *testing.T) {
	t.Parallel()

	assert.Empty(t, report.FormatLines(nil))
	assert.Equal(t, "7", report.FormatLines([]int{7}))
	assert.Equal(t, "1-3, 7, 9-10", report.FormatLines([]int{1, 2, 3, 7, 9, 10}))
}

func TestWritePlanText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, report.WritePlan(&buf, samplePlan(), report.FormatText))

	out := buf.String()
	assert.Contains(t, out, "pkg::TestChanged")
	assert.Contains(t, out, "changed-lines")
	assert.Contains(t, out, "01234567")
	assert.Contains(t, out, "skip")
	assert.Contains(t, out, "3 tests, 2 to run, 2 modified")
	assert.NotContains(t, out, "DIRTY")
}

func TestWritePlanJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, report.WritePlan(&buf, samplePlan(), report.FormatJSON))

	var view report.PlanView
	require.NoError(t, json.Unmarshal(buf.Bytes(), &view))

	assert.Equal(t, 3, view.Total)
	assert.Equal(t, 2, view.ToRun)
	assert.Equal(t, 2, view.Modified)
	require.Len(t, view.Tests, 3)
	assert.Equal(t, "pkg::TestChanged", view.Tests[0].Test)
	assert.Equal(t, []int{3, 4}, view.Tests[0].Files["/src/a.go"])
	assert.False(t, view.Tests[1].Run)
	assert.Empty(t, view.Tests[2].Baseline)
}

func TestWritePlanYAML(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, report.WritePlan(&buf, samplePlan(), report.FormatYAML))

	var view report.PlanView
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &view))

	require.Len(t, view.Tests, 3)
	assert.Equal(t, "stable", view.Tests[1].Reason)
	assert.Equal(t, string(baseline), view.Tests[1].Baseline)
}

func TestSavePlan(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "plan.json")
	require.NoError(t, report.SavePlan(jsonPath, samplePlan()))

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)

	var view report.PlanView
	require.NoError(t, json.Unmarshal(data, &view))
	assert.Equal(t, 3, view.Total)

	yamlPath := filepath.Join(dir, "plan.yml")
	require.NoError(t, report.SavePlan(yamlPath, samplePlan()))

	data, err = os.ReadFile(yamlPath)
	require.NoError(t, err)

	view = report.PlanView{}
	require.NoError(t, yaml.Unmarshal(data, &view))
	assert.Equal(t, 3, view.Total)

	err = report.SavePlan(filepath.Join(dir, "missing", "plan.json"), samplePlan())
	require.Error(t, err)
}

func TestWriteVerdictJSONCommit(t *testing.T) {
	t.Parallel()

	verdict := impact.Verdict{Test: coverage.NewTestID("pkg", "TestStable"), Reason: impact.ReasonStable, Commit: baseline}
	commit := &report.CommitView{Author: "Ada <ada@example.com>", Summary: "Add calc", When: time.Unix(1700000000, 0).UTC()}

	var buf bytes.Buffer

	require.NoError(t, report.WriteVerdict(&buf, verdict, commit, "", report.FormatJSON))

	var view report.ExplainView
	require.NoError(t, json.Unmarshal(buf.Bytes(), &view))
	assert.Equal(t, "stable", view.Reason)
	require.NotNil(t, view.Commit)
	assert.Equal(t, "Add calc", view.Commit.Summary)
	assert.True(t, commit.When.Equal(view.Commit.When))

	buf.Reset()
	require.ErrorIs(t, report.WriteVerdict(&buf, verdict, nil, "", report.Format("xml")), report.ErrUnknownFormat)
}

func TestWriteVerdictText(t *testing.T) {
	t.Parallel()

	verdict := impact.Verdict{
		Test:     coverage.NewTestID("pkg", "TestChanged"),
		Reason:   impact.ReasonChangedLines,
		Commit:   baseline,
		Files:    map[string][]int{"/src/b.go": {9}, "/src/a.go": {1, 2, 3}},
		Modified: true,
	}

	var buf bytes.Buffer

	commit := &report.CommitView{Author: "Ada <ada@example.com>", Summary: "Add calc", When: time.Now().Add(-time.Hour)}

	require.NoError(t, report.WriteVerdict(&buf, verdict, commit, "--- a\n+++ b\n", report.FormatText))

	out := buf.String()
	assert.Contains(t, out, "commit:   Add calc (Ada <ada@example.com>, 1 hour ago)")
	assert.Contains(t, out, "verdict:  modified")
	assert.Contains(t, out, "baseline: "+string(baseline))
	assert.Contains(t, out, "1-3")
	assert.Contains(t, out, "--- a\n+++ b\n")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("/src/a.go")), bytes.Index(buf.Bytes(), []byte("/src/b.go")))
}

func TestWriteVerdictError(t *testing.T) {
	t.Parallel()

	verdict := impact.Verdict{
		Test:     coverage.NewTestID("pkg", "TestBroken"),
		Reason:   impact.ReasonRepositoryError,
		Err:      errors.New("object not found"),
		Modified: true,
	}

	var buf bytes.Buffer

	require.NoError(t, report.WriteVerdict(&buf, verdict, nil, "", report.FormatText))
	assert.Contains(t, buf.String(), "baseline: none")
	assert.Contains(t, buf.String(), "error:    object not found")

	buf.Reset()
	require.NoError(t, report.WriteVerdict(&buf, verdict, nil, "", report.FormatJSON))

	var view report.VerdictView
	require.NoError(t, json.Unmarshal(buf.Bytes(), &view))
	assert.Equal(t, "object not found", view.Error)
	assert.True(t, view.Modified)
}

func TestWriteSummary(t *testing.T) {
	t.Parallel()

	summary := &gotest.Summary{
		RunID: "run-1",
		Results: []gotest.Result{
			{Test: coverage.NewTestID("pkg", "TestA"), Outcome: selection.OutcomePassed, Duration: time.Second},
			{Test: coverage.NewTestID("pkg", "TestB"), Outcome: selection.OutcomeFailed},
			{Test: coverage.NewTestID("pkg", "TestC"), Outcome: selection.OutcomeSkipped, Reason: impact.ReasonStable},
		},
	}

	var buf bytes.Buffer

	require.NoError(t, report.WriteSummary(&buf, summary, report.FormatText))
	assert.Contains(t, buf.String(), "1 passed, 1 failed, 0 errored, 1 skipped")
	assert.Contains(t, buf.String(), "skipped-not-affected")

	buf.Reset()
	require.NoError(t, report.WriteSummary(&buf, summary, report.FormatJSON))

	var decoded gotest.Summary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	assert.Len(t, decoded.Results, 3)
}

func TestWriteStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), store.DefaultFileName))
	require.NoError(t, err)

	t.Cleanup(func() { st.Close() })

	test := coverage.NewTestID("pkg", "TestA")

	record := coverage.NewRecord()
	record.Add("pkg/a", coverage.ModuleCoverage{File: "/src/a.go", Executable: []int{1, 2, 3, 5}, Missed: []int{3}})
	record.Add("pkg/b", coverage.ModuleCoverage{File: "/src/b.go", Executable: []int{1, 2}, Missed: []int{1, 2}})

	data, err := coverage.EncodeRecord(record)
	require.NoError(t, err)
	require.NoError(t, st.Put(ctx, coverage.TestKey(baseline, test), data))

	set := &coverage.TestSet{}
	set.Add(test)

	data, err = coverage.EncodeTestSet(set)
	require.NoError(t, err)
	require.NoError(t, st.Put(ctx, coverage.TestSetKey(baseline), data))

	data, err = coverage.EncodeRunInfo(&coverage.RunInfo{RunID: "run-1", Tool: "gotest", StartedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, st.Put(ctx, coverage.RunKey(baseline), data))

	var buf bytes.Buffer

	stats, err := report.WriteStore(ctx, &buf, st, false)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Entries)
	assert.Equal(t, 1, stats.Records)

	out := buf.String()
	assert.Contains(t, out, "COVERAGE")
	assert.Contains(t, out, "/src/a.go 1-2, 5")
	assert.NotContains(t, out, "/src/b.go")
	assert.Contains(t, out, "run run-1 by gotest")
	assert.Contains(t, out, "\tpkg::TestA")

	buf.Reset()

	_, err = report.WriteStore(ctx, &buf, st, true)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "/src/b.go")
}

func TestWriteStoreCorruptRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), store.DefaultFileName))
	require.NoError(t, err)

	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.Put(ctx, coverage.TestKey(baseline, coverage.NewTestID("pkg", "TestA")), []byte("garbage")))

	var buf bytes.Buffer

	stats, err := report.WriteStore(ctx, &buf, st, false)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Records)
	assert.Contains(t, buf.String(), "uninterpretable")
}
