package gotest_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/duvet/pkg/coverage"
	"github.com/Sumatoshi-tech/duvet/pkg/gotest"
	"github.com/Sumatoshi-tech/duvet/pkg/impact"
	"github.com/Sumatoshi-tech/duvet/pkg/recorder"
	"github.com/Sumatoshi-tech/duvet/pkg/selection"
	"github.com/Sumatoshi-tech/duvet/pkg/store"
)

const commitA = coverage.CommitID("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

const goListOutput = `{
	"ImportPath": "example.com/app/calc",
	"Dir": "/src/app/calc",
	"TestGoFiles": ["calc_test.go"]
}
{
	"ImportPath": "example.com/app/util",
	"Dir": "/src/app/util"
}
`

// fakeRunner answers go list and go test invocations.
type fakeRunner struct {
	failing    map[string]bool
	listOutput string
	runs       []string
	noProfile  bool
}

func (f *fakeRunner) Run(_ context.Context, _, name string, args ...string) ([]byte, error) {
	if name != "go" {
		return nil, fmt.Errorf("unexpected binary %s", name)
	}

	switch {
	case args[0] == "list" && f.listOutput != "":
		return []byte(f.listOutput), nil
	case args[0] == "list":
		return []byte(goListOutput), nil
	case args[0] == "test" && args[1] == "-list":
		return []byte("TestAdd\nTestSub\nExampleAdd\nBenchmarkAdd\nok  \texample.com/app/calc\t0.01s\n"), nil
	}

	var test, profile string

	for idx, arg := range args {
		if arg == "-run" {
			test = strings.Trim(args[idx+1], "^$")
		}

		if after, ok := strings.CutPrefix(arg, "-coverprofile="); ok {
			profile = after
		}
	}

	f.runs = append(f.runs, test)

	if f.failing[test] {
		return []byte("--- FAIL: " + test), gotest.ErrTestFailed
	}

	if f.noProfile {
		return []byte("ok"), nil
	}

	content := "mode: set\nexample.com/app/calc/calc.go:3.1,4.2 1 1\nexample.com/app/calc/calc.go:6.1,7.2 1 0\n"

	return []byte("ok"), os.WriteFile(profile, []byte(content), 0o600)
}

type fixedAnalyzer map[string]bool

func (f fixedAnalyzer) Explain(_ context.Context, test coverage.TestID) impact.Verdict {
	if f[test[1]] {
		return impact.Verdict{Test: test, Modified: true, Reason: impact.ReasonChangedLines}
	}

	return impact.Verdict{Test: test, Reason: impact.ReasonStable}
}

func newDriver(t *testing.T, runner gotest.Runner, analyzer selection.Analyzer, skip bool) (*gotest.Driver, *store.Store) {
	t.Helper()

	return newDriverWithOptions(t, analyzer, skip, recorder.FilterOptions{}, gotest.Options{Runner: runner, Workdir: "/src/app"})
}

func newDriverWithOptions(
	t *testing.T, analyzer selection.Analyzer, skip bool, filterOpts recorder.FilterOptions, opts gotest.Options,
) (*gotest.Driver, *store.Store) {
	t.Helper()

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), ".duvet"))
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, st.Close()) })

	filter, err := recorder.NewModuleFilter(filterOpts)
	require.NoError(t, err)

	rec := recorder.New(st, filter, commitA)
	policy := selection.NewPolicy(analyzer, skip, true)

	return gotest.New(policy, rec, opts), st
}

func loadRecord(t *testing.T, st *store.Store, test coverage.TestID) *coverage.Record {
	t.Helper()

	data, ok, err := st.Get(context.Background(), coverage.TestKey(commitA, test))
	require.NoError(t, err)
	require.True(t, ok)

	record, err := coverage.DecodeRecord(data)
	require.NoError(t, err)

	return record
}

func TestRun_RecordsCoverage(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{failing: map[string]bool{"TestSub": true}}
	driver, st := newDriver(t, runner, fixedAnalyzer{"TestSub": true}, false)

	summary, err := driver.Run(context.Background(), []string{"./..."})
	require.NoError(t, err)

	assert.Equal(t, []string{"TestSub", "ExampleAdd", "TestAdd"}, runner.runs)
	assert.Equal(t, 2, summary.Count(selection.OutcomePassed))
	assert.Equal(t, 1, summary.Count(selection.OutcomeFailed))
	assert.True(t, summary.Failed())
	assert.NotEmpty(t, summary.RunID)

	data, ok, err := st.Get(context.Background(), coverage.TestKey(commitA, coverage.NewTestID("example.com/app/calc", "TestAdd")))
	require.NoError(t, err)
	require.True(t, ok)

	record, err := coverage.DecodeRecord(data)
	require.NoError(t, err)

	module := record.Modules["example.com/app/calc/calc.go"]
	assert.Equal(t, filepath.Join("/src/app/calc", "calc.go"), module.File)
	assert.Equal(t, []int{3, 4}, module.ExecutedLines())

	data, ok, err = st.Get(context.Background(), coverage.TestKey(commitA, coverage.NewTestID("example.com/app/calc", "TestSub")))
	require.NoError(t, err)
	require.True(t, ok)

	record, err = coverage.DecodeRecord(data)
	require.NoError(t, err)
	assert.True(t, record.Unusable)
}

func TestRun_SkipsStableTests(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	driver, _ := newDriver(t, runner, fixedAnalyzer{"TestAdd": true}, true)

	summary, err := driver.Run(context.Background(), []string{"./..."})
	require.NoError(t, err)

	assert.Equal(t, []string{"TestAdd"}, runner.runs)
	assert.Equal(t, 2, summary.Count(selection.OutcomeSkipped))
	assert.False(t, summary.Failed())
}

func TestRun_StopsWhenCancelled(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	driver, _ := newDriver(t, runner, fixedAnalyzer{}, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := driver.RunTests(ctx, []coverage.TestID{coverage.NewTestID("example.com/app/calc", "TestAdd")}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, runner.runs)
}

func TestRunTests_MalformedID(t *testing.T) {
	t.Parallel()

	driver, _ := newDriver(t, &fakeRunner{}, fixedAnalyzer{}, false)

	summary, err := driver.RunTests(context.Background(), []coverage.TestID{coverage.NewTestID("only-one-part")}, nil)
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, selection.OutcomeErrored, summary.Results[0].Outcome)
	assert.Contains(t, summary.Results[0].Output, gotest.ErrMalformedTestID.Error())
}

func TestRun_MissingProfileIsErrored(t *testing.T) {
	t.Parallel()

	driver, st := newDriver(t, &fakeRunner{noProfile: true}, fixedAnalyzer{}, false)

	summary, err := driver.Run(context.Background(), []string{"./..."})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Count(selection.OutcomeErrored))
	assert.True(t, summary.Failed())

	record := loadRecord(t, st, coverage.NewTestID("example.com/app/calc", "TestAdd"))
	assert.True(t, record.Unusable)
}

func TestRun_TestSources(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "calc_test.go"), []byte("package calc\n\nfunc TestAdd(t *testing.T) {}\n"), 0o600))

	listOutput := `{"ImportPath": "example.com/app/calc", "Dir": "` + filepath.ToSlash(dir) + `", "TestGoFiles": ["calc_test.go"]}`
	testAdd := coverage.NewTestID("example.com/app/calc", "TestAdd")

	for _, include := range []bool{false, true} {
		driver, st := newDriverWithOptions(t, fixedAnalyzer{}, false,
			recorder.FilterOptions{IncludeTests: true},
			gotest.Options{Runner: &fakeRunner{listOutput: listOutput}, Workdir: dir, IncludeTestSources: include})

		summary, err := driver.Run(context.Background(), []string{"./..."})
		require.NoError(t, err)
		assert.False(t, summary.Failed())

		module, ok := loadRecord(t, st, testAdd).Modules["example.com/app/calc/calc_test.go"]
		assert.Equal(t, include, ok)

		if include {
			assert.Equal(t, filepath.Join(dir, "calc_test.go"), module.File)
			assert.Equal(t, []int{1, 2, 3}, module.ExecutedLines())
		}
	}
}

func TestRun_UnreadableTestSourceIsErrored(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	listOutput := `{"ImportPath": "example.com/app/calc", "Dir": "` + filepath.ToSlash(dir) + `", "TestGoFiles": ["gone_test.go"]}`

	driver, st := newDriverWithOptions(t, fixedAnalyzer{}, false, recorder.FilterOptions{IncludeTests: true},
		gotest.Options{Runner: &fakeRunner{listOutput: listOutput}, Workdir: dir, IncludeTestSources: true})

	summary, err := driver.Run(context.Background(), []string{"./..."})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Count(selection.OutcomeErrored))
	assert.True(t, loadRecord(t, st, coverage.NewTestID("example.com/app/calc", "TestAdd")).Unusable)
}
