// Package gotest drives `go test` one test at a time, skipping or
// reordering tests by impact and recording per-test coverage.
package gotest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"github.com/Sumatoshi-tech/duvet/pkg/collect"
	"github.com/Sumatoshi-tech/duvet/pkg/coverage"
	"github.com/Sumatoshi-tech/duvet/pkg/impact"
	"github.com/Sumatoshi-tech/duvet/pkg/linediff"
	"github.com/Sumatoshi-tech/duvet/pkg/recorder"
	"github.com/Sumatoshi-tech/duvet/pkg/selection"
)

// Sentinel errors.
var (
	ErrMalformedTestID = errors.New("go test id must be import path and function name")
	ErrMissingProfile  = errors.New("go test wrote no cover profile")
)

// Options configures a Driver.
type Options struct {
	Runner   Runner
	Logger   *slog.Logger
	Workdir  string
	GoBinary string
	// CoverPkg is passed to -coverpkg; empty covers the package under test.
	CoverPkg string
	// IncludeTestSources records each test's own _test.go files.
	IncludeTestSources bool
}

// Driver runs a suite through the selection policy and recorder.
type Driver struct {
	runner   Runner
	policy   *selection.Policy
	recorder *recorder.Recorder
	logger   *slog.Logger
	workdir  string
	goBin    string
	coverPkg string
	testSrc  bool
}

// New creates a driver.
func New(policy *selection.Policy, rec *recorder.Recorder, opts Options) *Driver {
	d := &Driver{
		runner:   opts.Runner,
		policy:   policy,
		recorder: rec,
		logger:   opts.Logger,
		workdir:  opts.Workdir,
		goBin:    opts.GoBinary,
		coverPkg: opts.CoverPkg,
		testSrc:  opts.IncludeTestSources,
	}

	if d.runner == nil {
		d.runner = ExecRunner{}
	}

	if d.logger == nil {
		d.logger = slog.Default()
	}

	if d.goBin == "" {
		d.goBin = "go"
	}

	return d
}

// Result is the outcome of one test.
type Result struct {
	Test     coverage.TestID   `json:"test"`
	Outcome  selection.Outcome `json:"outcome"`
	Reason   impact.Reason     `json:"reason"`
	Output   string            `json:"output,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// Summary collects the results of a run in execution order.
type Summary struct {
	Results []Result `json:"results"`
	RunID   string   `json:"run_id"`
}

// Count returns the number of results with the given outcome.
func (s *Summary) Count(outcome selection.Outcome) int {
	n := 0

	for _, result := range s.Results {
		if result.Outcome == outcome {
			n++
		}
	}

	return n
}

// Failed reports whether any test failed or errored.
func (s *Summary) Failed() bool {
	return s.Count(selection.OutcomeFailed)+s.Count(selection.OutcomeErrored) > 0
}

// Run discovers the tests of patterns and runs them. Cancelling ctx stops
// the run between tests; the partial summary is returned with ctx's error.
func (d *Driver) Run(ctx context.Context, patterns []string) (*Summary, error) {
	pkgs, err := d.ListPackages(ctx, patterns)
	if err != nil {
		return nil, err
	}

	index := make(map[string]Package, len(pkgs))

	var tests []coverage.TestID

	for _, pkg := range pkgs {
		index[pkg.ImportPath] = pkg

		if !pkg.HasTests() {
			continue
		}

		pkgTests, listErr := d.ListTests(ctx, pkg)
		if listErr != nil {
			return nil, listErr
		}

		tests = append(tests, pkgTests...)
	}

	if d.coverPkg != "" {
		covered, listErr := d.ListPackages(ctx, []string{d.coverPkg})
		if listErr != nil {
			return nil, listErr
		}

		for _, pkg := range covered {
			if _, ok := index[pkg.ImportPath]; !ok {
				index[pkg.ImportPath] = pkg
			}
		}
	}

	return d.RunTests(ctx, tests, index)
}

// RunTests runs tests. pkgs maps import paths to the packages under test
// and the packages their coverage may name.
func (d *Driver) RunTests(ctx context.Context, tests []coverage.TestID, pkgs map[string]Package) (*Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dirs := make(map[string]string, len(pkgs))
	for path, pkg := range pkgs {
		dirs[path] = pkg.Dir
	}

	ctx, info, err := d.recorder.BeginRun(ctx, "gotest")
	if err != nil {
		return nil, err
	}

	summary := &Summary{RunID: info.RunID}
	plan := d.policy.Plan(ctx, tests)

	d.logger.InfoContext(ctx, "running tests",
		"tests", len(tests), "to_run", len(plan.Run()), "modified", plan.Modified())

	profileDir, err := os.MkdirTemp("", "duvet-cover-")
	if err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	defer os.RemoveAll(profileDir)

	for idx, decision := range plan.Decisions {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return summary, ctxErr
		}

		test := decision.Verdict.Test

		if !decision.Run {
			summary.Results = append(summary.Results, Result{
				Test: test, Outcome: selection.OutcomeSkipped, Reason: decision.Verdict.Reason,
			})

			continue
		}

		profile := filepath.Join(profileDir, fmt.Sprintf("%d.out", idx))

		result, raw := d.runOne(ctx, test, profile, dirs)
		if raw != nil && d.testSrc {
			sourceErr := addTestSources(raw, pkgs[test[0]])
			if sourceErr != nil {
				d.logger.WarnContext(ctx, "cannot read test sources, recording as errored",
					"test", test.String(), "error", sourceErr)
				result.Outcome = selection.OutcomeErrored
				raw = nil
			}
		}

		result.Reason = decision.Verdict.Reason
		summary.Results = append(summary.Results, result)

		recordErr := d.recorder.Record(ctx, test, raw, result.Outcome)
		if recordErr != nil {
			return summary, fmt.Errorf("record %s: %w", test, recordErr)
		}
	}

	return summary, nil
}

func (d *Driver) runOne(ctx context.Context, test coverage.TestID, profile string, dirs map[string]string) (Result, *collect.RawReport) {
	result := Result{Test: test}

	if len(test) != 2 {
		result.Outcome = selection.OutcomeErrored
		result.Output = fmt.Errorf("%w: %s", ErrMalformedTestID, test).Error()

		return result, nil
	}

	args := []string{
		"test", "-count=1", "-covermode=set",
		"-run", "^" + regexp.QuoteMeta(test[1]) + "$",
		"-coverprofile=" + profile,
	}

	if d.coverPkg != "" {
		args = append(args, "-coverpkg="+d.coverPkg)
	}

	args = append(args, test[0])

	start := time.Now()
	out, err := d.runner.Run(ctx, d.workdir, d.goBin, args...)
	result.Duration = time.Since(start)
	result.Output = string(out)

	switch {
	case errors.Is(err, ErrTestFailed):
		result.Outcome = selection.OutcomeFailed
	case err != nil:
		result.Outcome = selection.OutcomeErrored
	default:
		result.Outcome = selection.OutcomePassed
	}

	d.logger.DebugContext(ctx, "test finished",
		"test", test.String(), "outcome", result.Outcome, "duration", result.Duration)

	if result.Outcome != selection.OutcomePassed {
		return result, nil
	}

	raw, err := readProfile(profile, dirs)
	if err != nil {
		d.logger.WarnContext(ctx, "cannot read cover profile, recording as errored",
			"test", test.String(), "error", err)
		result.Outcome = selection.OutcomeErrored

		return result, nil
	}

	return result, raw
}

func readProfile(path string, dirs map[string]string) (*collect.RawReport, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrMissingProfile
	}

	if err != nil {
		return nil, fmt.Errorf("read cover profile: %w", err)
	}

	return collect.ParseGoCover(bytes.NewReader(data), dirs)
}

// addTestSources adds the test files of pkg to raw as modules with every
// line executed. Cover profiles never instrument _test.go files, so a test
// only sees edits to its own sources this way.
func addTestSources(raw *collect.RawReport, pkg Package) error {
	for _, name := range slices.Concat(pkg.TestGoFiles, pkg.XTestGoFiles) {
		module, err := wholeFileModule(pkg.ImportPath+"/"+name, filepath.Join(pkg.Dir, name))
		if err != nil {
			return err
		}

		raw.Modules = append(raw.Modules, module)
	}

	return nil
}

func wholeFileModule(name, file string) (collect.ModuleReport, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return collect.ModuleReport{}, fmt.Errorf("read test source: %w", err)
	}

	lines := linediff.SplitLines(data)

	module := collect.ModuleReport{Name: name, File: file, Test: true, Executable: make([]int, len(lines))}
	for i := range lines {
		module.Executable[i] = i + 1
	}

	return module, nil
}
