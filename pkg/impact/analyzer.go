// Package impact decides whether a test may be affected by the changes in the
// working tree since its coverage was last recorded.
package impact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/duvet/pkg/coverage"
	"github.com/Sumatoshi-tech/duvet/pkg/gitlib"
	"github.com/Sumatoshi-tech/duvet/pkg/linediff"
	"github.com/Sumatoshi-tech/duvet/pkg/observability"
)

// ErrMissingRecord is kept on a verdict whose test set lists the test but
// whose record is absent.
var ErrMissingRecord = errors.New("coverage record missing for recorded test")

// History is the view of the repository the analyzer needs.
type History interface {
	CurrentCommit(ctx context.Context) (coverage.CommitID, error)
	WalkAncestors(ctx context.Context, start coverage.CommitID, fn func(coverage.CommitID) (bool, error)) error
	DiffWorkdir(ctx context.Context, commit coverage.CommitID) ([]gitlib.WorkdirChange, error)
	WorkDir() string
}

// Store is the read side of the coverage store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Empty(ctx context.Context) (bool, error)
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = logger
	}
}

// WithTracer sets the tracer used for per-test spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(a *Analyzer) {
		a.tracer = tracer
	}
}

// WithMetrics counts verdicts on m.
func WithMetrics(m *observability.SelectionMetrics) Option {
	return func(a *Analyzer) {
		a.metrics = m
	}
}

// WithDiffer sets the line differ.
func WithDiffer(d *linediff.Differ) Option {
	return func(a *Analyzer) {
		a.differ = d
	}
}

// baselineDiff caches the working-tree diff against one baseline commit.
type baselineDiff struct {
	err     error
	changes map[string]gitlib.WorkdirChange
	// lines memoizes the changed-line set per absolute path.
	lines map[string]map[int]struct{}
}

// Analyzer answers IsModified for the tests of one run. Verdicts are
// memoized until Reset. Not safe for concurrent use.
type Analyzer struct {
	history History
	store   Store
	differ  *linediff.Differ
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.SelectionMetrics

	memo     map[string]Verdict
	sets     map[coverage.CommitID]*coverage.TestSet
	diffs    map[coverage.CommitID]*baselineDiff
	current  *coverage.CommitID
	empty    *bool
	disabled bool
}

// New creates an analyzer over history and store.
func New(history History, store Store, opts ...Option) *Analyzer {
	a := &Analyzer{
		history: history,
		store:   store,
		differ:  linediff.New(linediff.DefaultOptions()),
		logger:  slog.Default(),
		tracer:  nooptrace.NewTracerProvider().Tracer(""),
	}

	for _, opt := range opts {
		opt(a)
	}

	a.Reset()

	return a
}

// Disabled returns an analyzer that reports every test as modified. It is
// used when no repository is available.
func Disabled(opts ...Option) *Analyzer {
	a := New(nil, nil, opts...)
	a.disabled = true

	return a
}

// Enabled reports whether verdicts are computed from history.
func (a *Analyzer) Enabled() bool {
	return !a.disabled
}

// Reset drops memoized verdicts and cached repository state, so the next
// call observes the current working tree.
func (a *Analyzer) Reset() {
	a.memo = make(map[string]Verdict)
	a.sets = make(map[coverage.CommitID]*coverage.TestSet)
	a.diffs = make(map[coverage.CommitID]*baselineDiff)
	a.current = nil
	a.empty = nil
}

// IsModified reports whether test may be affected by pending changes.
// Any failure to decide counts as modified.
func (a *Analyzer) IsModified(ctx context.Context, test coverage.TestID) bool {
	return a.Explain(ctx, test).Modified
}

// Explain returns the memoized verdict for test.
func (a *Analyzer) Explain(ctx context.Context, test coverage.TestID) Verdict {
	key := test.Key()
	if verdict, ok := a.memo[key]; ok {
		return verdict
	}

	ctx, span := a.tracer.Start(ctx, "impact.Explain",
		trace.WithAttributes(attribute.String("duvet.test", test.String())))
	defer span.End()

	start := time.Now()
	verdict := a.analyze(ctx, test)

	a.metrics.RecordVerdict(ctx, string(verdict.Reason), verdict.Modified, time.Since(start))

	span.SetAttributes(
		attribute.String("duvet.reason", string(verdict.Reason)),
		attribute.Bool("duvet.modified", verdict.Modified),
		attribute.String("duvet.baseline", verdict.Commit.String()),
	)

	if verdict.Err != nil {
		span.RecordError(verdict.Err)
		span.SetStatus(codes.Error, verdict.Err.Error())
		a.logger.WarnContext(ctx, "cannot determine impact, assuming modified",
			"test", test.String(), "reason", verdict.Reason, "error", verdict.Err)
	} else {
		a.logger.DebugContext(ctx, "impact verdict",
			"test", test.String(), "reason", verdict.Reason, "baseline", verdict.Commit.Short(),
			"changed_lines", verdict.ChangedLineCount())
	}

	a.memo[key] = verdict

	return verdict
}

func (a *Analyzer) analyze(ctx context.Context, test coverage.TestID) Verdict {
	if a.disabled {
		return modified(test, ReasonDisabled)
	}

	empty, err := a.storeEmpty(ctx)
	if err != nil {
		return a.fail(test, ReasonStoreError, err)
	}

	if empty {
		return modified(test, ReasonNoHistory)
	}

	baseline, found, verdict := a.findBaseline(ctx, test)
	if verdict != nil {
		return *verdict
	}

	if !found {
		return modified(test, ReasonNewTest)
	}

	record, verdict := a.loadRecord(ctx, test, baseline)
	if verdict != nil {
		return *verdict
	}

	executed := executedByFile(record)

	files, err := a.intersect(ctx, baseline, executed)
	if err != nil {
		v := a.fail(test, ReasonRepositoryError, err)
		v.Commit = baseline

		return v
	}

	if len(files) == 0 {
		return Verdict{Test: test, Reason: ReasonStable, Commit: baseline}
	}

	return Verdict{Test: test, Reason: ReasonChangedLines, Commit: baseline, Files: files, Modified: true}
}

func (a *Analyzer) storeEmpty(ctx context.Context) (bool, error) {
	if a.empty != nil {
		return *a.empty, nil
	}

	empty, err := a.store.Empty(ctx)
	if err != nil {
		return false, fmt.Errorf("check store entries: %w", err)
	}

	a.empty = &empty

	return empty, nil
}

func (a *Analyzer) fail(test coverage.TestID, reason Reason, err error) Verdict {
	verdict := modified(test, reason)
	verdict.Err = err

	return verdict
}

func (a *Analyzer) currentCommit(ctx context.Context) (coverage.CommitID, error) {
	if a.current != nil {
		return *a.current, nil
	}

	commit, err := a.history.CurrentCommit(ctx)
	if err != nil {
		return coverage.DirtyCommit, fmt.Errorf("resolve current commit: %w", err)
	}

	a.current = &commit

	return commit, nil
}

// findBaseline walks first-parent history from the current commit and
// returns the newest commit whose test set contains test.
func (a *Analyzer) findBaseline(ctx context.Context, test coverage.TestID) (coverage.CommitID, bool, *Verdict) {
	current, err := a.currentCommit(ctx)
	if err != nil {
		v := a.fail(test, ReasonRepositoryError, err)

		return coverage.DirtyCommit, false, &v
	}

	var (
		baseline coverage.CommitID
		found    bool
		storeErr error
	)

	walkErr := a.history.WalkAncestors(ctx, current, func(commit coverage.CommitID) (bool, error) {
		set, setErr := a.testSet(ctx, commit)
		if setErr != nil {
			storeErr = setErr

			return false, nil
		}

		if set.Contains(test) {
			baseline, found = commit, true

			return false, nil
		}

		return true, nil
	})

	switch {
	case storeErr != nil:
		v := a.fail(test, ReasonStoreError, storeErr)

		return coverage.DirtyCommit, false, &v
	case walkErr != nil:
		v := a.fail(test, ReasonRepositoryError, fmt.Errorf("walk history from %s: %w", current, walkErr))

		return coverage.DirtyCommit, false, &v
	}

	return baseline, found, nil
}

// testSet returns the cached test set of commit. An undecodable set is
// treated as empty so the walk can fall back to an older baseline.
func (a *Analyzer) testSet(ctx context.Context, commit coverage.CommitID) (*coverage.TestSet, error) {
	if set, ok := a.sets[commit]; ok {
		return set, nil
	}

	data, ok, err := a.store.Get(ctx, coverage.TestSetKey(commit))
	if err != nil {
		return nil, fmt.Errorf("read test set of %s: %w", commit, err)
	}

	set := &coverage.TestSet{}

	if ok {
		decoded, decodeErr := coverage.DecodeTestSet(data)
		if decodeErr != nil {
			a.logger.WarnContext(ctx, "ignoring corrupt test set", "commit", commit.String(), "error", decodeErr)
		} else {
			set = decoded
		}
	}

	a.sets[commit] = set

	return set, nil
}

func (a *Analyzer) loadRecord(
	ctx context.Context, test coverage.TestID, baseline coverage.CommitID,
) (*coverage.Record, *Verdict) {
	failAt := func(reason Reason, err error) *Verdict {
		v := a.fail(test, reason, err)
		v.Commit = baseline

		return &v
	}

	data, ok, err := a.store.Get(ctx, coverage.TestKey(baseline, test))
	if err != nil {
		return nil, failAt(ReasonStoreError, fmt.Errorf("read record: %w", err))
	}

	if !ok {
		return nil, failAt(ReasonUninterpretable, fmt.Errorf("%w at %s", ErrMissingRecord, baseline))
	}

	record, err := coverage.DecodeRecord(data)
	if err != nil {
		return nil, failAt(ReasonUninterpretable, err)
	}

	if record.Unusable {
		v := modified(test, ReasonUnusableRecord)
		v.Commit = baseline

		return nil, &v
	}

	return record, nil
}

func executedByFile(record *coverage.Record) map[string]map[int]struct{} {
	files := record.ExecutedByFile()
	cleaned := make(map[string]map[int]struct{}, len(files))

	for file, lines := range files {
		if len(lines) > 0 {
			cleaned[filepath.Clean(file)] = lines
		}
	}

	return cleaned
}

// intersect returns, per file, the executed lines touched by the working
// tree changes since baseline.
func (a *Analyzer) intersect(
	ctx context.Context, baseline coverage.CommitID, executed map[string]map[int]struct{},
) (map[string][]int, error) {
	if len(executed) == 0 {
		return nil, nil
	}

	diff := a.baselineDiff(ctx, baseline)
	if diff.err != nil {
		return nil, diff.err
	}

	var files map[string][]int

	for path, lines := range executed {
		change, ok := diff.changes[path]
		if !ok {
			continue
		}

		var hits []int

		if change.Status == gitlib.StatusDeleted || change.Binary {
			for line := range lines {
				hits = append(hits, line)
			}
		} else {
			for line := range a.changedLines(diff, path, change) {
				if _, ok := lines[line]; ok {
					hits = append(hits, line)
				}
			}
		}

		if len(hits) == 0 {
			continue
		}

		slices.Sort(hits)

		if files == nil {
			files = make(map[string][]int)
		}

		files[path] = hits
	}

	return files, nil
}

func (a *Analyzer) baselineDiff(ctx context.Context, baseline coverage.CommitID) *baselineDiff {
	if diff, ok := a.diffs[baseline]; ok {
		return diff
	}

	diff := &baselineDiff{lines: make(map[string]map[int]struct{})}

	changes, err := a.history.DiffWorkdir(ctx, baseline)
	if err != nil {
		diff.err = fmt.Errorf("diff %s against working tree: %w", baseline, err)
	} else {
		workdir := a.history.WorkDir()
		diff.changes = make(map[string]gitlib.WorkdirChange, len(changes))

		for _, change := range changes {
			diff.changes[filepath.Clean(change.AbsPath(workdir))] = change
		}
	}

	a.diffs[baseline] = diff

	return diff
}

func (a *Analyzer) changedLines(diff *baselineDiff, path string, change gitlib.WorkdirChange) map[int]struct{} {
	if lines, ok := diff.lines[path]; ok {
		return lines
	}

	changed := a.differ.Compute(linediff.SplitLines(change.Old), linediff.SplitLines(change.New)).Union()

	lines := make(map[int]struct{}, len(changed))
	for _, line := range changed {
		lines[line] = struct{}{}
	}

	diff.lines[path] = lines

	return lines
}
