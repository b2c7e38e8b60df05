// Package recorder persists per-test coverage after each test completes.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Sumatoshi-tech/duvet/pkg/collect"
	"github.com/Sumatoshi-tech/duvet/pkg/coverage"
	"github.com/Sumatoshi-tech/duvet/pkg/observability"
	"github.com/Sumatoshi-tech/duvet/pkg/selection"
)

// Store is the write side of the coverage store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Sync(ctx context.Context) error
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithMetrics counts written records on m.
func WithMetrics(m *observability.SelectionMetrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// WithClock overrides the run start time source.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// Recorder writes coverage records for one commit.
type Recorder struct {
	store    Store
	filter   *ModuleFilter
	logger   *slog.Logger
	metrics  *observability.SelectionMetrics
	now      func() time.Time
	commit   coverage.CommitID
	disabled bool
}

// New creates a recorder writing under commit.
func New(store Store, filter *ModuleFilter, commit coverage.CommitID, opts ...Option) *Recorder {
	r := &Recorder{
		store:  store,
		filter: filter,
		commit: commit,
		logger: slog.Default(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Disabled returns a recorder that writes nothing.
func Disabled(opts ...Option) *Recorder {
	r := New(nil, nil, coverage.DirtyCommit, opts...)
	r.disabled = true

	return r
}

// Enabled reports whether records are written.
func (r *Recorder) Enabled() bool {
	return !r.disabled
}

// Commit returns the commit records are written under.
func (r *Recorder) Commit() coverage.CommitID {
	return r.commit
}

// BeginRun writes the run marker for the commit and makes sure its test set
// exists. The returned context carries the run id for logging.
func (r *Recorder) BeginRun(ctx context.Context, tool string) (context.Context, *coverage.RunInfo, error) {
	info := &coverage.RunInfo{StartedAt: r.now().UTC(), RunID: uuid.NewString(), Tool: tool}
	ctx = observability.WithRunID(ctx, info.RunID)

	if r.disabled {
		return ctx, info, nil
	}

	data, err := coverage.EncodeRunInfo(info)
	if err != nil {
		return ctx, nil, err
	}

	err = r.store.Put(ctx, coverage.RunKey(r.commit), data)
	if err != nil {
		return ctx, nil, fmt.Errorf("write run marker: %w", err)
	}

	set, err := r.testSet(ctx)
	if err != nil {
		return ctx, nil, err
	}

	err = r.putTestSet(ctx, set)
	if err != nil {
		return ctx, nil, err
	}

	err = r.store.Sync(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("sync store: %w", err)
	}

	r.logger.InfoContext(ctx, "recording coverage", "commit", r.commit.String(), "tool", tool)

	return ctx, info, nil
}

// Record persists the outcome of test. Passed tests store their filtered
// coverage, failed and errored tests the unusable sentinel; skipped tests
// leave the store untouched.
func (r *Recorder) Record(ctx context.Context, test coverage.TestID, raw *collect.RawReport, outcome selection.Outcome) error {
	if r.disabled {
		return nil
	}

	var record *coverage.Record

	switch outcome {
	case selection.OutcomePassed:
		record = BuildRecord(raw, r.filter)
	case selection.OutcomeFailed, selection.OutcomeErrored:
		record = coverage.UnusableRecord()
	case selection.OutcomeSkipped:
		return nil
	default:
		return fmt.Errorf("%w: %q", selection.ErrUnknownOutcome, outcome)
	}

	data, err := coverage.EncodeRecord(record)
	if err != nil {
		return err
	}

	err = r.store.Put(ctx, coverage.TestKey(r.commit, test), data)
	if err != nil {
		return fmt.Errorf("write record of %s: %w", test, err)
	}

	set, err := r.testSet(ctx)
	if err != nil {
		return err
	}

	if set.Add(test) {
		err = r.putTestSet(ctx, set)
		if err != nil {
			return err
		}
	}

	err = r.store.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sync store: %w", err)
	}

	r.metrics.RecordWrite(ctx, string(outcome))
	r.logger.DebugContext(ctx, "recorded coverage",
		"test", test.String(), "outcome", outcome, "modules", len(record.Modules))

	return nil
}

func (r *Recorder) testSet(ctx context.Context) (*coverage.TestSet, error) {
	data, ok, err := r.store.Get(ctx, coverage.TestSetKey(r.commit))
	if err != nil {
		return nil, fmt.Errorf("read test set: %w", err)
	}

	if !ok {
		return &coverage.TestSet{}, nil
	}

	set, err := coverage.DecodeTestSet(data)
	if err != nil {
		r.logger.WarnContext(ctx, "replacing corrupt test set", "commit", r.commit.String(), "error", err)

		return &coverage.TestSet{}, nil
	}

	return set, nil
}

func (r *Recorder) putTestSet(ctx context.Context, set *coverage.TestSet) error {
	data, err := coverage.EncodeTestSet(set)
	if err != nil {
		return err
	}

	err = r.store.Put(ctx, coverage.TestSetKey(r.commit), data)
	if err != nil {
		return fmt.Errorf("write test set: %w", err)
	}

	return nil
}

// BuildRecord converts the modules of raw accepted by filter. A nil filter
// accepts every module with a file.
func BuildRecord(raw *collect.RawReport, filter *ModuleFilter) *coverage.Record {
	record := coverage.NewRecord()
	if raw == nil {
		return record
	}

	for _, module := range raw.Modules {
		descriptor := ModuleDescriptor{
			Name:      module.Name,
			File:      module.File,
			Preloaded: module.Preloaded,
			Test:      module.Test,
		}

		if filter != nil && !filter.Want(descriptor) {
			continue
		}

		if filter == nil && module.File == "" {
			continue
		}

		record.Add(module.Name, coverage.ModuleCoverage{
			File:       module.File,
			Executable: module.Executable,
			Excluded:   module.Excluded,
			Missed:     module.Missed,
		})
	}

	return record
}
