package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricVerdictsTotal   = "duvet.selection.verdicts.total"
	metricAnalyzeDuration = "duvet.selection.analyze.duration.seconds"
	metricRecordsTotal    = "duvet.recorder.records.total"

	attrReason   = "reason"
	attrModified = "modified"
	attrOutcome  = "outcome"
)

// analyzeBucketBoundaries spans a memo-free ancestor walk plus diff, from
// sub-millisecond stable verdicts to multi-second large-tree diffs.
var analyzeBucketBoundaries = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}

// SelectionMetrics counts analyzer verdicts and recorder writes.
type SelectionMetrics struct {
	verdicts metric.Int64Counter
	analyze  metric.Float64Histogram
	records  metric.Int64Counter
}

// NewSelectionMetrics creates the instruments on mt.
func NewSelectionMetrics(mt metric.Meter) (*SelectionMetrics, error) {
	verdicts, err := mt.Int64Counter(metricVerdictsTotal,
		metric.WithDescription("Impact verdicts by reason"),
		metric.WithUnit("{verdict}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricVerdictsTotal, err)
	}

	analyze, err := mt.Float64Histogram(metricAnalyzeDuration,
		metric.WithDescription("Time to compute one uncached verdict"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(analyzeBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricAnalyzeDuration, err)
	}

	records, err := mt.Int64Counter(metricRecordsTotal,
		metric.WithDescription("Coverage records written by outcome"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRecordsTotal, err)
	}

	return &SelectionMetrics{verdicts: verdicts, analyze: analyze, records: records}, nil
}

// RecordVerdict counts one computed verdict and its analysis time.
// A nil receiver is a no-op.
func (sm *SelectionMetrics) RecordVerdict(ctx context.Context, reason string, modified bool, duration time.Duration) {
	if sm == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrReason, reason),
		attribute.Bool(attrModified, modified),
	)

	sm.verdicts.Add(ctx, 1, attrs)
	sm.analyze.Record(ctx, duration.Seconds(), attrs)
}

// RecordWrite counts one record persisted for a test outcome.
// A nil receiver is a no-op.
func (sm *SelectionMetrics) RecordWrite(ctx context.Context, outcome string) {
	if sm == nil {
		return
	}

	sm.records.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, outcome)))
}
