package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricToolCalls    = "duvet.tool.calls.total"
	metricToolDuration = "duvet.tool.duration.seconds"
	metricToolErrors   = "duvet.tool.errors.total"
	metricToolInflight = "duvet.tool.inflight"
	metricToolTests    = "duvet.tool.tests"

	attrTool      = "tool"
	attrStatus    = "status"
	attrErrorKind = "error.kind"

	// StatusOK marks a successful call.
	StatusOK = "ok"
	// StatusError marks a failed call.
	StatusError = "error"

	// ErrorKindTool marks a call the tool rejected, such as a malformed test id.
	ErrorKindTool = "tool"
	// ErrorKindProtocol marks a call whose handler returned an error.
	ErrorKindProtocol = "protocol"
)

// A select call analyzes a whole suite, an explain call a single test.
var (
	durationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
	testsBuckets    = []float64{0, 1, 10, 100, 1_000, 10_000, 100_000}
)

// ToolCall is one finished MCP tool invocation.
type ToolCall struct {
	Tool   string
	Status string
	// ErrorKind is set when Status is StatusError.
	ErrorKind string
	// Tests is the number of test ids the call asked about.
	Tests    int
	Duration time.Duration
}

// ToolMetrics counts MCP tool calls, their latency, failures and the number
// of tests each call covered.
type ToolMetrics struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	errors   metric.Int64Counter
	inflight metric.Int64UpDownCounter
	tests    metric.Int64Histogram
}

// NewToolMetrics creates the instruments on mt.
func NewToolMetrics(mt metric.Meter) (*ToolMetrics, error) {
	calls, err := mt.Int64Counter(metricToolCalls,
		metric.WithDescription("MCP tool calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricToolCalls, err)
	}

	duration, err := mt.Float64Histogram(metricToolDuration,
		metric.WithDescription("MCP tool call duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricToolDuration, err)
	}

	errs, err := mt.Int64Counter(metricToolErrors,
		metric.WithDescription("Failed MCP tool calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricToolErrors, err)
	}

	inflight, err := mt.Int64UpDownCounter(metricToolInflight,
		metric.WithDescription("MCP tool calls in progress"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricToolInflight, err)
	}

	tests, err := mt.Int64Histogram(metricToolTests,
		metric.WithDescription("Test ids per MCP tool call"),
		metric.WithUnit("{test}"),
		metric.WithExplicitBucketBoundaries(testsBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricToolTests, err)
	}

	return &ToolMetrics{calls: calls, duration: duration, errors: errs, inflight: inflight, tests: tests}, nil
}

// RecordCall records one finished call.
func (tm *ToolMetrics) RecordCall(ctx context.Context, call ToolCall) {
	attrs := metric.WithAttributes(
		attribute.String(attrTool, call.Tool),
		attribute.String(attrStatus, call.Status),
	)

	tm.calls.Add(ctx, 1, attrs)
	tm.duration.Record(ctx, call.Duration.Seconds(), attrs)
	tm.tests.Record(ctx, int64(call.Tests), metric.WithAttributes(attribute.String(attrTool, call.Tool)))

	if call.Status == StatusError {
		tm.errors.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrTool, call.Tool),
			attribute.String(attrErrorKind, call.ErrorKind),
		))
	}
}

// TrackInflight counts a call as in progress until the result is called.
func (tm *ToolMetrics) TrackInflight(ctx context.Context, tool string) func() {
	attrs := metric.WithAttributes(attribute.String(attrTool, tool))
	tm.inflight.Add(ctx, 1, attrs)

	return func() {
		tm.inflight.Add(ctx, -1, attrs)
	}
}
