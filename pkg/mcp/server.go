// Package mcp implements a Model Context Protocol server exposing test
// impact analysis as MCP tools over stdio transport.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/duvet/pkg/coverage"
	"github.com/Sumatoshi-tech/duvet/pkg/impact"
	"github.com/Sumatoshi-tech/duvet/pkg/observability"
	"github.com/Sumatoshi-tech/duvet/pkg/report"
	"github.com/Sumatoshi-tech/duvet/pkg/version"
)

const (
	serverName = "duvet"

	toolCount = 3
)

// Analyzer computes verdicts. Reset is called before every tool call so each
// call observes the current working tree.
type Analyzer interface {
	Explain(ctx context.Context, test coverage.TestID) impact.Verdict
	Reset()
}

// ServerDeps holds injectable dependencies for the MCP server.
type ServerDeps struct {
	// Analyzer is required.
	Analyzer Analyzer

	// Store backs the coverage tool. Nil disables it.
	Store report.Iterator

	// Logger is an optional structured logger. Nil uses slog default.
	Logger *slog.Logger

	// Metrics is an optional tool call recorder. Nil disables per-tool metrics.
	Metrics *observability.ToolMetrics

	// Tracer is an optional OTel tracer for per-tool-call spans. Nil disables tracing.
	Tracer trace.Tracer
}

// Server wraps the MCP SDK server with the duvet tool registrations.
type Server struct {
	inner   *mcpsdk.Server
	mu      sync.RWMutex
	tools   []string
	metrics *observability.ToolMetrics
	tracer  trace.Tracer

	// analyzeMu serializes tool calls; the analyzer is not safe for concurrent use.
	analyzeMu sync.Mutex
	analyzer  Analyzer
	store     report.Iterator
}

// NewServer creates a new MCP server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	opts := &mcpsdk.ServerOptions{}
	if deps.Logger != nil {
		opts.Logger = deps.Logger
	}

	inner := mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    serverName,
			Version: version.Version,
		},
		opts,
	)

	srv := &Server{
		inner:    inner,
		tools:    make([]string, 0, toolCount),
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		analyzer: deps.Analyzer,
		store:    deps.Store,
	}

	srv.registerTools()

	return srv
}

// ListToolNames returns the sorted names of all registered tools.
func (s *Server) ListToolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.tools))
	copy(names, s.tools)
	sort.Strings(names)

	return names
}

// Run starts the MCP server on stdio transport. It blocks until the context
// is canceled or the connection closes.
func (s *Server) Run(ctx context.Context) error {
	return s.RunWithTransport(ctx, &mcpsdk.StdioTransport{})
}

// RunWithTransport starts the MCP server on the given transport. It blocks
// until the context is canceled or the connection closes.
func (s *Server) RunWithTransport(ctx context.Context, transport mcpsdk.Transport) error {
	err := s.inner.Run(ctx, transport)
	if err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameSelect,
		Description: selectToolDescription,
	}, withMetrics(s.metrics, ToolNameSelect, withTracing(s.tracer, ToolNameSelect, s.handleSelect)))
	s.trackTool(ToolNameSelect)

	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameExplain,
		Description: explainToolDescription,
	}, withMetrics(s.metrics, ToolNameExplain, withTracing(s.tracer, ToolNameExplain, s.handleExplain)))
	s.trackTool(ToolNameExplain)

	if s.store == nil {
		return
	}

	mcpsdk.AddTool(s.inner, &mcpsdk.Tool{
		Name:        ToolNameCoverage,
		Description: coverageToolDescription,
	}, withMetrics(s.metrics, ToolNameCoverage, withTracing(s.tracer, ToolNameCoverage, s.handleCoverage)))
	s.trackTool(ToolNameCoverage)
}

const mcpSpanPrefix = "mcp."

const traceIDMetaKey = "trace_id"

// withTracing wraps an MCP tool handler to create an OTel span per invocation
// and include trace_id in the response content when sampled.
func withTracing[Input any](
	tracer trace.Tracer,
	toolName string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if tracer == nil {
		return handler
	}

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		ctx, span := tracer.Start(ctx, mcpSpanPrefix+toolName,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("mcp.tool", toolName)),
		)
		defer span.End()

		result, output, err := handler(ctx, req, input)

		sc := span.SpanContext()
		if sc.IsSampled() && result != nil {
			traceContent := &mcpsdk.TextContent{Text: fmt.Sprintf("%s=%s", traceIDMetaKey, sc.TraceID().String())}
			result.Content = append(result.Content, traceContent)
		}

		return result, output, err
	}
}

// withMetrics wraps an MCP tool handler to record call metrics per invocation.
func withMetrics[Input any](
	metrics *observability.ToolMetrics,
	toolName string,
	handler func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error),
) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if metrics == nil {
		return handler
	}

	return func(ctx context.Context, req *mcpsdk.CallToolRequest, input Input) (*mcpsdk.CallToolResult, ToolOutput, error) {
		start := time.Now()

		decInflight := metrics.TrackInflight(ctx, toolName)
		defer decInflight()

		result, output, err := handler(ctx, req, input)

		call := observability.ToolCall{
			Tool:     toolName,
			Status:   observability.StatusOK,
			Tests:    testCount(input),
			Duration: time.Since(start),
		}

		switch {
		case err != nil:
			call.Status, call.ErrorKind = observability.StatusError, observability.ErrorKindProtocol
		case result != nil && result.IsError:
			call.Status, call.ErrorKind = observability.StatusError, observability.ErrorKindTool
		}

		metrics.RecordCall(ctx, call)

		return result, output, err
	}
}

func (s *Server) trackTool(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tools = append(s.tools, name)
}

const (
	selectToolDescription = "Plan a test run: for each test id, report whether a change in the " +
		"working tree since its last recorded passing run may affect it. " +
		"With skip set, unaffected tests are marked to be skipped; with sort set, " +
		"affected tests are ordered first."

	explainToolDescription = "Explain the verdict for one test: the reason, the baseline commit " +
		"and the changed lines it executed."

	coverageToolDescription = "Dump the coverage store: recorded tests per commit and the lines " +
		"each test executed."
)
