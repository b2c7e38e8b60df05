package mcp_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sumatoshi-tech/duvet/pkg/coverage"
	"github.com/Sumatoshi-tech/duvet/pkg/impact"
	"github.com/Sumatoshi-tech/duvet/pkg/mcp"
	"github.com/Sumatoshi-tech/duvet/pkg/observability"
	"github.com/Sumatoshi-tech/duvet/pkg/report"
	"github.com/Sumatoshi-tech/duvet/pkg/store"
)

// fakeAnalyzer marks tests whose last component starts with "TestChanged" as modified.
type fakeAnalyzer struct {
	mu     sync.Mutex
	resets int
}

func (f *fakeAnalyzer) Explain(_ context.Context, test coverage.TestID) impact.Verdict {
	name := test[len(test)-1]
	if len(name) >= len("TestChanged") && name[:len("TestChanged")] == "TestChanged" {
		return impact.Verdict{
			Test:     test,
			Reason:   impact.ReasonChangedLines,
			Commit:   "abc123",
			Files:    map[string][]int{"/src/a.go": {4}},
			Modified: true,
		}
	}

	return impact.Verdict{Test: test, Reason: impact.ReasonStable, Commit: "abc123"}
}

func (f *fakeAnalyzer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resets++
}

func (f *fakeAnalyzer) Resets() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.resets
}

func connect(t *testing.T, deps mcp.ServerDeps) *mcpsdk.ClientSession {
	t.Helper()

	srv := mcp.NewServer(deps)

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)

	serverDone := make(chan error, 1)

	go func() {
		serverDone <- srv.RunWithTransport(ctx, serverTransport)
	}()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)

	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = session.Close()

		cancel()
		<-serverDone
	})

	return session
}

func textOf(t *testing.T, result *mcpsdk.CallToolResult) string {
	t.Helper()

	require.NotEmpty(t, result.Content)

	text, ok := result.Content[0].(*mcpsdk.TextContent)
	require.True(t, ok)

	return text.Text
}

func TestMCPServer_InMemoryTransport_ToolsList(t *testing.T) {
	t.Parallel()

	session := connect(t, mcp.ServerDeps{Analyzer: &fakeAnalyzer{}})

	toolsResult, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	toolNames := make([]string, 0, len(toolsResult.Tools))
	for _, tool := range toolsResult.Tools {
		toolNames = append(toolNames, tool.Name)
		assert.NotNil(t, tool.InputSchema, "tool %s missing input schema", tool.Name)
	}

	assert.ElementsMatch(t, []string{mcp.ToolNameSelect, mcp.ToolNameExplain}, toolNames)
}

func TestMCPServer_ListToolNamesWithStore(t *testing.T) {
	t.Parallel()

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), store.DefaultFileName))
	require.NoError(t, err)

	t.Cleanup(func() { st.Close() })

	srv := mcp.NewServer(mcp.ServerDeps{Analyzer: &fakeAnalyzer{}, Store: st})

	assert.Equal(t, []string{mcp.ToolNameCoverage, mcp.ToolNameExplain, mcp.ToolNameSelect}, srv.ListToolNames())
}

func TestMCPServer_CallSelect(t *testing.T) {
	t.Parallel()

	analyzer := &fakeAnalyzer{}
	session := connect(t, mcp.ServerDeps{Analyzer: analyzer})

	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name: mcp.ToolNameSelect,
		Arguments: map[string]any{
			"tests": []string{"pkg::TestStable", "pkg::TestChangedA", `["pkg","TestChangedB"]`},
			"skip":  true,
			"sort":  true,
		},
	})
	require.NoError(t, err)
	require.False(t, result.IsError, textOf(t, result))

	var view report.PlanView
	require.NoError(t, json.Unmarshal([]byte(textOf(t, result)), &view))

	require.Len(t, view.Tests, 3)
	assert.Equal(t, "pkg::TestChangedA", view.Tests[0].Test)
	assert.Equal(t, "pkg::TestChangedB", view.Tests[1].Test)
	assert.Equal(t, "pkg::TestStable", view.Tests[2].Test)
	assert.False(t, view.Tests[2].Run)
	assert.Equal(t, 2, view.ToRun)
	assert.Equal(t, 1, analyzer.Resets())
}

func TestMCPServer_CallSelectEmpty(t *testing.T) {
	t.Parallel()

	session := connect(t, mcp.ServerDeps{Analyzer: &fakeAnalyzer{}})

	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      mcp.ToolNameSelect,
		Arguments: map[string]any{"tests": []string{}},
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textOf(t, result), "tests parameter is required")
}

func TestMCPServer_CallExplain(t *testing.T) {
	t.Parallel()

	session := connect(t, mcp.ServerDeps{Analyzer: &fakeAnalyzer{}})

	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      mcp.ToolNameExplain,
		Arguments: map[string]any{"test": "pkg::TestChangedA"},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	var view report.VerdictView
	require.NoError(t, json.Unmarshal([]byte(textOf(t, result)), &view))

	assert.True(t, view.Modified)
	assert.Equal(t, "changed-lines", view.Reason)
	assert.Equal(t, []int{4}, view.Files["/src/a.go"])

	result, err = session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      mcp.ToolNameExplain,
		Arguments: map[string]any{"test": ""},
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestMCPServer_CallCoverage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), store.DefaultFileName))
	require.NoError(t, err)

	t.Cleanup(func() { st.Close() })

	record := coverage.NewRecord()
	record.Add("pkg/a", coverage.ModuleCoverage{File: "/src/a.go", Executable: []int{1, 2}})

	data, err := coverage.EncodeRecord(record)
	require.NoError(t, err)
	require.NoError(t, st.Put(ctx, coverage.TestKey("abc123", coverage.NewTestID("pkg", "TestA")), data))

	session := connect(t, mcp.ServerDeps{Analyzer: &fakeAnalyzer{}, Store: st})

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      mcp.ToolNameCoverage,
		Arguments: map[string]any{},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, textOf(t, result), "/src/a.go 1-2")
}

func TestMCPServer_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	toolMetrics, err := observability.NewToolMetrics(provider.Meter("test"))
	require.NoError(t, err)

	session := connect(t, mcp.ServerDeps{Analyzer: &fakeAnalyzer{}, Metrics: toolMetrics})

	_, err = session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      mcp.ToolNameSelect,
		Arguments: map[string]any{"tests": []string{"pkg::TestA", "pkg::TestB", "pkg::TestC"}},
	})
	require.NoError(t, err)

	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      mcp.ToolNameExplain,
		Arguments: map[string]any{"test": ""},
	})
	require.NoError(t, err)
	require.True(t, result.IsError)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	metrics := make(map[string]metricdata.Aggregation)

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			metrics[m.Name] = m.Data
		}
	}

	tests, ok := metrics["duvet.tool.tests"].(metricdata.Histogram[int64])
	require.True(t, ok)

	sums := make(map[string]int64)

	for _, dp := range tests.DataPoints {
		tool, _ := dp.Attributes.Value(attribute.Key("tool"))
		sums[tool.AsString()] = dp.Sum
	}

	assert.Equal(t, map[string]int64{mcp.ToolNameSelect: 3, mcp.ToolNameExplain: 0}, sums)

	errs, ok := metrics["duvet.tool.errors.total"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, errs.DataPoints, 1)

	kind, _ := errs.DataPoints[0].Attributes.Value(attribute.Key("error.kind"))
	assert.Equal(t, observability.ErrorKindTool, kind.AsString())
}
