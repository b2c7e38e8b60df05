package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sumatoshi-tech/duvet/pkg/coverage"
	"github.com/Sumatoshi-tech/duvet/pkg/report"
	"github.com/Sumatoshi-tech/duvet/pkg/selection"
)

// Tool name constants.
const (
	ToolNameSelect   = "duvet_select"
	ToolNameExplain  = "duvet_explain"
	ToolNameCoverage = "duvet_coverage"
)

// MaxTestsPerCall bounds the tests accepted by one select call.
const MaxTestsPerCall = 100_000

// Sentinel errors for tool input validation.
var (
	// ErrNoTests indicates the tests parameter is empty.
	ErrNoTests = errors.New("tests parameter is required and must not be empty")
	// ErrTooManyTests indicates the tests parameter exceeds MaxTestsPerCall.
	ErrTooManyTests = errors.New("too many tests")
	// ErrEmptyTest indicates the test parameter is empty.
	ErrEmptyTest = errors.New("test parameter is required and must not be empty")
)

// SelectInput is the input schema for the duvet_select tool.
type SelectInput struct {
	Tests []string `json:"tests"          jsonschema:"test ids, either pkg::Name or a JSON array of components"`
	Skip  bool     `json:"skip,omitempty" jsonschema:"mark tests unaffected by the change as skipped"`
	Sort  bool     `json:"sort,omitempty" jsonschema:"order affected tests first"`
}

// ExplainInput is the input schema for the duvet_explain tool.
type ExplainInput struct {
	Test string `json:"test" jsonschema:"test id, either pkg::Name or a JSON array of components"`
}

// CoverageInput is the input schema for the duvet_coverage tool.
type CoverageInput struct {
	All bool `json:"all,omitempty" jsonschema:"include modules with no executed lines"`
}

// testCount returns the number of test ids a tool input names.
func testCount(input any) int {
	switch in := input.(type) {
	case SelectInput:
		return len(in.Tests)
	case ExplainInput:
		if in.Test == "" {
			return 0
		}

		return 1
	default:
		return 0
	}
}

// ToolOutput is a generic wrapper for tool results.
type ToolOutput struct {
	Data any `json:"data"`
}

func errorResult(err error) (*mcpsdk.CallToolResult, ToolOutput, error) {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: err.Error()},
		},
		IsError: true,
	}, ToolOutput{}, nil
}

func jsonResult(value any) (*mcpsdk.CallToolResult, ToolOutput, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encode result: %w", err))
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(data)},
		},
	}, ToolOutput{Data: value}, nil
}

func parseTests(raw []string) ([]coverage.TestID, error) {
	if len(raw) == 0 {
		return nil, ErrNoTests
	}

	if len(raw) > MaxTestsPerCall {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrTooManyTests, len(raw), MaxTestsPerCall)
	}

	tests := make([]coverage.TestID, 0, len(raw))

	for _, text := range raw {
		test, err := coverage.ParseTestID(text)
		if err != nil {
			return nil, err
		}

		tests = append(tests, test)
	}

	return tests, nil
}

func (s *Server) handleSelect(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input SelectInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	tests, err := parseTests(input.Tests)
	if err != nil {
		return errorResult(err)
	}

	s.analyzeMu.Lock()
	defer s.analyzeMu.Unlock()

	s.analyzer.Reset()

	plan := selection.NewPolicy(s.analyzer, input.Skip, input.Sort).Plan(ctx, tests)

	return jsonResult(report.NewPlanView(plan))
}

func (s *Server) handleExplain(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input ExplainInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	if input.Test == "" {
		return errorResult(ErrEmptyTest)
	}

	test, err := coverage.ParseTestID(input.Test)
	if err != nil {
		return errorResult(err)
	}

	s.analyzeMu.Lock()
	defer s.analyzeMu.Unlock()

	s.analyzer.Reset()

	return jsonResult(report.NewVerdictView(s.analyzer.Explain(ctx, test)))
}

func (s *Server) handleCoverage(
	ctx context.Context,
	_ *mcpsdk.CallToolRequest,
	input CoverageInput,
) (*mcpsdk.CallToolResult, ToolOutput, error) {
	var buf bytes.Buffer

	stats, err := report.WriteStore(ctx, &buf, s.store, input.All)
	if err != nil {
		return errorResult(err)
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: buf.String()},
		},
	}, ToolOutput{Data: stats}, nil
}
