package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/duvet/pkg/coverage"
	"github.com/Sumatoshi-tech/duvet/pkg/observability"
	"github.com/Sumatoshi-tech/duvet/pkg/report"
	"github.com/Sumatoshi-tech/duvet/pkg/selection"
)

// ErrNoTests is returned when select is given no test ids.
var ErrNoTests = errors.New("no test ids given; pass them as arguments or with --tests-file")

// SelectCommand holds the flags of the select command.
type SelectCommand struct {
	globals   *GlobalOptions
	format    string
	testsFile string
	output    string
	skip      bool
	sort      bool
}

// NewSelectCommand creates the select command.
func NewSelectCommand(globals *GlobalOptions) *cobra.Command {
	sc := &SelectCommand{globals: globals}

	cmd := &cobra.Command{
		Use:   "select [test...]",
		Short: "Plan a run for a list of test ids",
		Long: `Report, for every test id, whether a change in the working tree since the
test's last recorded passing run may affect it.

Test ids are "::"-separated components (pkg::TestName) or JSON arrays
(["pkg", "TestName"]).`,
		RunE: sc.run,
	}

	cmd.Flags().StringVar(&sc.format, "format", string(report.FormatText), "Output format: text, json, yaml")
	cmd.Flags().StringVar(&sc.testsFile, "tests-file", "", "Read test ids from a file, one per line (- for stdin)")
	cmd.Flags().StringVarP(&sc.output, "output", "o", "", "Also save the plan to a file (.yaml/.yml as YAML, JSON otherwise)")
	cmd.Flags().BoolVar(&sc.skip, "skip", false, "Mark unaffected tests as skipped (default: skip_unaffected)")
	cmd.Flags().BoolVar(&sc.sort, "sort", false, "Order affected tests first (default: sort_by_impact)")

	return cmd
}

func (sc *SelectCommand) run(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(sc.format)
	if err != nil {
		return err
	}

	tests, err := collectTestIDs(cmd.InOrStdin(), args, sc.testsFile)
	if err != nil {
		return err
	}

	if len(tests) == 0 {
		return ErrNoTests
	}

	ctx := cmd.Context()

	sess, err := openSession(ctx, sc.globals, sessionOptions{mode: observability.ModeCLI})
	if err != nil {
		return err
	}
	defer closeSession(ctx, sess)

	skip := flagOr(cmd, "skip", sc.skip, sess.Config.SkipUnaffected)
	sortByImpact := flagOr(cmd, "sort", sc.sort, sess.Config.SortByImpact)

	plan := selection.NewPolicy(sess.Analyzer, skip, sortByImpact).Plan(ctx, tests)

	if sc.output != "" {
		err = report.SavePlan(sc.output, plan)
		if err != nil {
			return fmt.Errorf("save plan: %w", err)
		}
	}

	return report.WritePlan(cmd.OutOrStdout(), plan, format)
}

// flagOr returns the flag value when it was set on the command line and
// fallback otherwise.
func flagOr(cmd *cobra.Command, name string, value, fallback bool) bool {
	if cmd.Flags().Changed(name) {
		return value
	}

	return fallback
}

// collectTestIDs parses test ids from args and, when path is set, from a
// file with one id per line. Blank lines and lines starting with # are skipped.
func collectTestIDs(stdin io.Reader, args []string, path string) ([]coverage.TestID, error) {
	lines := append([]string(nil), args...)

	if path != "" {
		var reader io.Reader = stdin

		if path != "-" {
			file, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("open tests file: %w", err)
			}
			defer file.Close()

			reader = file
		}

		scanner := bufio.NewScanner(reader)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}

		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read tests file: %w", err)
		}
	}

	tests := make([]coverage.TestID, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		test, err := coverage.ParseTestID(line)
		if err != nil {
			return nil, err
		}

		tests = append(tests, test)
	}

	return tests, nil
}
