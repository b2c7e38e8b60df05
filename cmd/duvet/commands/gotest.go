package commands

import (
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/duvet/pkg/gotest"
	"github.com/Sumatoshi-tech/duvet/pkg/observability"
	"github.com/Sumatoshi-tech/duvet/pkg/report"
	"github.com/Sumatoshi-tech/duvet/pkg/selection"
)

// GoTestCommand holds the flags of the gotest command.
type GoTestCommand struct {
	globals  *GlobalOptions
	format   string
	coverPkg string
	goBinary string
	skip     bool
	sort     bool
	erase    bool

	runner gotest.Runner
}

// NewGoTestCommand creates the gotest command.
func NewGoTestCommand(globals *GlobalOptions) *cobra.Command {
	return newGoTestCommandWithRunner(globals, nil)
}

func newGoTestCommandWithRunner(globals *GlobalOptions, runner gotest.Runner) *cobra.Command {
	gc := &GoTestCommand{globals: globals, runner: runner}

	cmd := &cobra.Command{
		Use:   "gotest [packages...]",
		Short: "Run Go tests with selection and recording",
		Long: `Run every test function of the given packages (default ./...) one at a
time under go test -coverprofile, record the coverage of passing tests for
the current commit and, with --skip, skip tests no change can affect.`,
		RunE: gc.run,
	}

	cmd.Flags().StringVar(&gc.format, "format", string(report.FormatText), "Output format: text, json, yaml")
	cmd.Flags().StringVar(&gc.coverPkg, "coverpkg", "", "Packages to instrument, passed to go test -coverpkg")
	cmd.Flags().StringVar(&gc.goBinary, "go", "go", "Go binary")
	cmd.Flags().BoolVar(&gc.skip, "skip", false, "Skip unaffected tests (default: skip_unaffected)")
	cmd.Flags().BoolVar(&gc.sort, "sort", false, "Run affected tests first (default: sort_by_impact)")
	cmd.Flags().BoolVar(&gc.erase, "erase", false, "Erase the store before running (default: erase_before_run)")

	return cmd
}

func (gc *GoTestCommand) run(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(gc.format)
	if err != nil {
		return err
	}

	patterns := args
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}

	ctx := cmd.Context()

	sess, err := openSession(ctx, gc.globals, sessionOptions{mode: observability.ModeCLI})
	if err != nil {
		return err
	}
	defer closeSession(ctx, sess)

	if flagOr(cmd, "erase", gc.erase, sess.Config.EraseBeforeRun) {
		err = sess.eraseStore(ctx)
		if err != nil {
			return err
		}
	}

	skip := flagOr(cmd, "skip", gc.skip, sess.Config.SkipUnaffected)
	sortByImpact := flagOr(cmd, "sort", gc.sort, sess.Config.SortByImpact)

	driver := gotest.New(selection.NewPolicy(sess.Analyzer, skip, sortByImpact), sess.Recorder, gotest.Options{
		Runner:             gc.runner,
		Logger:             sess.Logger,
		Workdir:            sess.Workdir,
		GoBinary:           gc.goBinary,
		CoverPkg:           gc.coverPkg,
		IncludeTestSources: sess.Config.IncludeTestModules,
	})

	summary, runErr := driver.Run(ctx, patterns)
	if summary != nil {
		err = report.WriteSummary(cmd.OutOrStdout(), summary, format)
		if err != nil {
			return err
		}
	}

	if runErr != nil {
		return runErr
	}

	if summary.Failed() {
		return ErrTestsFailed
	}

	return nil
}
