package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/duvet/pkg/collect"
	"github.com/Sumatoshi-tech/duvet/pkg/coverage"
	"github.com/Sumatoshi-tech/duvet/pkg/gotest"
	"github.com/Sumatoshi-tech/duvet/pkg/observability"
	"github.com/Sumatoshi-tech/duvet/pkg/selection"
)

// ErrMissingTest is returned when record is run without --test.
var ErrMissingTest = errors.New("--test is required")

// RecordCommand holds the flags of the record command.
type RecordCommand struct {
	globals  *GlobalOptions
	test     string
	format   string
	outcome  string
	root     string
	packages []string
	silent   bool
}

// NewRecordCommand creates the record command.
func NewRecordCommand(globals *GlobalOptions) *cobra.Command {
	rc := &RecordCommand{globals: globals}

	cmd := &cobra.Command{
		Use:   "record --test <id> [report]",
		Short: "Store the coverage of one externally run test",
		Long: `Read a coverage report produced while running a single test and store it
for the current commit. Reports are read from the file argument or stdin.

--test takes either one id (pkg::TestName or a JSON array) or the id
components separated by commas.`,
		Args: cobra.MaximumNArgs(1),
		RunE: rc.run,
	}

	cmd.Flags().StringVar(&rc.test, "test", "", "Test id")
	cmd.Flags().StringVar(&rc.format, "format", string(collect.FormatGoCover), "Report format: gocover, coveragepy")
	cmd.Flags().StringVar(&rc.outcome, "outcome", string(selection.OutcomePassed), "Test outcome: passed, failed, errored")
	cmd.Flags().StringVar(&rc.root, "root", "", "Directory relative report paths are resolved against (default: workdir)")
	cmd.Flags().StringSliceVar(&rc.packages, "packages", []string{"./..."}, "Go package patterns resolving gocover import paths")
	cmd.Flags().BoolVar(&rc.silent, "silent", false, "Disable progress output")

	return cmd
}

func (rc *RecordCommand) testID() (coverage.TestID, error) {
	text := strings.TrimSpace(rc.test)

	switch {
	case text == "":
		return nil, ErrMissingTest
	case strings.HasPrefix(text, "["), !strings.Contains(text, ","):
		return coverage.ParseTestID(text)
	default:
		return coverage.NewTestID(strings.Split(text, ",")...), nil
	}
}

func (rc *RecordCommand) run(cmd *cobra.Command, args []string) error {
	test, err := rc.testID()
	if err != nil {
		return err
	}

	format, err := collect.ParseFormat(rc.format)
	if err != nil {
		return err
	}

	outcome, err := selection.ParseOutcome(rc.outcome)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	sess, err := openSession(ctx, rc.globals, sessionOptions{mode: observability.ModeCLI})
	if err != nil {
		return err
	}
	defer closeSession(ctx, sess)

	opts := collect.Options{Root: rc.root}
	if opts.Root == "" {
		opts.Root = sess.Workdir
	}

	if format == collect.FormatGoCover {
		opts.PackageDirs, err = packageDirs(cmd, sess, rc.packages)
		if err != nil {
			return err
		}
	}

	input, closeInput, err := openInput(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	defer closeInput()

	raw, err := collect.Parse(format, input, opts)
	if err != nil {
		return err
	}

	ctx, _, err = sess.Recorder.BeginRun(ctx, "record")
	if err != nil {
		return err
	}

	err = sess.Recorder.Record(ctx, test, raw, outcome)
	if err != nil {
		return err
	}

	if !rc.silent {
		if sess.Recorder.Enabled() {
			fmt.Fprintf(cmd.ErrOrStderr(), "progress: recorded %s (%s) at %s\n", test, outcome, sess.Recorder.Commit())
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "progress: recording disabled, %s not stored\n", test)
		}
	}

	return nil
}

func packageDirs(cmd *cobra.Command, sess *Session, patterns []string) (map[string]string, error) {
	driver := gotest.New(nil, sess.Recorder, gotest.Options{Logger: sess.Logger, Workdir: sess.Workdir})

	pkgs, err := driver.ListPackages(cmd.Context(), patterns)
	if err != nil {
		return nil, err
	}

	dirs := make(map[string]string, len(pkgs))
	for _, pkg := range pkgs {
		dirs[pkg.ImportPath] = pkg.Dir
	}

	return dirs, nil
}

func openInput(stdin io.Reader, args []string) (io.Reader, func(), error) {
	if len(args) == 0 || args[0] == "-" {
		return stdin, func() {}, nil
	}

	file, err := os.Open(args[0])
	if err != nil {
		return nil, nil, fmt.Errorf("open report: %w", err)
	}

	return file, func() { file.Close() }, nil
}
