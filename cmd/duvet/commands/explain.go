package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/duvet/pkg/coverage"
	"github.com/Sumatoshi-tech/duvet/pkg/impact"
	"github.com/Sumatoshi-tech/duvet/pkg/linediff"
	"github.com/Sumatoshi-tech/duvet/pkg/observability"
	"github.com/Sumatoshi-tech/duvet/pkg/report"
)

const diffContextLines = 3

// ExplainCommand holds the flags of the explain command.
type ExplainCommand struct {
	globals *GlobalOptions
	format  string
	diff    bool
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(globals *GlobalOptions) *cobra.Command {
	ec := &ExplainCommand{globals: globals}

	cmd := &cobra.Command{
		Use:   "explain <test>",
		Short: "Show why a test is considered modified",
		Long: `Print the verdict for one test: the reason, the baseline commit with its
author and summary, and the changed lines it executed. With --diff, the unified diff of every
intersecting file against the baseline is appended.`,
		Args: cobra.ExactArgs(1),
		RunE: ec.run,
	}

	cmd.Flags().StringVar(&ec.format, "format", string(report.FormatText), "Output format: text, json, yaml")
	cmd.Flags().BoolVar(&ec.diff, "diff", false, "Append the unified diff of intersecting files")

	return cmd
}

func (ec *ExplainCommand) run(cmd *cobra.Command, args []string) error {
	format, err := report.ParseFormat(ec.format)
	if err != nil {
		return err
	}

	test, err := coverage.ParseTestID(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	sess, err := openSession(ctx, ec.globals, sessionOptions{mode: observability.ModeCLI})
	if err != nil {
		return err
	}
	defer closeSession(ctx, sess)

	verdict := sess.Analyzer.Explain(ctx, test)

	var diff string
	if ec.diff {
		diff = sess.unifiedDiff(ctx, verdict)
	}

	return report.WriteVerdict(cmd.OutOrStdout(), verdict, sess.baselineCommit(ctx, verdict), diff, format)
}

// baselineCommit describes the verdict's baseline, or returns nil when there
// is none or it cannot be read.
func (s *Session) baselineCommit(ctx context.Context, verdict impact.Verdict) *report.CommitView {
	if s.Repo == nil || !verdict.HasBaseline() {
		return nil
	}

	info, err := s.Repo.Commit(ctx, verdict.Commit)
	if err != nil {
		s.Logger.WarnContext(ctx, "cannot read baseline commit", "commit", verdict.Commit.String(), "error", err)

		return nil
	}

	return &report.CommitView{
		Author:  fmt.Sprintf("%s <%s>", info.Author.Name, info.Author.Email),
		Summary: info.Summary,
		When:    info.Author.When,
	}
}

// unifiedDiff renders the baseline-to-workdir diff of the files a verdict
// names. Failures are logged and yield no diff.
func (s *Session) unifiedDiff(ctx context.Context, verdict impact.Verdict) string {
	if s.Repo == nil || !verdict.HasBaseline() || len(verdict.Files) == 0 {
		return ""
	}

	changes, err := s.Repo.DiffWorkdir(ctx, verdict.Commit)
	if err != nil {
		s.Logger.WarnContext(ctx, "diff against baseline failed", "commit", verdict.Commit.String(), "error", err)

		return ""
	}

	var out strings.Builder

	for _, change := range changes {
		if _, ok := verdict.Files[change.AbsPath(s.Repo.WorkDir())]; !ok || change.Binary {
			continue
		}

		out.WriteString(s.Differ.Unified(
			linediff.SplitLines(change.Old),
			linediff.SplitLines(change.New),
			"a/"+change.Path, "b/"+change.Path,
			diffContextLines,
		))
	}

	return out.String()
}
