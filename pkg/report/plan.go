package report

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/Sumatoshi-tech/duvet/pkg/impact"
	"github.com/Sumatoshi-tech/duvet/pkg/persist"
	"github.com/Sumatoshi-tech/duvet/pkg/selection"
)

func newTable() table.Writer {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Format.Footer = text.FormatDefault

	return tbl
}

// WritePlan renders a plan.
func WritePlan(w io.Writer, plan selection.Plan, format Format) error {
	view := NewPlanView(plan)

	if format != FormatText {
		return writeStructured(w, format, view)
	}

	tbl := newTable()
	tbl.AppendHeader(table.Row{"Test", "Action", "Verdict", "Reason", "Baseline"})

	for _, decision := range plan.Decisions {
		action := "run"
		if !decision.Run {
			action = skippedColor.Sprint("skip")
		}

		tbl.AppendRow(table.Row{
			decision.Verdict.Test.String(),
			action,
			verdictLabel(decision.Verdict.Modified),
			string(decision.Verdict.Reason),
			baselineLabel(decision.Verdict),
		})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("%s tests, %s to run, %s modified",
		humanize.Comma(int64(view.Total)), humanize.Comma(int64(view.ToRun)), humanize.Comma(int64(view.Modified)))})

	_, err := fmt.Fprintln(w, tbl.Render())

	return err
}

// SavePlan writes the plan to path, as YAML for .yaml and .yml files and as
// JSON otherwise. Readers never see a partial file.
func SavePlan(path string, plan selection.Plan) error {
	name := persist.CodecJSON

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		name = persist.CodecYAML
	}

	codec, err := persist.CodecByName(name)
	if err != nil {
		return err
	}

	return persist.WriteFile(path, codec, NewPlanView(plan))
}

func baselineLabel(verdict impact.Verdict) string {
	if !verdict.HasBaseline() {
		return "-"
	}

	return verdict.Commit.Short()
}

// WriteVerdict renders one verdict, its baseline commit when commit is not
// nil and, when non-empty, the unified diff that produced it.
func WriteVerdict(w io.Writer, verdict impact.Verdict, commit *CommitView, diff string, format Format) error {
	if format != FormatText {
		return writeStructured(w, format, ExplainView{VerdictView: NewVerdictView(verdict), Commit: commit})
	}

	baseline := dimColor.Sprint("none")
	if verdict.HasBaseline() {
		baseline = string(verdict.Commit)
	}

	_, err := fmt.Fprintf(w, "test:     %s\nverdict:  %s\nreason:   %s\nbaseline: %s\n",
		verdict.Test, verdictLabel(verdict.Modified), verdict.Reason, baseline)
	if err != nil {
		return err
	}

	if commit != nil {
		_, err = fmt.Fprintf(w, "commit:   %s (%s, %s)\n", commit.Summary, commit.Author, humanize.Time(commit.When))
		if err != nil {
			return err
		}
	}

	if verdict.Err != nil {
		_, err = fmt.Fprintf(w, "error:    %v\n", verdict.Err)
		if err != nil {
			return err
		}
	}

	if len(verdict.Files) > 0 {
		tbl := newTable()
		tbl.AppendHeader(table.Row{"File", "Changed executed lines"})

		for _, file := range verdict.FileNames() {
			tbl.AppendRow(table.Row{file, FormatLines(verdict.Files[file])})
		}

		_, err = fmt.Fprintln(w, tbl.Render())
		if err != nil {
			return err
		}
	}

	if diff != "" {
		_, err = fmt.Fprint(w, diff)
	}

	return err
}
