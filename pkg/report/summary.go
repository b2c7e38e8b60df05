package report

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/duvet/pkg/gotest"
	"github.com/Sumatoshi-tech/duvet/pkg/selection"
)

// WriteSummary renders the results of a go test run.
func WriteSummary(w io.Writer, summary *gotest.Summary, format Format) error {
	if format != FormatText {
		return writeStructured(w, format, summary)
	}

	tbl := newTable()
	tbl.AppendHeader(table.Row{"Test", "Outcome", "Reason", "Duration"})

	for _, result := range summary.Results {
		tbl.AppendRow(table.Row{result.Test.String(), outcomeLabel(result.Outcome), string(result.Reason), result.Duration.Round(1e6)})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("%s passed, %s failed, %s errored, %s skipped",
		humanize.Comma(int64(summary.Count(selection.OutcomePassed))),
		humanize.Comma(int64(summary.Count(selection.OutcomeFailed))),
		humanize.Comma(int64(summary.Count(selection.OutcomeErrored))),
		humanize.Comma(int64(summary.Count(selection.OutcomeSkipped))))})

	_, err := fmt.Fprintln(w, tbl.Render())

	return err
}

func outcomeLabel(outcome selection.Outcome) string {
	switch outcome {
	case selection.OutcomePassed:
		return stableColor.Sprint(outcome)
	case selection.OutcomeSkipped:
		return skippedColor.Sprint(outcome)
	default:
		return modifiedColor.Sprint(outcome)
	}
}
