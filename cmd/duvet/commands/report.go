package commands

import (
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/duvet/pkg/observability"
	"github.com/Sumatoshi-tech/duvet/pkg/report"
)

// NewReportCommand creates the report command.
func NewReportCommand(globals *GlobalOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Dump the coverage store",
		Long: `Print every entry of the coverage store: the tests recorded per commit and,
for each record, the modules with executed lines and those lines.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			sess, err := openSession(ctx, globals, sessionOptions{mode: observability.ModeCLI})
			if err != nil {
				return err
			}
			defer closeSession(ctx, sess)

			_, err = report.WriteStore(ctx, cmd.OutOrStdout(), sess.Store, all)

			return err
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include modules with no executed lines")

	return cmd
}
