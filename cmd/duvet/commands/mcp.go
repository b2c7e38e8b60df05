package commands

import (
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/duvet/pkg/mcp"
	"github.com/Sumatoshi-tech/duvet/pkg/observability"
)

// NewMCPCommand creates the MCP server command.
func NewMCPCommand(globals *GlobalOptions) *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server for AI agent integration",
		Long: `Start a Model Context Protocol (MCP) server on stdio transport.

The MCP server exposes test selection as tools that AI agents can discover
and invoke:
  - duvet_select: plan a run for a list of test ids
  - duvet_explain: explain the verdict for one test
  - duvet_coverage: dump the coverage store`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if debug {
				globals.LogLevel = "debug"
			}

			ctx := cmd.Context()

			sess, err := openSession(ctx, globals, sessionOptions{mode: observability.ModeMCP})
			if err != nil {
				return err
			}
			defer closeSession(ctx, sess)

			toolMetrics, err := observability.NewToolMetrics(sess.providers.Meter)
			if err != nil {
				return err
			}

			srv := mcp.NewServer(mcp.ServerDeps{
				Analyzer: sess.Analyzer,
				Store:    sess.Store,
				Logger:   sess.Logger,
				Metrics:  toolMetrics,
				Tracer:   sess.Tracer,
			})

			return srv.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging to stderr")

	return cmd
}
