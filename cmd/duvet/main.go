// Package main provides the entry point for the duvet CLI tool.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/duvet/cmd/duvet/commands"
	"github.com/Sumatoshi-tech/duvet/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	globals := &commands.GlobalOptions{}

	rootCmd := &cobra.Command{
		Use:   "duvet",
		Short: "Duvet - run only the tests your change can affect",
		Long: `Duvet records the lines each test executes and, on the next run, skips
tests whose executed lines were not touched since their last passing run.

Commands:
  gotest    Run Go tests with selection and recording
  select    Plan a run for a list of test ids
  explain   Show why a test is considered modified
  record    Store the coverage of one externally run test
  report    Dump the coverage store
  erase     Delete the coverage store
  mcp       Serve selection over the Model Context Protocol`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	globals.Register(rootCmd.PersistentFlags())

	rootCmd.AddCommand(commands.NewGoTestCommand(globals))
	rootCmd.AddCommand(commands.NewSelectCommand(globals))
	rootCmd.AddCommand(commands.NewExplainCommand(globals))
	rootCmd.AddCommand(commands.NewRecordCommand(globals))
	rootCmd.AddCommand(commands.NewReportCommand(globals))
	rootCmd.AddCommand(commands.NewEraseCommand(globals))
	rootCmd.AddCommand(commands.NewMCPCommand(globals))
	rootCmd.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		if !errors.Is(err, commands.ErrTestsFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}

		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "duvet %s\n", version.String())
		},
	}
}
