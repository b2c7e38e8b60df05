package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/duvet/pkg/store"
)

// NewEraseCommand creates the erase command.
func NewEraseCommand(globals *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "erase",
		Short: "Delete the coverage store",
		Long:  "Delete the coverage store and its side files. A missing store is not an error.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, workdir, err := globals.loadConfig()
			if err != nil {
				return err
			}

			path := cfg.StorePath(workdir)

			err = store.Erase(path)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "progress: erased %s\n", path)

			return nil
		},
	}
}
