package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spin-stack/submount/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version, git revision, and build timestamp",
		Args:  usageArgs(cobra.NoArgs),
		// The version needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "submount %s\n", version.Info())
		},
	}
}
