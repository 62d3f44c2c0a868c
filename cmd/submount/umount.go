package main

import (
	"github.com/spf13/cobra"

	"github.com/spin-stack/submount/internal/hook"
	"github.com/spin-stack/submount/internal/mnt"
)

func newUmountCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "umount TARGET",
		Aliases: []string{"unmount"},
		Short:   "Unmount TARGET and everything mounted below it",
		Args:    usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			hooksets, closeJournal := a.hooksets(ctx)
			defer closeJournal()

			fs := mnt.NewFS("", args[0], "", "")
			return hook.NewContext(fs, mnt.ActionUmount, a.mounter, hooksets...).Run(ctx)
		},
	}
}
