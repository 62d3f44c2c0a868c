package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded X-mount.subdir operations, oldest first",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := commandContext(cmd)
			j, err := a.openJournal()
			if err != nil {
				return err
			}
			if j == nil {
				return usageError{errors.New("operation journal is disabled")}
			}
			defer j.Close() //nolint:errcheck

			entries, err := j.List(ctx)
			if err != nil {
				return err
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[len(entries)-limit:]
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No operations recorded.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tSTATE\tSOURCE\tTARGET\tSUBDIR\tUPDATED\tERROR")
			for _, e := range entries {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					e.ID,
					e.State,
					e.Source,
					e.Target,
					e.Subdir,
					e.Updated.Local().Format(time.DateTime),
					e.Error,
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "last", "n", 0, "show only the last N operations")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}
