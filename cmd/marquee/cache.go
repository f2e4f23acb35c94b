package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmcdole/marquee/internal/search"
)

func newCacheCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the asset cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ls [query]",
		Short: "List cached entries, optionally fuzzy filtered",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.queries.Records()
			if err != nil {
				return err
			}
			for i := range records {
				if rel, err := a.store.Rel(records[i].Path); err == nil {
					records[i].Path = rel
				}
			}
			query := ""
			if len(args) == 1 {
				query = args[0]
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tKIND\tSIZE\tITEM\tLAST USED")
			for _, r := range search.Filter(query, records) {
				used := "-"
				if !r.Record.LastUsedAt.IsZero() {
					used = r.Record.LastUsedAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", r.Record.Path, r.Record.Kind, r.Record.Size, r.Record.ItemID, used)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clean",
		Short: "Remove every cache entry older than the grace window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			report := a.janitor.Sweep(a.store.NewPass())
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d, kept %d recent, failed %d\n",
				len(report.Removed), report.Young, len(report.Failed))
			return nil
		},
	})

	return cmd
}
