package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPrepareCmd(flags *rootFlags) *cobra.Command {
	var noWait bool

	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Run one resolution pass and wait for background downloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.cfg.Validate(); err != nil {
				return err
			}
			a.playlist.OnProgress(a.console.OnProgress)

			pl, err := a.playlist.Refresh(cmd.Context())
			a.console.Playlist(pl)
			if err != nil {
				return err
			}

			if !noWait {
				a.playlist.Wait()
				p := a.playlist.Progress()
				fmt.Fprintf(cmd.OutOrStdout(), "downloads finished: %d/%d\n", p.Finished, p.Total)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return without waiting for background downloads")
	return cmd
}
