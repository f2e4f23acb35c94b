package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmcdole/marquee/internal/adapter"
)

func newDeviceCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Show or set the device identity",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "serial [serial]",
		Short: "Print the device serial, or store a new one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cfg.Device.Serial)
				return nil
			}
			if err := adapter.SaveDeviceSerial(cfg.Device.File, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved device serial to %s\n", cfg.Device.File)
			return nil
		},
	})

	return cmd
}
