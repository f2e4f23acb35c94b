package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags
var Version = "dev"

type rootFlags struct {
	configDir string
	logLevel  string
	logFile   string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "marquee",
		Short: "Kiosk signage player backend",
		Long: `marquee fetches the device scenario, keeps its media cached on disk,
serves the cache over loopback HTTP and follows the realtime clinic queue.

Examples:
  marquee run                 # refresh loop, asset server and queue channels
  marquee prepare             # one pass, waits for background downloads
  marquee cache ls promo      # fuzzy filter cached entries
  marquee device serial SN-1  # store the device serial`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.configDir, "config", "", "directory holding config.yaml and .env")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override the configured log level")
	rootCmd.PersistentFlags().StringVar(&flags.logFile, "log-file", "", `override the log file ("-" for stderr)`)

	rootCmd.AddCommand(
		newRunCmd(flags),
		newPrepareCmd(flags),
		newCacheCmd(flags),
		newDeviceCmd(flags),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "marquee %s\n", Version)
		},
	}
}
