package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stationlinkd",
		Short: "Real-time synchronization daemon for station operations",
		Long: `stationlinkd keeps a station terminal synchronized with its local
dispatch server.

It discovers the station server on the LAN, maintains a persistent
WebSocket channel with prioritized delivery and automatic
reconnection, and exposes connection health over HTTP for
dashboards and Prometheus.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		runCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("stationlinkd %s (%s)\n", version, commit)
		},
	}
}
