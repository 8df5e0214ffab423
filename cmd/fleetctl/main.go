package main

import (
	"fmt"
	"os"

	"github.com/cuemby/fleetd/internal/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "fleetctl talks to a fleetd daemon over its HTTP API",
	Long: `fleetctl is the CLI client for fleetd, a hybrid-cloud
container/VM orchestration daemon. Every subcommand issues plain HTTP
requests against fleetd's versioned API; there is no local state.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fleetctl version %s\ncommit: %s\nbuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("addr", "127.0.0.1:8585", "fleetd API address")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit structured JSON logs")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(namespaceCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(eventCmd)
	rootCmd.AddCommand(metricCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(systemCmd)
	rootCmd.AddCommand(applyCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func clientFromCmd(cmd *cobra.Command) *client {
	addr, _ := cmd.Flags().GetString("addr")
	return newClient(addr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
