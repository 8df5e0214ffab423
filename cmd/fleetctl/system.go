package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var systemCmd = &cobra.Command{
	Use:   "system",
	Short: "Inspect the daemon itself",
}

var systemInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show daemon version and registered nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		var out map[string]any
		if err := c.get(cmd.Context(), "/info", nil, &out); err != nil {
			return fmt.Errorf("fetching info: %w", err)
		}
		return printJSON(out)
	},
}

var systemPingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check whether the daemon is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		if err := c.do(cmd.Context(), "HEAD", "/_ping", nil, nil, nil); err != nil {
			return fmt.Errorf("pinging fleetd: %w", err)
		}
		fmt.Println("pong")
		return nil
	},
}

func init() {
	systemCmd.AddCommand(systemInfoCmd, systemPingCmd)
}
