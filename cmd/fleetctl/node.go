package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage nodes",
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		var out []map[string]any
		if err := c.get(cmd.Context(), "/nodes", nil, &out); err != nil {
			return fmt.Errorf("listing nodes: %w", err)
		}
		if len(out) == 0 {
			fmt.Println("No nodes found")
			return nil
		}
		fmt.Printf("%-20s %-10s %-15s %s\n", "NAME", "ROLE", "VERSION", "LAST_HEARTBEAT")
		for _, n := range out {
			fmt.Printf("%-20v %-10v %-15v %v\n",
				truncate(fmt.Sprint(n["name"]), 20), n["role"], n["version"], n["last_heartbeat"])
		}
		return nil
	},
}

var nodeInspectCmd = &cobra.Command{
	Use:   "inspect NAME",
	Short: "Show full node details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		var out map[string]any
		if err := c.get(cmd.Context(), "/nodes/"+args[0]+"/inspect", nil, &out); err != nil {
			return fmt.Errorf("inspecting node %s: %w", args[0], err)
		}
		return printJSON(out)
	},
}

var nodeDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Remove a node's registration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		if err := c.delete(cmd.Context(), "/nodes/"+args[0], nil, nil); err != nil {
			return fmt.Errorf("deleting node %s: %w", args[0], err)
		}
		fmt.Printf("node removed: %s\n", args[0])
		return nil
	},
}

func init() {
	nodeCmd.AddCommand(nodeListCmd, nodeInspectCmd, nodeDeleteCmd)
}
