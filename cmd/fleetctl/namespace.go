package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var namespaceCmd = &cobra.Command{
	Use:     "namespace",
	Aliases: []string{"namespaces"},
	Short:   "Manage namespaces",
}

var namespaceCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		var out map[string]any
		if err := c.post(cmd.Context(), "/namespaces", map[string]any{"name": args[0]}, &out); err != nil {
			return fmt.Errorf("creating namespace: %w", err)
		}
		fmt.Printf("namespace created: %s\n", args[0])
		return nil
	},
}

var namespaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List namespaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		var out []map[string]any
		if err := c.get(cmd.Context(), "/namespaces", nil, &out); err != nil {
			return fmt.Errorf("listing namespaces: %w", err)
		}
		if len(out) == 0 {
			fmt.Println("No namespaces found")
			return nil
		}
		fmt.Printf("%-30s %s\n", "NAME", "CREATED_AT")
		for _, ns := range out {
			fmt.Printf("%-30v %v\n", ns["name"], ns["created_at"])
		}
		return nil
	},
}

var namespaceInspectCmd = &cobra.Command{
	Use:   "inspect NAME",
	Short: "Show full namespace details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		var out map[string]any
		if err := c.get(cmd.Context(), "/namespaces/"+args[0]+"/inspect", nil, &out); err != nil {
			return fmt.Errorf("inspecting namespace %s: %w", args[0], err)
		}
		return printJSON(out)
	},
}

var namespaceDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		if err := c.delete(cmd.Context(), "/namespaces/"+args[0], nil, nil); err != nil {
			return fmt.Errorf("deleting namespace %s: %w", args[0], err)
		}
		fmt.Printf("namespace deleted: %s\n", args[0])
		return nil
	},
}

func init() {
	namespaceCmd.AddCommand(namespaceCreateCmd, namespaceListCmd, namespaceInspectCmd, namespaceDeleteCmd)
}
