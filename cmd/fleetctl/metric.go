package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var metricCmd = &cobra.Command{
	Use:     "metric",
	Aliases: []string{"metrics"},
	Short:   "Submit and list external metrics",
}

var metricSubmitCmd = &cobra.Command{
	Use:   "submit KIND",
	Short: "Submit an external metric",
	Long: `Submit an external metric under KIND, a dotted namespace the
caller owns (e.g. acme.io/gpu-temp). Kinds starting with nanocl.io are
reserved for host metrics and are rejected.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		rawData, _ := cmd.Flags().GetString("data")
		note, _ := cmd.Flags().GetString("note")

		var data map[string]any
		if rawData != "" {
			if err := json.Unmarshal([]byte(rawData), &data); err != nil {
				return fmt.Errorf("parsing --data as JSON: %w", err)
			}
		}

		var out map[string]any
		body := map[string]any{"kind": args[0], "data": data, "note": note}
		if err := c.post(cmd.Context(), "/metrics", body, &out); err != nil {
			return fmt.Errorf("submitting metric: %w", err)
		}
		return printJSON(out)
	},
}

var metricListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		var out []map[string]any
		if err := c.get(cmd.Context(), "/metrics", nil, &out); err != nil {
			return fmt.Errorf("listing metrics: %w", err)
		}
		if len(out) == 0 {
			fmt.Println("No metrics found")
			return nil
		}
		fmt.Printf("%-15s %-20s %-25s %s\n", "NODE", "KIND", "CREATED_AT", "NOTE")
		for _, m := range out {
			fmt.Printf("%-15v %-20v %-25v %v\n", m["node"], m["kind"], m["created_at"], m["note"])
		}
		return nil
	},
}

func init() {
	metricSubmitCmd.Flags().String("data", "", "metric payload as a JSON object")
	metricSubmitCmd.Flags().String("note", "", "freeform note attached to the metric")

	metricCmd.AddCommand(metricSubmitCmd, metricListCmd)
}
