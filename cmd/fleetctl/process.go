package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:     "process",
	Aliases: []string{"processes", "ps"},
	Short:   "List and control running cargo/vm/job processes",
}

var processListCmd = &cobra.Command{
	Use:   "list",
	Short: "List observed processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		var out []map[string]any
		if err := c.get(cmd.Context(), "/processes", nil, &out); err != nil {
			return fmt.Errorf("listing processes: %w", err)
		}
		if len(out) == 0 {
			fmt.Println("No processes found")
			return nil
		}
		fmt.Printf("%-10s %-25s %-20s %s\n", "KIND", "NAME", "NODE", "SPEC_VERSION")
		for _, p := range out {
			fmt.Printf("%-10v %-25v %-20v %v\n", p["kind"], p["name"], p["node"], p["spec_version"])
		}
		return nil
	},
}

func processActionCmd(use, short, action string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFromCmd(cmd)
			kind, name := args[0], args[1]
			namespace, _ := cmd.Flags().GetString("namespace")
			q := url.Values{}
			if namespace != "" {
				q.Set("namespace", namespace)
			}
			if action == "kill" {
				if signal, _ := cmd.Flags().GetString("signal"); signal != "" {
					q.Set("signal", signal)
				}
			}
			path := fmt.Sprintf("/processes/%s/%s/%s", kind, name, action)
			if err := c.do(cmd.Context(), "POST", path, q, nil, nil); err != nil {
				return fmt.Errorf("%s %s/%s: %w", action, kind, name, err)
			}
			fmt.Printf("%s accepted: %s/%s\n", action, kind, name)
			return nil
		},
	}
	cmd.Flags().String("namespace", "", "namespace the object belongs to (Cargo/Vm only)")
	return cmd
}

var processStartCmd = processActionCmd("start KIND NAME", "Start a process", "start")
var processStopCmd = processActionCmd("stop KIND NAME", "Stop a process", "stop")
var processRestartCmd = processActionCmd("restart KIND NAME", "Restart a process", "restart")
var processKillCmd = processActionCmd("kill KIND NAME", "Send a signal to a process", "kill")

func init() {
	processKillCmd.Flags().String("signal", "SIGKILL", "signal to send")

	processCmd.AddCommand(processListCmd, processStartCmd, processStopCmd, processRestartCmd, processKillCmd)
}
