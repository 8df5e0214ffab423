package main

import (
	"bufio"
	"fmt"
	"net/url"

	"github.com/cuemby/fleetd/internal/types"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:     "event",
	Aliases: []string{"events"},
	Short:   "Inspect and stream events",
}

var eventListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded events",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		limit, _ := cmd.Flags().GetInt("limit")
		q := url.Values{}
		if limit > 0 {
			q.Set("limit", fmt.Sprint(limit))
		}
		var out []map[string]any
		if err := c.get(cmd.Context(), "/events", q, &out); err != nil {
			return fmt.Errorf("listing events: %w", err)
		}
		if len(out) == 0 {
			fmt.Println("No events found")
			return nil
		}
		fmt.Printf("%-36s %-10s %-20s %-15s %s\n", "ID", "KIND", "ACTION", "ACTOR", "REASON")
		for _, e := range out {
			actor, _ := e["actor"].(map[string]any)
			fmt.Printf("%-36v %-10v %-20v %-15v %v\n",
				e["id"], e["kind"], e["action"], actorString(actor), e["reason"])
		}
		return nil
	},
}

func actorString(actor map[string]any) string {
	if actor == nil {
		return "-"
	}
	return fmt.Sprintf("%v/%v", actor["kind"], actor["key"])
}

var eventCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of recorded events",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		var out map[string]int
		if err := c.get(cmd.Context(), "/events/count", nil, &out); err != nil {
			return fmt.Errorf("counting events: %w", err)
		}
		fmt.Println(out["count"])
		return nil
	},
}

var eventInspectCmd = &cobra.Command{
	Use:   "inspect ID",
	Short: "Show full event details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)
		var out map[string]any
		if err := c.get(cmd.Context(), "/events/"+args[0]+"/inspect", nil, &out); err != nil {
			return fmt.Errorf("inspecting event %s: %w", args[0], err)
		}
		return printJSON(out)
	},
}

var eventWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream events as they occur",
	Long: `Stream events as a line-delimited JSON feed until the
connection is closed (Ctrl-C) or an event matches --until-actor-kind/
--until-action/--until-reason, whichever comes first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromCmd(cmd)

		actorKind, _ := cmd.Flags().GetString("until-actor-kind")
		action, _ := cmd.Flags().GetString("until-action")
		reason, _ := cmd.Flags().GetString("until-reason")

		var conds []types.EventCondition
		if actorKind != "" || action != "" || reason != "" {
			conds = append(conds, types.EventCondition{
				ActorKind: actorKind,
				Action:    types.NativeEventAction(action),
				Reason:    reason,
			})
		}

		resp, err := c.stream(cmd.Context(), "/events/watch", conds)
		if err != nil {
			return fmt.Errorf("watching events: %w", err)
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			fmt.Println(scanner.Text())
		}
		return scanner.Err()
	},
}

func init() {
	eventListCmd.Flags().Int("limit", 0, "maximum number of events to return")
	eventWatchCmd.Flags().String("until-actor-kind", "", "stop once an event's actor kind matches")
	eventWatchCmd.Flags().String("until-action", "", "stop once an event's action matches")
	eventWatchCmd.Flags().String("until-reason", "", "stop once an event's reason matches")

	eventCmd.AddCommand(eventListCmd, eventCountCmd, eventInspectCmd, eventWatchCmd)
}
