// Package main: activity inspection command.
package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"collabsync/internal/admin"
)

var (
	activitiesFrom  int64
	activitiesCount int64
)

var activitiesCmd = &cobra.Command{
	Use:   "activities <session-id>",
	Short: "Show a window of a session's activity index",
	Long: `Prints activities of a live or archived session in replay order.
A negative --count selects the last |count| activities.`,
	Args: cobra.ExactArgs(1),
	RunE: runActivities,
}

func runActivities(cmd *cobra.Command, args []string) error {
	sessionID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid session id %q: %w", args[0], err)
	}
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.close()

	resp := env.dispatcher.GetSessionActivities(admin.GetSessionActivitiesRequest{
		SessionID:      sessionID,
		FromActivityID: activitiesFrom,
		Count:          activitiesCount,
	})
	if !resp.Ok() {
		return fmt.Errorf("failed to fetch activities: %s", resp.Reason)
	}

	for _, a := range resp.Activities {
		when := time.Unix(0, a.EventTime).UTC().Format(time.RFC3339)
		marker := " "
		if a.Ignored {
			marker = "i"
		}
		fmt.Printf("%6d %s %-11s event=%-6d %s  %s\n",
			a.ActivityID, marker, a.EventType, a.EventID, when, a.SummaryType)
	}
	fmt.Printf("%d activities\n", len(resp.Activities))
	return nil
}

func init() {
	activitiesCmd.Flags().Int64Var(&activitiesFrom, "from", 1, "first activity id")
	activitiesCmd.Flags().Int64Var(&activitiesCount, "count", 100, "number of activities (negative = last |count|)")
}
