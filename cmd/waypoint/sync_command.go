package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"waypoint/internal/queueaccess"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Deliver pending scans to the timing server now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(access queueaccess.Access) error {
				outcome, err := access.SyncNow(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, outcome)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderStatusLine("Sync", outcomeKind(outcome.Kind, outcome.Reason), outcome.Summary, shouldColorize(out)))
				if outcome.Unmatched > 0 {
					fmt.Fprintf(out, "%d server details did not match a sent scan\n", outcome.Unmatched)
				}
				if outcome.TraceID != "" {
					fmt.Fprintf(out, "Trace: %s\n", outcome.TraceID)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the outcome as JSON")
	return cmd
}
