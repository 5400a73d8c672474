package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"waypoint/internal/api"
	"waypoint/internal/queueaccess"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the scan queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueClearSyncedCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued scans in capture order",
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := validateFormat(format)
			if err != nil {
				return err
			}
			return ctx.withQueue(func(access queueaccess.Access) error {
				items, err := access.List(cmd.Context(), splitStatuses(statuses))
				if err != nil {
					return err
				}
				if handled, err := writeStructured(cmd, outFormat, api.QueueListResponse{Items: items}); handled {
					return err
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Tag", "Checkpoint", "Captured", "Status", "Retries", "Outcome"},
					buildQueueListRows(items),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status: pending, synced, failed (repeatable)")
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, json or yaml")
	return cmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-status counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := validateFormat(format)
			if err != nil {
				return err
			}
			return ctx.withQueue(func(access queueaccess.Access) error {
				stats, err := access.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if handled, err := writeStructured(cmd, outFormat, stats); handled {
					return err
				}
				rows := buildQueueStatusRows(stats)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, json or yaml")
	return cmd
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every queued scan, including unsynced ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return ctx.withQueue(func(access queueaccess.Access) error {
				if !yes {
					stats, err := access.Stats(cmd.Context())
					if err != nil {
						return err
					}
					if stats.Total == 0 {
						fmt.Fprintln(out, "Queue is empty")
						return nil
					}
					prompt := fmt.Sprintf("Remove %d scans (%d not yet synced)?", stats.Total, stats.Pending+stats.Failed)
					if !confirm(cmd.InOrStdin(), out, prompt) {
						fmt.Fprintln(out, "Aborted")
						return nil
					}
				}
				resp, err := access.ClearAll(cmd.Context())
				if err != nil {
					return err
				}
				printClearResult(out, resp, "scans")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newQueueClearSyncedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-synced",
		Short: "Remove scans the server has accepted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(access queueaccess.Access) error {
				resp, err := access.ClearSynced(cmd.Context())
				if err != nil {
					return err
				}
				printClearResult(cmd.OutOrStdout(), resp, "synced scans")
				return nil
			})
		},
	}
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check queue store integrity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueue(func(access queueaccess.Access) error {
				health, err := access.Health(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Backend: %s\n", health.Backend)
				fmt.Fprintf(out, "Path: %s\n", health.DBPath)
				fmt.Fprintf(out, "Exists: %s\n", yesNo(health.DatabaseExists))
				fmt.Fprintf(out, "Readable: %s\n", yesNo(health.DatabaseReadable))
				if health.SchemaVersion != "" {
					fmt.Fprintf(out, "Schema version: %s\n", health.SchemaVersion)
				}
				fmt.Fprintf(out, "Integrity: %s\n", yesNo(health.IntegrityCheck))
				fmt.Fprintf(out, "Records: %d\n", health.TotalItems)
				if len(health.MissingColumns) > 0 {
					fmt.Fprintf(out, "Missing columns: %s\n", strings.Join(health.MissingColumns, ", "))
				}
				if health.Error != "" {
					fmt.Fprintf(out, "Error: %s\n", health.Error)
				}
				return nil
			})
		},
	}
}

func printClearResult(out io.Writer, resp api.ClearResponse, label string) {
	fmt.Fprintf(out, "Removed %d %s\n", resp.Removed, label)
	if resp.ArchiveKey != "" {
		fmt.Fprintf(out, "Snapshot archived as %s\n", resp.ArchiveKey)
	}
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func splitStatuses(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func buildQueueStatusRows(stats api.Stats) [][]string {
	if stats.Total == 0 {
		return nil
	}
	rows := make([][]string, 0, 4)
	for _, entry := range []struct {
		label string
		count int
	}{
		{"Pending", stats.Pending},
		{"Failed", stats.Failed},
		{"Synced", stats.Synced},
	} {
		if entry.count > 0 {
			rows = append(rows, []string{entry.label, fmt.Sprint(entry.count)})
		}
	}
	rows = append(rows, []string{"Total", fmt.Sprint(stats.Total)})
	return rows
}

func buildQueueListRows(items []api.Record) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		checkpoint := fmt.Sprint(item.CheckpointID)
		if item.CheckpointName != "" {
			checkpoint = fmt.Sprintf("%s (%d)", item.CheckpointName, item.CheckpointID)
		}
		rows = append(rows, []string{
			item.TagIdentifier,
			checkpoint,
			item.CapturedAt,
			item.Status,
			fmt.Sprint(item.RetryCount),
			describeOutcome(item.Outcome),
		})
	}
	return rows
}

func describeOutcome(outcome *api.Outcome) string {
	if outcome == nil {
		return ""
	}
	parts := []string{outcome.Kind}
	if outcome.Reason != "" {
		parts = append(parts, outcome.Reason)
	}
	if outcome.Message != "" {
		parts = append(parts, outcome.Message)
	}
	return strings.Join(parts, ": ")
}
