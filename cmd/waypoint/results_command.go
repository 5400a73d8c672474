package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"waypoint/internal/logging"
	"waypoint/internal/reconcile"
	"waypoint/internal/session"
)

type resultsFetcher func(ctx context.Context, client *reconcile.Client, token string, id int64) ([]reconcile.Result, error)

func newResultsCommand(ctx *commandContext) *cobra.Command {
	resultsCmd := &cobra.Command{
		Use:   "results",
		Short: "Fetch published results from the timing server",
	}
	resultsCmd.AddCommand(newResultsSubcommand(ctx, "race", "Race results for a checkpoint", "checkpoint",
		func(ctx context.Context, c *reconcile.Client, token string, id int64) ([]reconcile.Result, error) {
			return c.RaceResults(ctx, token, id)
		}))
	resultsCmd.AddCommand(newResultsSubcommand(ctx, "prerace", "Pre-race check-ins for a checkpoint", "checkpoint",
		func(ctx context.Context, c *reconcile.Client, token string, id int64) ([]reconcile.Result, error) {
			return c.PreRaceResults(ctx, token, id)
		}))
	resultsCmd.AddCommand(newResultsSubcommand(ctx, "final", "Final standings for an event", "event",
		func(ctx context.Context, c *reconcile.Client, token string, id int64) ([]reconcile.Result, error) {
			return c.FinalResults(ctx, token, id)
		}))
	return resultsCmd
}

func newResultsSubcommand(ctx *commandContext, use, short, idFlag string, fetch resultsFetcher) *cobra.Command {
	var id int64
	var format string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := validateFormat(format)
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			sess, err := session.NewFileProvider(cfg, logging.NewNop()).Current(cmd.Context())
			if err != nil {
				return err
			}
			if id <= 0 && idFlag == "checkpoint" {
				if assigned, ok := sess.Checkpoint(); ok {
					id = assigned
				}
			}
			if id <= 0 {
				return fmt.Errorf("--%s is required", idFlag)
			}
			client, err := reconcile.NewFromConfig(cfg)
			if err != nil {
				return err
			}
			results, err := fetch(cmd.Context(), client, sess.Token, id)
			if err != nil {
				var netErr *reconcile.NetworkError
				if errors.As(err, &netErr) && netErr.StatusCode == 0 {
					return fmt.Errorf("timing server unreachable: %w", err)
				}
				return err
			}
			if handled, err := writeStructured(cmd, outFormat, results); handled {
				return err
			}
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No results yet")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"Pos", "Bib", "Racer", "Checkpoint", "Section", "Total"},
				buildResultRows(results),
				[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().Int64Var(&id, idFlag, 0, fmt.Sprintf("%s id", idFlag))
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, json or yaml")
	return cmd
}

func buildResultRows(results []reconcile.Result) [][]string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		pos := "-"
		if r.Position != nil {
			pos = strconv.Itoa(*r.Position)
		}
		rows = append(rows, []string{
			pos,
			strconv.FormatInt(r.Racer.BibNumber, 10),
			r.Racer.Name,
			r.Checkpoint.Name,
			reconcile.FormatDuration(r.SectionTime),
			reconcile.FormatDuration(r.TotalTime),
		})
	}
	return rows
}
