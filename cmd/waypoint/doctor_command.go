package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"waypoint/internal/ipc"
	"waypoint/internal/logging"
	"waypoint/internal/preflight"
	"waypoint/internal/queue"
	"waypoint/internal/queueaccess"
	"waypoint/internal/reconcile"
	"waypoint/internal/session"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, queue store, session and server reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			deps := preflight.Deps{Sessions: session.NewFileProvider(cfg, logging.NewNop())}
			if client, clientErr := reconcile.NewFromConfig(cfg); clientErr == nil {
				deps.Pinger = client
			}
			results := preflight.Run(cmd.Context(), cfg, deps)
			if deps.Pinger == nil {
				results = append(results, preflight.Result{Name: "Timing server", Detail: "invalid server.base_url"})
			}

			storeErr := ctx.withQueue(func(access queueaccess.Access) error {
				health, err := access.Health(cmd.Context())
				if err != nil {
					return err
				}
				results = append(results, preflight.EvaluateQueueHealth(toDatabaseHealth(health)))
				return nil
			})
			if storeErr != nil {
				results = append(results, preflight.Result{Name: "Queue store", Detail: storeErr.Error()})
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			printSection(out, "Preflight", colorize)
			for _, result := range results {
				kind := statusOK
				if !result.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed", len(failed))
			}
			return nil
		},
	}
}

func toDatabaseHealth(resp ipc.DatabaseHealthResponse) queue.DatabaseHealth {
	return queue.DatabaseHealth{
		Backend:          resp.Backend,
		DBPath:           resp.DBPath,
		DatabaseExists:   resp.DatabaseExists,
		DatabaseReadable: resp.DatabaseReadable,
		SchemaVersion:    resp.SchemaVersion,
		TableExists:      resp.TableExists,
		ColumnsPresent:   resp.ColumnsPresent,
		MissingColumns:   resp.MissingColumns,
		IntegrityCheck:   resp.IntegrityCheck,
		TotalItems:       resp.TotalItems,
		Error:            resp.Error,
	}
}
