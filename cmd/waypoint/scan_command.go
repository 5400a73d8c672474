package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"waypoint/internal/api"
	"waypoint/internal/capture"
	"waypoint/internal/queueaccess"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var (
		checkpointID int64
		name         string
		lat, lon     float64
		fromStdin    bool
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "scan [tag]",
		Short: "Capture a tag scan into the queue",
		Long: "Capture a tag scan into the queue.\n\n" +
			"The checkpoint defaults to the one assigned to the logged-in session. " +
			"With --stdin, one tag is read per line until end of input, as a keyboard-wedge reader emits them.",
		Args: func(cmd *cobra.Command, args []string) error {
			if fromStdin && len(args) > 0 {
				return errors.New("pass a tag argument or --stdin, not both")
			}
			if !fromStdin && len(args) != 1 {
				return errors.New("exactly one tag is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			base := api.CaptureRequest{CheckpointID: checkpointID, CheckpointName: name}
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon") {
				if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lon") {
					return errors.New("--lat and --lon must be given together")
				}
				base.Lat, base.Lon = &lat, &lon
			}

			return ctx.withQueue(func(access queueaccess.Access) error {
				submit := func(tag string) error {
					req := base
					req.TagIdentifier = tag
					resp, err := access.Capture(cmd.Context(), req)
					if err != nil {
						return err
					}
					if asJSON {
						return writeJSON(cmd, resp)
					}
					printCapture(cmd.OutOrStdout(), resp)
					return nil
				}

				if !fromStdin {
					return submit(args[0])
				}
				reader := capture.NewLineReader(cmd.InOrStdin())
				for {
					read, err := reader.Read(cmd.Context())
					if capture.IsEndOfInput(err) {
						return nil
					}
					if err != nil {
						return err
					}
					if !read.Success {
						return fmt.Errorf("read tag: %s", read.Error)
					}
					if err := submit(read.TagIdentifier); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", read.TagIdentifier, err)
					}
				}
			})
		},
	}

	cmd.Flags().Int64Var(&checkpointID, "checkpoint", 0, "Checkpoint id (defaults to the session assignment)")
	cmd.Flags().StringVar(&name, "name", "", "Checkpoint display name")
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude of the scan")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Longitude of the scan")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Read tags from standard input, one per line")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the stored record as JSON")
	return cmd
}

func printCapture(out io.Writer, resp api.CaptureResponse) {
	rec := resp.Record
	checkpoint := fmt.Sprint(rec.CheckpointID)
	if strings.TrimSpace(rec.CheckpointName) != "" {
		checkpoint = fmt.Sprintf("%s (%d)", rec.CheckpointName, rec.CheckpointID)
	}
	if resp.Duplicate {
		fmt.Fprintf(out, "Duplicate: %s already queued at checkpoint %s (%s)\n", rec.TagIdentifier, checkpoint, rec.Status)
		return
	}
	fmt.Fprintf(out, "Queued %s at checkpoint %s\n", rec.TagIdentifier, checkpoint)
}
