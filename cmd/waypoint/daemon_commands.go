package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"waypoint/internal/api"
	"waypoint/internal/daemonctl"
	"waypoint/internal/ipc"
	"waypoint/internal/queueaccess"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the waypoint daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(ctx.socketPath(), exe, daemonLaunchOptions(ctx), 10*time.Second)
			if err != nil {
				return err
			}
			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}
			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintln(stdout, "Daemon started")
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			case daemonctl.StartStateRequested:
				if strings.TrimSpace(result.Message) != "" {
					fmt.Fprintln(stdout, result.Message)
					return nil
				}
				fmt.Fprintln(stdout, "Start request sent")
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the waypoint daemon process",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Daemon did not exit in time, killed pid %d\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, connectivity and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := ctx.statusSnapshot(cmd)
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, status)
			}
			renderStatus(cmd.OutOrStdout(), status, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")

	return []*cobra.Command{startCmd, stopCmd, statusCmd}
}

// statusSnapshot asks the daemon for its status, or builds an offline view
// from the store when no daemon answers.
func (c *commandContext) statusSnapshot(cmd *cobra.Command) (api.DaemonStatus, error) {
	if client, err := ipc.Dial(c.socketPath()); err == nil {
		defer client.Close()
		resp, statusErr := client.Status()
		if statusErr != nil {
			return api.DaemonStatus{}, statusErr
		}
		return *resp, nil
	}

	status := api.DaemonStatus{}
	if cfg := c.configValue(); cfg != nil {
		status.QueueBackend = cfg.Queue.Backend
		status.QueuePath = cfg.QueuePath()
		status.LockPath = cfg.LockPath()
	}
	err := c.withQueue(func(access queueaccess.Access) error {
		stats, err := access.Stats(cmd.Context())
		if err != nil {
			return err
		}
		status.Stats = stats
		return nil
	})
	return status, err
}

func renderStatus(out io.Writer, status api.DaemonStatus, colorize bool) {
	printSection(out, "System Status", colorize)
	if status.Running {
		fmt.Fprintln(out, renderStatusLine("Waypoint", statusOK, "Running (pid "+strconv.Itoa(status.PID)+")", colorize))
	} else if status.PID > 0 {
		fmt.Fprintln(out, renderStatusLine("Waypoint", statusWarn, "Sync paused (run `waypoint start`)", colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Waypoint", statusWarn, "Not running (run `waypoint start`)", colorize))
	}
	if status.PID > 0 {
		if status.Connectivity.Connected {
			fmt.Fprintln(out, renderStatusLine("Connectivity", statusOK, "Online via "+status.Connectivity.Medium, colorize))
		} else {
			fmt.Fprintln(out, renderStatusLine("Connectivity", statusWarn, "Offline ("+status.Connectivity.Medium+")", colorize))
		}
		if status.SessionPresent {
			fmt.Fprintln(out, renderStatusLine("Session", statusOK, "Logged in", colorize))
		} else {
			fmt.Fprintln(out, renderStatusLine("Session", statusWarn, "No session; scans wait until login", colorize))
		}
		detail := "Stopped"
		kind := statusWarn
		if status.SchedulerRunning {
			detail, kind = "Every "+status.SchedulerInterval, statusOK
		}
		fmt.Fprintln(out, renderStatusLine("Scheduler", kind, detail, colorize))
		if status.LinkWatcher {
			fmt.Fprintln(out, renderStatusLine("Link Watcher", statusOK, "Netlink monitoring active", colorize))
		} else {
			fmt.Fprintln(out, renderStatusLine("Link Watcher", statusInfo, "Inactive", colorize))
		}
	}
	fmt.Fprintln(out, renderStatusLine("Queue", statusInfo, fmt.Sprintf("%s (%s)", status.QueuePath, status.QueueBackend), colorize))
	fmt.Fprintln(out)

	if status.LastSync != nil || status.LastScan != nil {
		printSection(out, "Activity", colorize)
		if last := status.LastSync; last != nil {
			fmt.Fprintln(out, renderStatusLine("Last Sync", outcomeKind(last.Kind, last.Reason), last.Summary, colorize))
		}
		if scan := status.LastScan; scan != nil {
			fmt.Fprintln(out, renderStatusLine("Last Scan", statusInfo,
				fmt.Sprintf("%s at checkpoint %d (%s)", scan.TagIdentifier, scan.CheckpointID, scan.Status), colorize))
		}
		fmt.Fprintln(out)
	}

	printSection(out, "Queue Status", colorize)
	rows := buildQueueStatusRows(status.Stats)
	if len(rows) == 0 {
		fmt.Fprintln(out, "Queue is empty")
		return
	}
	fmt.Fprint(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{LogLevel: ctx.logLevel()}
	if cfg, err := ctx.ensureConfig(); err == nil && strings.TrimSpace(cfg.Paths.LogDir) != "" {
		opts.OutputPath = filepath.Join(cfg.Paths.LogDir, "daemon.out")
	}
	if ctx.socketFlag != nil {
		if socket := strings.TrimSpace(*ctx.socketFlag); socket != "" {
			opts.SocketPath = socket
		}
	}
	if ctx.configFlag != nil {
		if config := strings.TrimSpace(*ctx.configFlag); config != "" {
			opts.ConfigPath = config
		}
	}
	return opts
}
