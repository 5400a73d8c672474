package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"waypoint/internal/archive"
	"waypoint/internal/capture"
	"waypoint/internal/config"
	"waypoint/internal/connectivity"
	"waypoint/internal/daemon"
	"waypoint/internal/ipc"
	"waypoint/internal/logging"
	"waypoint/internal/notifications"
	"waypoint/internal/preflight"
	"waypoint/internal/queue"
	"waypoint/internal/reconcile"
	"waypoint/internal/session"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	SocketPath  string
}

// Run starts the waypoint daemon and blocks until ctx is cancelled or the
// process receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("waypoint-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	console, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout"},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	fileHandler, logFile, err := logging.NewFileHandler(logPath, level)
	if err != nil {
		return fmt.Errorf("init run log: %w", err)
	}
	defer logFile.Close()
	logger := logging.WithRunID(logging.TeeLogger(console, fileHandler), uuid.NewString())

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update waypoint.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, cfg.Paths.LogDir, "waypoint-*.log", logPath)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	parts, err := assemble(cfg, logger)
	if err != nil {
		logger.Error("assemble daemon", logging.Error(err))
		return err
	}
	d := parts.daemon
	defer d.Close()

	logReadiness(signalCtx, logger, cfg, parts.store, parts.sessions, parts.client)

	socketPath := opts.SocketPath
	if socketPath == "" {
		socketPath = cfg.SocketPath()
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check that no other waypoint daemon holds the queue lock"),
			logging.String(logging.FieldImpact, "scans are captured but not synced until the daemon starts"),
		)
	}

	<-signalCtx.Done()
	logger.Info("waypoint daemon shutting down")
	return nil
}

// Build opens the queue store and assembles an unstarted daemon with the
// production collaborators. Closing the daemon closes the store.
func Build(cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, error) {
	parts, err := assemble(cfg, logger)
	if err != nil {
		return nil, err
	}
	return parts.daemon, nil
}

type components struct {
	daemon   *daemon.Daemon
	store    queue.Store
	sessions session.Provider
	client   *reconcile.Client
}

func assemble(cfg *config.Config, logger *slog.Logger) (components, error) {
	if cfg == nil {
		return components{}, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	client, err := reconcile.NewFromConfig(cfg)
	if err != nil {
		return components{}, fmt.Errorf("create sync client: %w", err)
	}
	archiver, err := archive.New(cfg, logger)
	if err != nil {
		return components{}, fmt.Errorf("configure archive: %w", err)
	}
	store, err := queue.Open(cfg, logger)
	if err != nil {
		return components{}, fmt.Errorf("open queue store: %w", err)
	}
	sessions := session.NewFileProvider(cfg, logger)

	d, err := daemon.New(cfg, daemon.Deps{
		Store:        store,
		Client:       client,
		Connectivity: connectivity.NewHTTPReachability(client, cfg.ReachTimeout(), logger),
		Sessions:     sessions,
		Notifier:     notifications.NewService(cfg),
		Archiver:     archiver,
		Locator:      capture.NewLocator(cfg),
		Logger:       logger,
	})
	if err != nil {
		_ = store.Close()
		return components{}, fmt.Errorf("create daemon: %w", err)
	}
	return components{daemon: d, store: store, sessions: sessions, client: client}, nil
}

// logReadiness records the preflight results. Failures are warnings only:
// capture keeps working while the device is offline.
func logReadiness(ctx context.Context, logger *slog.Logger, cfg *config.Config, store queue.Store, sessions session.Provider, pinger connectivity.Pinger) {
	results := preflight.Run(ctx, cfg, preflight.Deps{Store: store, Sessions: sessions, Pinger: pinger})
	for _, result := range results {
		if result.Passed {
			logger.Debug("preflight check passed",
				logging.String(logging.FieldEventType, "preflight_passed"),
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "run `waypoint doctor` for details"),
		)
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "waypoint.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
