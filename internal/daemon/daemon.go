package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"waypoint/internal/api"
	"waypoint/internal/archive"
	"waypoint/internal/capture"
	"waypoint/internal/config"
	"waypoint/internal/connectivity"
	"waypoint/internal/logging"
	"waypoint/internal/notifications"
	"waypoint/internal/queue"
	"waypoint/internal/session"
	"waypoint/internal/syncer"
)

// Deps are the collaborators the daemon does not build itself.
type Deps struct {
	Store        queue.Store
	Client       syncer.Client
	Connectivity connectivity.Checker
	Sessions     session.Provider
	Notifier     notifications.Service
	Archiver     archive.Archiver
	Locator      capture.Locator
	Logger       *slog.Logger
}

// Daemon coordinates the background sync services and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     queue.Store
	manager   *queue.Manager
	driver    *syncer.Driver
	scheduler *syncer.Scheduler
	capture   *capture.Service
	archiver  archive.Archiver
	conn      connectivity.Checker
	sessions  session.Provider
	notifier  notifications.Service
	watcher   *connectivity.LinkWatcher
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc

	lastMu   sync.Mutex
	lastScan *queue.Record

	unsubscribe func()
	events      sync.WaitGroup
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, deps Deps) (*Daemon, error) {
	if cfg == nil || deps.Store == nil || deps.Client == nil {
		return nil, errors.New("daemon requires config, queue store, and sync client")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if deps.Connectivity == nil {
		deps.Connectivity = connectivity.Static{Connected: true}
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewFileProvider(cfg, logger)
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewService(cfg)
	}
	if deps.Archiver == nil {
		deps.Archiver = archive.Noop{}
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    deps.Store,
		archiver: deps.Archiver,
		conn:     deps.Connectivity,
		sessions: deps.Sessions,
		notifier: deps.Notifier,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	d.manager = queue.NewManager(deps.Store, queue.WithLogger(logger))
	d.driver = syncer.New(syncer.Deps{
		Queue:        d.manager,
		Client:       deps.Client,
		Connectivity: deps.Connectivity,
		Sessions:     deps.Sessions,
		Notifier:     deps.Notifier,
		Logger:       logger,
	}, syncer.Options{
		IncludeClientRef:      cfg.Server.SendClientRef,
		BacklogAlertThreshold: cfg.Sync.BacklogAlertThreshold,
	})
	d.scheduler = syncer.NewScheduler(d.driver, logger)

	var names capture.CheckpointNamer
	if namer, ok := deps.Sessions.(capture.CheckpointNamer); ok {
		names = namer
	}
	locator := deps.Locator
	if locator == nil {
		locator = capture.NewLocator(cfg)
	}
	d.capture = capture.NewService(capture.Deps{
		Queue:    d.manager,
		Sessions: deps.Sessions,
		Names:    names,
		Locator:  locator,
		Trigger:  syncTrigger{d: d},
		Logger:   logger,
	}, capture.Options{
		DefaultCheckpointID: cfg.Session.CheckpointID,
		TriggerOnEnqueue:    cfg.Sync.TriggerOnEnqueue,
	})

	if cfg.Connectivity.WatchNetlink {
		d.watcher = connectivity.NewLinkWatcher(logger, func(string) { d.scheduler.Kick() })
	}
	d.api = newAPIServer(cfg, d, logger)

	events, cancel := d.manager.Subscribe(32)
	d.unsubscribe = cancel
	d.events.Add(1)
	go d.watchQueue(events)
	return d, nil
}

// syncTrigger kicks the scheduler when it runs, else starts a one-off attempt.
type syncTrigger struct{ d *Daemon }

func (t syncTrigger) TriggerOnEnqueue() {
	if t.d.scheduler.Running() {
		t.d.scheduler.Kick()
		return
	}
	t.d.driver.TriggerOnEnqueue()
}

func (d *Daemon) watchQueue(events <-chan queue.Event) {
	defer d.events.Done()
	for evt := range events {
		d.lastMu.Lock()
		switch evt.Type {
		case queue.EventEnqueued:
			if evt.Record != nil {
				rec := *evt.Record
				d.lastScan = &rec
			}
		case queue.EventStatusChanged:
			if evt.Record != nil && d.lastScan != nil && d.lastScan.ID == evt.Record.ID {
				rec := *evt.Record
				d.lastScan = &rec
			}
		case queue.EventCleared:
			d.lastScan = nil
		case queue.EventClearedSynced:
			if d.lastScan != nil && d.lastScan.Status == queue.StatusSynced {
				d.lastScan = nil
			}
		}
		d.lastMu.Unlock()
	}
}

// Start acquires the daemon lock and launches the scheduler, link watcher, and API server.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another waypoint daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.scheduler.Start(runCtx, d.cfg.SyncInterval()); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start sync scheduler: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.scheduler.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}
	if d.watcher != nil {
		if err := d.watcher.Start(runCtx); err != nil {
			logging.WarnWithContext(d.logger, "link watcher unavailable", "link_watcher_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "set connectivity.watch_netlink = false on systems without netlink access"),
				logging.String(logging.FieldImpact, "sync waits for the next interval after a link comes up"),
			)
		}
	}
	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("waypoint daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.Duration("sync_interval", d.cfg.SyncInterval()),
	)
	// Drain what accumulated while the daemon was down.
	d.scheduler.Kick()
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.api.stop()
	d.watcher.Stop()
	d.scheduler.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.driver.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("waypoint daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.driver.Wait()
	if d.unsubscribe != nil {
		d.unsubscribe()
		d.unsubscribe = nil
	}
	d.events.Wait()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// ListQueue returns records filtered by optional statuses, ordered by capture time.
func (d *Daemon) ListQueue(ctx context.Context, statuses []queue.Status) []queue.Record {
	if len(statuses) == 0 {
		return d.manager.ListAll(ctx)
	}
	return d.manager.ListByStatus(ctx, statuses...)
}

// QueueStats returns record counts per status.
func (d *Daemon) QueueStats(ctx context.Context) queue.Stats {
	return d.manager.Stats(ctx)
}

// Capture stores a scan through the capture flow.
func (d *Daemon) Capture(ctx context.Context, req capture.Request) (capture.Result, error) {
	return d.capture.Capture(ctx, req)
}

// SyncNow runs one attempt and returns its outcome.
func (d *Daemon) SyncNow(ctx context.Context) syncer.Outcome {
	return d.driver.AttemptSync(ctx)
}

// ClearQueue snapshots then removes every record. The snapshot covers exactly
// the removed records because both happen under the queue lock.
func (d *Daemon) ClearQueue(ctx context.Context) (int, string, error) {
	var key string
	removed, err := d.manager.ClearWith(ctx, func(records []queue.Record) (err error) {
		key, err = d.snapshot(ctx, records)
		return err
	})
	if err != nil {
		return 0, "", err
	}
	return removed, key, nil
}

// ClearSynced snapshots then removes synced records.
func (d *Daemon) ClearSynced(ctx context.Context) (int, string, error) {
	var key string
	removed, err := d.manager.ClearSyncedWith(ctx, func(records []queue.Record) (err error) {
		key, err = d.snapshot(ctx, records)
		return err
	})
	if err != nil {
		return 0, "", err
	}
	return removed, key, nil
}

func (d *Daemon) snapshot(ctx context.Context, records []queue.Record) (string, error) {
	if len(records) == 0 {
		return "", nil
	}
	key, err := d.archiver.Snapshot(ctx, records)
	if err != nil {
		logging.ErrorWithContext(d.logger, "queue snapshot failed; clear aborted", "queue_snapshot_failed",
			logging.Error(err),
			logging.Int("records", len(records)),
			logging.String(logging.FieldErrorHint, "check archive.endpoint and credentials, or disable archive"),
			logging.String(logging.FieldImpact, "no records were removed"),
		)
		return "", fmt.Errorf("snapshot before clear: %w", err)
	}
	return key, nil
}

// DatabaseHealth returns detailed store diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	checker, ok := d.store.(queue.HealthChecker)
	if !ok {
		return queue.DatabaseHealth{}, errors.New("queue store does not report health")
	}
	return checker.CheckHealth(ctx)
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// APIAddress returns the bound HTTP address, empty when the API is disabled or stopped.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:          d.running.Load(),
		PID:              os.Getpid(),
		QueueBackend:     d.cfg.Queue.Backend,
		QueuePath:        d.cfg.QueuePath(),
		LockPath:         d.lockPath,
		Stats:            api.FromStats(d.manager.Stats(ctx)),
		Connectivity:     api.FromConnectivity(d.conn.Status(ctx)),
		SyncInFlight:     d.driver.InFlight(),
		SchedulerRunning: d.scheduler.Running(),
		LinkWatcher:      d.watcher.Running(),
	}
	if interval := d.scheduler.Interval(); interval > 0 {
		status.SchedulerInterval = interval.String()
	}
	if sess, err := d.sessions.Current(ctx); err == nil && sess.Valid() {
		status.SessionPresent = true
	}
	if out, ok := d.driver.LastOutcome(); ok {
		dto := api.FromOutcome(out)
		status.LastSync = &dto
	}
	d.lastMu.Lock()
	if d.lastScan != nil {
		dto := api.FromRecord(*d.lastScan)
		status.LastScan = &dto
	}
	d.lastMu.Unlock()
	return status
}
