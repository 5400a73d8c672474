package connectivity

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"waypoint/internal/logging"
)

// LinkWatcher listens for udev netlink events on network interfaces and
// calls onLink when one is added or comes online.
type LinkWatcher struct {
	logger *slog.Logger
	onLink func(iface string)

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewLinkWatcher creates a watcher that invokes onLink for interface events.
func NewLinkWatcher(logger *slog.Logger, onLink func(iface string)) *LinkWatcher {
	return &LinkWatcher{
		logger: logging.NewComponentLogger(logger, "link-watcher"),
		onLink: onLink,
	}
}

// Start begins listening. Failure to open the netlink socket is logged and
// otherwise ignored; periodic sync still runs.
func (w *LinkWatcher) Start(ctx context.Context) error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		w.logger.Warn("failed to connect to netlink socket; link changes will not trigger sync",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon may open netlink sockets"),
			logging.String(logging.FieldImpact, "sync waits for the next periodic tick after reconnecting"),
		)
		return nil
	}

	w.conn = conn
	w.quit = make(chan struct{})
	w.running = true

	quit := w.quit
	go w.loop(ctx, conn, quit)

	w.logger.Info("link watcher started",
		logging.String(logging.FieldEventType, "link_watcher_started"),
	)
	return nil
}

// Stop shuts the watcher down. Safe to call repeatedly or before Start.
func (w *LinkWatcher) Stop() {
	if w == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	if w.quit != nil {
		close(w.quit)
		w.quit = nil
	}
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.running = false

	w.logger.Info("link watcher stopped",
		logging.String(logging.FieldEventType, "link_watcher_stopped"),
	)
}

// Running reports whether the watcher is active.
func (w *LinkWatcher) Running() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *LinkWatcher) loop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	events := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(events, errs, buildLinkMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-events:
			w.handleEvent(uevent)
		case err := <-errs:
			w.logger.Warn("netlink monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_monitor_error"),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "link changes may not trigger sync"),
			)
		}
	}
}

// buildLinkMatcher matches SUBSYSTEM=net with ACTION=add|change|online|move.
func buildLinkMatcher() netlink.Matcher {
	action := "add|change|online|move"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "net",
		},
	})
	return rules
}

func (w *LinkWatcher) handleEvent(uevent netlink.UEvent) {
	iface := uevent.Env["INTERFACE"]
	if iface == "" || iface == "lo" {
		return
	}
	w.logger.Info("network interface event",
		logging.String(logging.FieldEventType, "link_event"),
		logging.String("interface", iface),
		logging.String("action", string(uevent.Action)),
	)
	if w.onLink != nil {
		w.onLink(iface)
	}
}
