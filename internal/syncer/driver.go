package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"waypoint/internal/connectivity"
	"waypoint/internal/logging"
	"waypoint/internal/notifications"
	"waypoint/internal/queue"
	"waypoint/internal/reconcile"
	"waypoint/internal/services"
	"waypoint/internal/session"
)

// Queue is the subset of queue.Manager the driver uses.
type Queue interface {
	ListPending(ctx context.Context) []queue.Record
	ListByStatus(ctx context.Context, statuses ...queue.Status) []queue.Record
	RequeueFailed(ctx context.Context) ([]queue.Record, error)
	ApplyBatch(ctx context.Context, updates []queue.Update) (queue.Applied, error)
	Stats(ctx context.Context) queue.Stats
}

// Client sends one batch; reconcile.Client satisfies it.
type Client interface {
	Sync(ctx context.Context, token string, records []reconcile.WireRecord) (*reconcile.SyncResponse, error)
}

// Deps wires the collaborators of a Driver.
type Deps struct {
	Queue        Queue
	Client       Client
	Connectivity connectivity.Checker
	Sessions     session.Provider
	Notifier     notifications.Service
	Logger       *slog.Logger
	Clock        func() time.Time
}

// Options tunes a Driver.
type Options struct {
	IncludeClientRef      bool
	BacklogAlertThreshold int
}

// Driver runs delivery attempts.
type Driver struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	inFlight atomic.Bool
	triggers sync.WaitGroup

	mu             sync.Mutex
	last           *Outcome
	backlogAlerted bool
	failingSince   time.Time
}

// New builds a Driver. Missing connectivity means always connected; a
// missing notifier disables alerts.
func New(deps Deps, opts Options) *Driver {
	if deps.Connectivity == nil {
		deps.Connectivity = connectivity.Static{Connected: true}
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewService(nil)
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Driver{
		deps:   deps,
		opts:   opts,
		logger: logging.NewComponentLogger(deps.Logger, "syncer"),
		now:    now,
	}
}

// AttemptSync runs one delivery attempt.
func (d *Driver) AttemptSync(ctx context.Context) Outcome {
	if !d.inFlight.CompareAndSwap(false, true) {
		d.logger.Debug("sync attempt already in flight",
			logging.String(logging.FieldEventType, "sync_skipped"),
			logging.String("reason", string(SkipInProgress)),
		)
		return skipped(SkipInProgress)
	}
	defer d.inFlight.Store(false)

	requestID := uuid.NewString()
	ctx = services.WithRequestID(ctx, requestID)
	logger := logging.WithContext(ctx, d.logger)

	started := d.now()
	out := d.attempt(ctx, logger)
	out.RequestID = requestID
	out.StartedAt = started
	out.FinishedAt = d.now()

	d.record(ctx, logger, out)
	return out
}

func (d *Driver) attempt(ctx context.Context, logger *slog.Logger) Outcome {
	status := d.deps.Connectivity.Status(ctx)
	if !status.Connected {
		logger.Debug("sync skipped: offline",
			logging.String(logging.FieldEventType, "sync_skipped"),
			logging.String("reason", string(SkipOffline)),
			logging.String("medium", status.Medium),
		)
		out := skipped(SkipOffline)
		out.Medium = status.Medium
		return out
	}

	if len(d.deps.Queue.ListByStatus(ctx, queue.StatusPending, queue.StatusFailed)) == 0 {
		out := skipped(SkipNothingPending)
		out.Medium = status.Medium
		return out
	}

	sess, err := d.sessionFor(ctx)
	if err != nil {
		logging.WarnWithContext(logger, "sync skipped: no session", "sync_skipped",
			logging.String("reason", string(SkipNoSession)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "log in on this device; connectivity is fine"),
			logging.String(logging.FieldImpact, "scans stay queued until a session is available"),
		)
		out := skipped(SkipNoSession)
		out.Medium = status.Medium
		return out
	}

	if _, err := d.deps.Queue.RequeueFailed(ctx); err != nil {
		logging.WarnWithContext(logger, "failed records could not be requeued", "sync_requeue_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the queue store"),
			logging.String(logging.FieldImpact, "previously failed scans wait for the next attempt"),
		)
	}

	batch := d.deps.Queue.ListPending(ctx)
	if len(batch) == 0 {
		out := skipped(SkipNothingPending)
		out.Medium = status.Medium
		return out
	}

	wire := make([]reconcile.WireRecord, len(batch))
	for i, rec := range batch {
		wire[i] = reconcile.ToWire(rec, d.opts.IncludeClientRef)
	}

	logger.Info("sending sync batch",
		logging.String(logging.FieldEventType, "sync_batch_sent"),
		logging.Int("records", len(batch)),
		logging.String("medium", status.Medium),
	)
	resp, err := d.deps.Client.Sync(ctx, sess.Token, wire)
	if err != nil {
		out := transient(err)
		out.Medium = status.Medium
		out.Sent = len(batch)
		var netErr *reconcile.NetworkError
		if errors.As(err, &netErr) {
			out.TraceID = netErr.TraceID
		}
		logging.WarnWithContext(logger, "sync batch not delivered", "sync_transient_failure",
			logging.Error(err),
			logging.Int("records", len(batch)),
			logging.String("trace_id", out.TraceID),
			logging.String(logging.FieldErrorHint, networkHint(netErr)),
			logging.String(logging.FieldImpact, "records stay pending and are retried on the next attempt"),
		)
		return out
	}

	// The server has already committed these verdicts, so storing them must
	// survive a shutdown that cancels ctx while the response is in flight.
	ctx = context.WithoutCancel(ctx)
	match := matchDetails(batch, resp.Details, d.now().UnixMilli())
	applied, err := d.deps.Queue.ApplyBatch(ctx, match.updates)
	if err != nil {
		out := transient(err)
		out.Medium = status.Medium
		out.Sent = len(batch)
		out.TraceID = resp.TraceID
		logging.ErrorWithContext(logger, "server verdicts could not be stored", "sync_apply_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check free disk space and permissions on the state directory"),
			logging.String(logging.FieldImpact, "records stay pending and will be resent"),
		)
		return out
	}

	out := Outcome{
		Kind:       OutcomeDelivered,
		Medium:     status.Medium,
		TraceID:    resp.TraceID,
		Sent:       len(batch),
		Unanswered: len(batch) - match.matched,
		Unmatched:  match.unmatched,
	}
	for _, rec := range applied.Changed {
		switch rec.Status {
		case queue.StatusSynced:
			out.Synced++
		case queue.StatusFailed:
			out.Failed++
		}
	}
	logger.Info("sync batch applied",
		logging.String(logging.FieldEventType, "sync_batch_applied"),
		logging.Int("sent", out.Sent),
		logging.Int("synced", out.Synced),
		logging.Int("failed", out.Failed),
		logging.Int("unanswered", out.Unanswered),
		logging.Int("unmatched_details", out.Unmatched),
		logging.String("trace_id", out.TraceID),
	)
	if out.Failed > 0 {
		d.publish(ctx, logger, notifications.EventRecordsRejected, notifications.Payload{
			"count":      out.Failed,
			"checkpoint": batch[0].CheckpointName,
			"reason":     match.firstNote,
		})
	}
	return out
}

func (d *Driver) sessionFor(ctx context.Context) (session.Session, error) {
	if d.deps.Sessions == nil {
		return session.Session{}, session.ErrNoSession
	}
	sess, err := d.deps.Sessions.Current(ctx)
	if err != nil {
		return session.Session{}, err
	}
	if !sess.Valid() {
		return session.Session{}, session.ErrNoSession
	}
	return sess, nil
}

func networkHint(netErr *reconcile.NetworkError) string {
	switch {
	case netErr == nil:
		return "check the timing server"
	case netErr.Unauthorized():
		return "session token rejected; log in again"
	case errors.Is(netErr, services.ErrTimeout):
		return "timing server did not answer in time; check signal strength"
	case errors.Is(netErr, services.ErrNotFound):
		return "sync endpoint not found; check server.base_url and server.mode"
	case netErr.StatusCode >= 500:
		return "timing server error; report the trace id to race control"
	case netErr.StatusCode > 0:
		return "unexpected server answer; check server.base_url"
	default:
		return "check network reachability of server.base_url"
	}
}

// record stores the outcome and raises backlog and recovery alerts.
func (d *Driver) record(ctx context.Context, logger *slog.Logger, out Outcome) {
	if out.Kind == OutcomeSkipped && out.Reason == SkipNothingPending {
		d.mu.Lock()
		d.last = &out
		d.mu.Unlock()
		return
	}

	stats := d.deps.Queue.Stats(ctx)
	backlog := stats.Pending + stats.Failed
	threshold := d.opts.BacklogAlertThreshold

	d.mu.Lock()
	d.last = &out
	alertBacklog := false
	if threshold > 0 {
		if backlog > threshold && !d.backlogAlerted {
			d.backlogAlerted = true
			alertBacklog = true
		} else if backlog <= threshold {
			d.backlogAlerted = false
		}
	}
	recovered := false
	switch out.Kind {
	case OutcomeTransient:
		if d.failingSince.IsZero() {
			d.failingSince = out.StartedAt
		}
	case OutcomeDelivered:
		if !d.failingSince.IsZero() && backlog == 0 {
			recovered = true
			d.failingSince = time.Time{}
		}
	}
	d.mu.Unlock()

	if alertBacklog {
		d.publish(ctx, logger, notifications.EventQueueBacklog, notifications.Payload{
			"pending":   backlog,
			"threshold": threshold,
		})
	}
	if recovered {
		d.publish(ctx, logger, notifications.EventSyncRecovered, notifications.Payload{"synced": out.Synced})
	}
}

func (d *Driver) publish(ctx context.Context, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	if err := d.deps.Notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("shutting down, notification not sent", logging.String("event", string(event)))
			return
		}
		logger.Debug("notification failed",
			logging.String("event", string(event)),
			logging.Error(err),
		)
	}
}

// TriggerOnEnqueue starts an attempt in the background. The caller is never
// blocked on network I/O.
func (d *Driver) TriggerOnEnqueue() {
	d.triggers.Add(1)
	go func() {
		defer d.triggers.Done()
		d.AttemptSync(context.Background())
	}()
}

// Wait blocks until triggered attempts have finished.
func (d *Driver) Wait() {
	d.triggers.Wait()
}

// InFlight reports whether an attempt is running.
func (d *Driver) InFlight() bool {
	return d.inFlight.Load()
}

// LastOutcome returns the most recent completed attempt, if any.
func (d *Driver) LastOutcome() (Outcome, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return Outcome{}, false
	}
	return *d.last, true
}
