package queue

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"waypoint/internal/logging"
	"waypoint/internal/services"
)

// Manager owns every mutation of the queue. All load-modify-save cycles run
// under one mutex so duplicate detection and status updates never interleave
// within a process.
type Manager struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
	newID  func() (string, error)

	mu     sync.Mutex
	events broker
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the capture timestamp source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(gen func() (string, error)) ManagerOption {
	return func(m *Manager) {
		if gen != nil {
			m.newID = gen
		}
	}
}

func newRecordID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewManager wraps store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		logger: logging.NewNop(),
		now:    time.Now,
		newID:  newRecordID,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "queue")
	return m
}

// Subscribe returns a channel of committed changes and a cancel function.
// Slow subscribers drop events rather than stall mutators.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	return m.events.subscribe(buffer)
}

func (m *Manager) loadLocked(ctx context.Context, op string) ([]Record, error) {
	records, err := m.store.Load(ctx)
	if err != nil {
		return nil, persistenceError(op+": load", err)
	}
	return records, nil
}

func (m *Manager) saveLocked(ctx context.Context, op string, records []Record) error {
	if err := m.store.Save(ctx, records); err != nil {
		return persistenceError(op+": save", err)
	}
	return nil
}

// Enqueue stores a new pending record unless the same tag is already pending
// or synced at the same checkpoint, in which case a *DuplicateError wrapping
// ErrDuplicate is returned and nothing is written.
func (m *Manager) Enqueue(ctx context.Context, capture Capture) (Record, error) {
	tag := NormalizeTagIdentifier(capture.TagIdentifier)
	if tag == "" {
		return Record{}, services.Wrap(services.ErrValidation, "queue", "enqueue", "tag identifier is empty", nil)
	}
	if capture.CheckpointID <= 0 {
		return Record{}, services.Wrap(services.ErrValidation, "queue", "enqueue",
			fmt.Sprintf("checkpoint id must be positive, got %d", capture.CheckpointID), nil)
	}

	m.mu.Lock()
	records, err := m.loadLocked(ctx, "enqueue")
	if err != nil {
		m.mu.Unlock()
		m.logPersistenceFailure("enqueue", err)
		return Record{}, err
	}
	for _, existing := range records {
		if existing.TagIdentifier == tag && existing.CheckpointID == capture.CheckpointID && dedupBlocking(existing.Status) {
			m.mu.Unlock()
			m.logger.Info("duplicate scan ignored",
				logging.String(logging.FieldEventType, "scan_duplicate"),
				logging.String(logging.FieldTagID, tag),
				logging.Int64(logging.FieldCheckpointID, capture.CheckpointID),
				logging.String(logging.FieldRecordID, existing.ID),
				logging.String("existing_status", string(existing.Status)),
			)
			return existing.clone(), &DuplicateError{Existing: existing.clone()}
		}
	}

	id, err := m.newID()
	if err != nil {
		m.mu.Unlock()
		return Record{}, fmt.Errorf("generate record id: %w", err)
	}
	rec := Record{
		ID:               id,
		TagIdentifier:    tag,
		CheckpointID:     capture.CheckpointID,
		CheckpointName:   strings.TrimSpace(capture.CheckpointName),
		CapturedAtMillis: m.now().UnixMilli(),
		Status:           StatusPending,
	}
	if capture.Coordinates != nil {
		c := *capture.Coordinates
		rec.Coordinates = &c
	}
	records = append(records, rec)
	if err := m.saveLocked(ctx, "enqueue", records); err != nil {
		m.mu.Unlock()
		m.logPersistenceFailure("enqueue", err)
		return Record{}, err
	}
	m.mu.Unlock()

	m.logger.Info("scan queued",
		logging.String(logging.FieldEventType, "scan_enqueued"),
		logging.String(logging.FieldRecordID, rec.ID),
		logging.String(logging.FieldTagID, rec.TagIdentifier),
		logging.Int64(logging.FieldCheckpointID, rec.CheckpointID),
		logging.Bool("has_coordinates", rec.Coordinates != nil),
	)
	published := rec.clone()
	m.events.publish(Event{Type: EventEnqueued, Record: &published, At: m.now()})
	return rec.clone(), nil
}

// readAll loads the collection for read paths; a failed load reads as empty.
func (m *Manager) readAll(ctx context.Context) []Record {
	m.mu.Lock()
	records, err := m.store.Load(ctx)
	m.mu.Unlock()
	if err != nil {
		logging.WarnWithContext(m.logger, "queue read failed; reporting empty queue", "queue_read_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the queue file permissions and disk"),
			logging.String(logging.FieldImpact, "queue appears empty until the store is readable"),
		)
		return nil
	}
	return records
}

func sortByCapture(records []Record) {
	slices.SortStableFunc(records, func(a, b Record) int {
		if a.CapturedAtMillis != b.CapturedAtMillis {
			if a.CapturedAtMillis < b.CapturedAtMillis {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// ListAll returns every record ordered by capture time.
func (m *Manager) ListAll(ctx context.Context) []Record {
	records := m.readAll(ctx)
	sortByCapture(records)
	return records
}

// ListPending returns pending records ordered by capture time.
func (m *Manager) ListPending(ctx context.Context) []Record {
	return m.ListByStatus(ctx, StatusPending)
}

// ListByStatus returns records in any of the given statuses; no statuses means all.
func (m *Manager) ListByStatus(ctx context.Context, statuses ...Status) []Record {
	records := m.ListAll(ctx)
	if len(statuses) == 0 {
		return records
	}
	filtered := records[:0]
	for _, rec := range records {
		if slices.Contains(statuses, rec.Status) {
			filtered = append(filtered, rec)
		}
	}
	return filtered
}

// Get returns the record with id.
func (m *Manager) Get(ctx context.Context, id string) (Record, bool) {
	for _, rec := range m.readAll(ctx) {
		if rec.ID == id {
			return rec, true
		}
	}
	return Record{}, false
}

// Stats counts records per status.
func (m *Manager) Stats(ctx context.Context) Stats {
	return computeStats(m.readAll(ctx))
}

func computeStats(records []Record) Stats {
	stats := Stats{Total: len(records)}
	for _, rec := range records {
		switch rec.Status {
		case StatusPending:
			stats.Pending++
		case StatusSynced:
			stats.Synced++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats
}

// UpdateStatus applies one transition. Illegal transitions and unknown ids
// are ignored and report false.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status Status, outcome *Outcome) (bool, error) {
	applied, err := m.ApplyBatch(ctx, []Update{{ID: id, Status: status, Outcome: outcome}})
	if err != nil {
		return false, err
	}
	return len(applied.Changed) == 1, nil
}

// ApplyBatch applies updates inside one critical section and persists them
// with a single save. Nothing is written when no update applies.
func (m *Manager) ApplyBatch(ctx context.Context, updates []Update) (Applied, error) {
	if len(updates) == 0 {
		return Applied{}, nil
	}

	m.mu.Lock()
	records, err := m.loadLocked(ctx, "apply updates")
	if err != nil {
		m.mu.Unlock()
		m.logPersistenceFailure("apply updates", err)
		return Applied{}, err
	}
	applied, previous := applyLocked(records, updates)
	if len(applied.Changed) > 0 {
		if err := m.saveLocked(ctx, "apply updates", records); err != nil {
			m.mu.Unlock()
			m.logPersistenceFailure("apply updates", err)
			return Applied{}, err
		}
	}
	m.mu.Unlock()

	m.publishChanges(applied.Changed, previous)
	return applied, nil
}

// applyLocked mutates records in place and reports the prior status of every
// changed record.
func applyLocked(records []Record, updates []Update) (Applied, []Status) {
	var applied Applied
	index := make(map[string]int, len(records))
	for i, rec := range records {
		index[rec.ID] = i
	}
	var previous []Status
	for _, upd := range updates {
		i, ok := index[upd.ID]
		if !ok {
			applied.Missing++
			continue
		}
		before := records[i].Status
		if !applyUpdate(&records[i], upd.Status, upd.Outcome) {
			applied.Ignored++
			continue
		}
		applied.Changed = append(applied.Changed, records[i].clone())
		previous = append(previous, before)
	}
	return applied, previous
}

func (m *Manager) publishChanges(changed []Record, previous []Status) {
	at := m.now()
	for i := range changed {
		rec := changed[i].clone()
		m.logger.Debug("record status changed",
			logging.String(logging.FieldEventType, "record_status_changed"),
			logging.String(logging.FieldRecordID, rec.ID),
			logging.String("from", string(previous[i])),
			logging.String("to", string(rec.Status)),
			logging.Int("retry_count", rec.RetryCount),
		)
		m.events.publish(Event{Type: EventStatusChanged, Record: &rec, Previous: previous[i], At: at})
	}
}

// RequeueFailed moves failed records back to pending and returns them. A
// failed record whose tag and checkpoint already have a pending or synced
// sibling stays failed, and at most one failed record per pair is revived,
// so a retry never produces two pending records for the same scan.
func (m *Manager) RequeueFailed(ctx context.Context) ([]Record, error) {
	m.mu.Lock()
	records, err := m.loadLocked(ctx, "requeue failed")
	if err != nil {
		m.mu.Unlock()
		m.logPersistenceFailure("requeue failed", err)
		return nil, err
	}
	updates, superseded := requeueCandidates(records)
	applied, previous := applyLocked(records, updates)
	if len(applied.Changed) > 0 {
		if err := m.saveLocked(ctx, "requeue failed", records); err != nil {
			m.mu.Unlock()
			m.logPersistenceFailure("requeue failed", err)
			return nil, err
		}
	}
	m.mu.Unlock()

	m.publishChanges(applied.Changed, previous)
	if n := len(applied.Changed); n > 0 || superseded > 0 {
		m.logger.Info("failed records requeued",
			logging.String(logging.FieldEventType, "records_requeued"),
			logging.Int("count", n),
			logging.Int("superseded", superseded),
		)
	}
	return applied.Changed, nil
}

// requeueCandidates picks the failed records to revive, oldest capture first,
// and counts the ones left failed because their pair is already covered.
func requeueCandidates(records []Record) ([]Update, int) {
	covered := make(map[RecordKey]bool, len(records))
	var failed []Record
	for _, rec := range records {
		switch {
		case dedupBlocking(rec.Status):
			covered[rec.Key()] = true
		case rec.Status == StatusFailed:
			failed = append(failed, rec)
		}
	}
	sortByCapture(failed)
	var (
		updates    []Update
		superseded int
	)
	for _, rec := range failed {
		key := rec.Key()
		if covered[key] {
			superseded++
			continue
		}
		covered[key] = true
		updates = append(updates, Update{ID: rec.ID, Status: StatusPending})
	}
	return updates, superseded
}

// Clear removes every record and returns how many were removed.
func (m *Manager) Clear(ctx context.Context) (int, error) {
	return m.ClearWith(ctx, nil)
}

// ClearWith removes every record. before, when set, sees exactly the records
// being removed while the queue is locked; an error from it aborts the clear.
func (m *Manager) ClearWith(ctx context.Context, before func([]Record) error) (int, error) {
	return m.remove(ctx, "clear", EventCleared, func(Record) bool { return true }, before)
}

// ClearSynced removes synced history and returns how many were removed.
func (m *Manager) ClearSynced(ctx context.Context) (int, error) {
	return m.ClearSyncedWith(ctx, nil)
}

// ClearSyncedWith is ClearSynced with the same before hook as ClearWith.
func (m *Manager) ClearSyncedWith(ctx context.Context, before func([]Record) error) (int, error) {
	return m.remove(ctx, "clear synced", EventClearedSynced, func(rec Record) bool {
		return rec.Status == StatusSynced
	}, before)
}

func (m *Manager) remove(ctx context.Context, op string, evt EventType, match func(Record) bool, before func([]Record) error) (int, error) {
	m.mu.Lock()
	records, err := m.loadLocked(ctx, op)
	if err != nil {
		m.mu.Unlock()
		m.logPersistenceFailure(op, err)
		return 0, err
	}
	kept := make([]Record, 0, len(records))
	var dropped []Record
	for _, rec := range records {
		if match(rec) {
			dropped = append(dropped, rec.clone())
		} else {
			kept = append(kept, rec)
		}
	}
	if before != nil {
		sortByCapture(dropped)
		if err := before(dropped); err != nil {
			m.mu.Unlock()
			return 0, fmt.Errorf("%s: %w", op, err)
		}
	}
	removed := len(dropped)
	if err := m.saveLocked(ctx, op, kept); err != nil {
		m.mu.Unlock()
		m.logPersistenceFailure(op, err)
		return 0, err
	}
	m.mu.Unlock()

	m.logger.Info("queue cleared",
		logging.String(logging.FieldEventType, "queue_"+strings.ReplaceAll(op, " ", "_")),
		logging.Int("removed", removed),
	)
	m.events.publish(Event{Type: evt, Removed: removed, At: m.now()})
	return removed, nil
}

func (m *Manager) logPersistenceFailure(op string, err error) {
	m.logger.Error("queue persistence failed",
		logging.String(logging.FieldEventType, "queue_persistence_failed"),
		logging.String("operation", op),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check free disk space and permissions on the state directory"),
		logging.String(logging.FieldImpact, "the scan or status change was not stored"),
	)
}
