package syncer_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"waypoint/internal/connectivity"
	"waypoint/internal/notifications"
	"waypoint/internal/queue"
	"waypoint/internal/reconcile"
	"waypoint/internal/session"
	"waypoint/internal/syncer"
	"waypoint/internal/testsupport"
)

type fakeClient struct {
	mu      sync.Mutex
	batches [][]reconcile.WireRecord
	tokens  []string
	respond func(batch []reconcile.WireRecord) (*reconcile.SyncResponse, error)
}

func (f *fakeClient) Sync(_ context.Context, token string, records []reconcile.WireRecord) (*reconcile.SyncResponse, error) {
	f.mu.Lock()
	f.batches = append(f.batches, records)
	f.tokens = append(f.tokens, token)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return &reconcile.SyncResponse{Success: true}, nil
	}
	return respond(records)
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeClient) batch(i int) []reconcile.WireRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches[i]
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) count(event notifications.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

func detail(tag string, checkpoint int64, status string) reconcile.Detail {
	return reconcile.Detail{TagIdentifier: tag, CheckpointID: checkpoint, Status: status}
}

func respondWith(details ...reconcile.Detail) func([]reconcile.WireRecord) (*reconcile.SyncResponse, error) {
	return func([]reconcile.WireRecord) (*reconcile.SyncResponse, error) {
		return &reconcile.SyncResponse{Success: true, Processed: len(details), Details: details}, nil
	}
}

var validSession = session.Static{Session: session.Session{Token: "tok"}}

type harness struct {
	mgr      *queue.Manager
	client   *fakeClient
	notifier *recordingNotifier
	driver   *syncer.Driver
}

func newHarness(t *testing.T, conn connectivity.Checker, sessions session.Provider, opts syncer.Options) *harness {
	t.Helper()
	mgr, _ := testsupport.NewManager(t)
	h := &harness{mgr: mgr, client: &fakeClient{}, notifier: &recordingNotifier{}}
	h.driver = syncer.New(syncer.Deps{
		Queue:        mgr,
		Client:       h.client,
		Connectivity: conn,
		Sessions:     sessions,
		Notifier:     h.notifier,
	}, opts)
	return h
}

func (h *harness) status(t *testing.T, id string) queue.Record {
	t.Helper()
	rec, ok := h.mgr.Get(context.Background(), id)
	if !ok {
		t.Fatalf("record %s missing", id)
	}
	return rec
}

func TestAttemptSyncOfflineIsNoop(t *testing.T) {
	h := newHarness(t, connectivity.Static{Connected: false, Medium: connectivity.MediumNone}, validSession, syncer.Options{})
	rec := testsupport.Enqueue(t, h.mgr, "A1", 7)

	out := h.driver.AttemptSync(context.Background())
	if out.Kind != syncer.OutcomeSkipped || out.Reason != syncer.SkipOffline {
		t.Fatalf("expected Skipped(offline), got %s", out)
	}
	if h.client.calls() != 0 {
		t.Fatalf("no network call expected, got %d", h.client.calls())
	}
	if got := h.status(t, rec.ID); got.Status != queue.StatusPending || got.RetryCount != 0 {
		t.Fatalf("record changed while offline: %+v", got)
	}
}

func TestAttemptSyncNothingPending(t *testing.T) {
	h := newHarness(t, connectivity.Static{Connected: true}, validSession, syncer.Options{})
	out := h.driver.AttemptSync(context.Background())
	if out.Kind != syncer.OutcomeSkipped || out.Reason != syncer.SkipNothingPending {
		t.Fatalf("expected Skipped(nothing-pending), got %s", out)
	}
	last, ok := h.driver.LastOutcome()
	if !ok || last.Reason != syncer.SkipNothingPending {
		t.Fatalf("expected last outcome recorded, got %+v %v", last, ok)
	}
}

func TestAttemptSyncWithoutSession(t *testing.T) {
	h := newHarness(t, connectivity.Static{Connected: true}, session.Static{}, syncer.Options{})
	rec := testsupport.Enqueue(t, h.mgr, "A1", 7)

	out := h.driver.AttemptSync(context.Background())
	if out.Kind != syncer.OutcomeSkipped || out.Reason != syncer.SkipNoSession {
		t.Fatalf("expected Skipped(no-session), got %s", out)
	}
	if out.Err() != nil {
		t.Fatalf("missing session must not surface as an error, got %v", out.Err())
	}
	if h.client.calls() != 0 || h.status(t, rec.ID).Status != queue.StatusPending {
		t.Fatal("no-session attempt must not send or mutate")
	}
}

func TestAttemptSyncPartialBatch(t *testing.T) {
	h := newHarness(t, connectivity.Static{Connected: true}, validSession, syncer.Options{})
	a := testsupport.Enqueue(t, h.mgr, "A", 1)
	b := testsupport.Enqueue(t, h.mgr, "B", 1)
	c := testsupport.Enqueue(t, h.mgr, "C", 1)
	h.client.respond = respondWith(
		reconcile.Detail{TagIdentifier: "B", CheckpointID: 1, Status: "ERROR", Message: "timing closed"},
		detail("A", 1, "OK"),
	)

	out := h.driver.AttemptSync(context.Background())
	if out.Kind != syncer.OutcomeDelivered {
		t.Fatalf("expected delivered, got %s", out)
	}
	if out.Sent != 3 || out.Synced != 1 || out.Failed != 1 || out.Unanswered != 1 {
		t.Fatalf("unexpected counts %+v", out)
	}
	if h.client.tokens[0] != "tok" {
		t.Fatalf("expected session token, got %q", h.client.tokens[0])
	}
	if got := h.status(t, a.ID); got.Status != queue.StatusSynced || got.Outcome == nil || got.Outcome.Kind != queue.OutcomeOK {
		t.Fatalf("A: %+v", got)
	}
	gotB := h.status(t, b.ID)
	if gotB.Status != queue.StatusFailed || gotB.RetryCount != 1 {
		t.Fatalf("B: %+v", gotB)
	}
	if gotB.Outcome == nil || gotB.Outcome.Kind != queue.OutcomeError || gotB.Outcome.Message != "timing closed" {
		t.Fatalf("B outcome: %+v", gotB.Outcome)
	}
	if got := h.status(t, c.ID); got.Status != queue.StatusPending || got.Outcome != nil {
		t.Fatalf("C: %+v", got)
	}
	if h.notifier.count(notifications.EventRecordsRejected) != 1 {
		t.Fatalf("expected rejection alert, got %v", h.notifier.events)
	}
}

func TestAttemptSyncRetriesFailedRecords(t *testing.T) {
	h := newHarness(t, connectivity.Static{Connected: true}, validSession, syncer.Options{})
	rec := testsupport.Enqueue(t, h.mgr, "A1", 7)

	h.client.respond = respondWith(detail("A1", 7, "ERROR"))
	h.driver.AttemptSync(context.Background())
	failed := h.status(t, rec.ID)
	if failed.Status != queue.StatusFailed || failed.RetryCount != 1 {
		t.Fatalf("expected failed with retry 1, got %+v", failed)
	}
	if pending := h.mgr.ListPending(context.Background()); len(pending) != 0 {
		t.Fatalf("failed record must not be listed as pending, got %d", len(pending))
	}

	h.client.respond = respondWith(detail("A1", 7, "OK"))
	out := h.driver.AttemptSync(context.Background())
	if out.Kind != syncer.OutcomeDelivered || out.Synced != 1 {
		t.Fatalf("expected retry to deliver, got %s", out)
	}
	second := h.client.batch(1)
	if len(second) != 1 || second[0].TagIdentifier != "A1" || second[0].CheckpointID != 7 {
		t.Fatalf("failed record not re-included in next batch: %+v", second)
	}
	if got := h.status(t, rec.ID); got.Status != queue.StatusSynced || got.RetryCount != 1 {
		t.Fatalf("expected synced with retry count 1, got %+v", got)
	}
}

func TestAttemptSyncRecaptureAfterFailureSendsOneRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, connectivity.Static{Connected: true}, validSession, syncer.Options{})
	old := testsupport.Enqueue(t, h.mgr, "A1", 7)
	h.client.respond = respondWith(detail("A1", 7, "ERROR"))
	h.driver.AttemptSync(ctx)
	recapture := testsupport.Enqueue(t, h.mgr, "A1", 7)

	h.client.respond = func([]reconcile.WireRecord) (*reconcile.SyncResponse, error) {
		return nil, &reconcile.NetworkError{Op: "sync", Err: errors.New("connection reset")}
	}
	if out := h.driver.AttemptSync(ctx); out.Kind != syncer.OutcomeTransient {
		t.Fatalf("expected transient, got %s", out)
	}
	if sent := h.client.batch(1); len(sent) != 1 {
		t.Fatalf("expected one record for the pair, sent %d", len(sent))
	}
	pending := h.mgr.ListPending(ctx)
	if len(pending) != 1 || pending[0].ID != recapture.ID {
		t.Fatalf("expected only the recapture pending, got %+v", pending)
	}
	if got := h.status(t, old.ID); got.Status != queue.StatusFailed {
		t.Fatalf("superseded record revived: %+v", got)
	}

	h.client.respond = respondWith(detail("A1", 7, "OK"))
	if out := h.driver.AttemptSync(ctx); out.Synced != 1 {
		t.Fatalf("expected recapture delivered, got %s", out)
	}
	if got := h.status(t, recapture.ID); got.Status != queue.StatusSynced {
		t.Fatalf("recapture: %+v", got)
	}
	out := h.driver.AttemptSync(ctx)
	if out.Kind != syncer.OutcomeSkipped || out.Reason != syncer.SkipNothingPending {
		t.Fatalf("synced pair must not be resent, got %s", out)
	}
	if got := h.status(t, old.ID); got.Status != queue.StatusFailed {
		t.Fatalf("old record after sync: %+v", got)
	}
}

func TestAttemptSyncNetworkErrorLeavesQueueUntouched(t *testing.T) {
	h := newHarness(t, connectivity.Static{Connected: true}, validSession, syncer.Options{})
	a := testsupport.Enqueue(t, h.mgr, "A", 1)
	b := testsupport.Enqueue(t, h.mgr, "B", 1)
	netErr := &reconcile.NetworkError{Op: "sync", StatusCode: 503, TraceID: "t-1"}
	h.client.respond = func([]reconcile.WireRecord) (*reconcile.SyncResponse, error) { return nil, netErr }

	out := h.driver.AttemptSync(context.Background())
	if out.Kind != syncer.OutcomeTransient {
		t.Fatalf("expected transient, got %s", out)
	}
	if !errors.Is(out.Err(), reconcile.ErrNetwork) || out.TraceID != "t-1" || !out.Retryable {
		t.Fatalf("unexpected transient details %+v", out)
	}
	for _, id := range []string{a.ID, b.ID} {
		if got := h.status(t, id); got.Status != queue.StatusPending || got.RetryCount != 0 || got.Outcome != nil {
			t.Fatalf("record %s mutated by network error: %+v", id, got)
		}
	}
}

func TestAttemptSyncSameResponseTwiceIsIdempotent(t *testing.T) {
	h := newHarness(t, connectivity.Static{Connected: true}, validSession, syncer.Options{})
	a := testsupport.Enqueue(t, h.mgr, "A", 1)
	testsupport.Enqueue(t, h.mgr, "B", 1)
	h.client.respond = respondWith(detail("A", 1, "OK"), detail("B", 1, "OK"))

	h.driver.AttemptSync(context.Background())
	before := h.mgr.ListAll(context.Background())
	out := h.driver.AttemptSync(context.Background())
	if out.Reason != syncer.SkipNothingPending {
		t.Fatalf("synced records must not be resent, got %s", out)
	}
	after := h.mgr.ListAll(context.Background())
	for i := range before {
		if before[i].Status != after[i].Status || before[i].RetryCount != after[i].RetryCount {
			t.Fatalf("state changed: %+v -> %+v", before[i], after[i])
		}
	}
	if h.status(t, a.ID).Status != queue.StatusSynced {
		t.Fatal("A should stay synced")
	}
}

func TestAttemptSyncMatchesByClientRef(t *testing.T) {
	h := newHarness(t, connectivity.Static{Connected: true}, validSession, syncer.Options{IncludeClientRef: true})
	a := testsupport.Enqueue(t, h.mgr, "A", 1)
	b := testsupport.Enqueue(t, h.mgr, "B", 1)
	h.client.respond = func(batch []reconcile.WireRecord) (*reconcile.SyncResponse, error) {
		if batch[0].ClientRef == "" {
			t.Errorf("expected client refs in batch")
		}
		return &reconcile.SyncResponse{Details: []reconcile.Detail{
			{ClientRef: b.ID, Status: "NOT", Reason: "DUPLICATE_TIME"},
			{ClientRef: a.ID, Status: "OK"},
		}}, nil
	}

	out := h.driver.AttemptSync(context.Background())
	if out.Synced != 1 || out.Failed != 1 || out.Unmatched != 0 {
		t.Fatalf("unexpected counts %+v", out)
	}
	gotB := h.status(t, b.ID)
	if gotB.Status != queue.StatusFailed || gotB.Outcome.Kind != queue.OutcomeRejected || gotB.Outcome.Reason != "DUPLICATE_TIME" {
		t.Fatalf("B: %+v", gotB)
	}
}

type blockingClient struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingClient) Sync(context.Context, string, []reconcile.WireRecord) (*reconcile.SyncResponse, error) {
	close(b.entered)
	<-b.release
	return &reconcile.SyncResponse{}, nil
}

func TestAttemptSyncSingleFlight(t *testing.T) {
	mgr, _ := testsupport.NewManager(t)
	testsupport.Enqueue(t, mgr, "A", 1)
	client := &blockingClient{entered: make(chan struct{}), release: make(chan struct{})}
	driver := syncer.New(syncer.Deps{Queue: mgr, Client: client, Sessions: validSession}, syncer.Options{})

	done := make(chan syncer.Outcome, 1)
	go func() { done <- driver.AttemptSync(context.Background()) }()

	select {
	case <-client.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first attempt never reached the client")
	}
	if !driver.InFlight() {
		t.Fatal("expected attempt in flight")
	}
	second := driver.AttemptSync(context.Background())
	if second.Kind != syncer.OutcomeSkipped || second.Reason != syncer.SkipInProgress {
		t.Fatalf("expected Skipped(in-progress), got %s", second)
	}
	close(client.release)
	if first := <-done; first.Kind != syncer.OutcomeDelivered {
		t.Fatalf("first attempt: %s", first)
	}
}

// lateClient answers only after the caller's context is cancelled, like a
// response that arrives while the daemon shuts down.
type lateClient struct {
	entered chan struct{}
	details []reconcile.Detail
}

func (l *lateClient) Sync(ctx context.Context, _ string, _ []reconcile.WireRecord) (*reconcile.SyncResponse, error) {
	close(l.entered)
	<-ctx.Done()
	return &reconcile.SyncResponse{Success: true, Details: l.details}, nil
}

func TestAttemptSyncStoresVerdictsAfterCancel(t *testing.T) {
	mgr, _ := testsupport.NewManager(t)
	rec := testsupport.Enqueue(t, mgr, "A", 1)
	client := &lateClient{entered: make(chan struct{}), details: []reconcile.Detail{detail("A", 1, "OK")}}
	driver := syncer.New(syncer.Deps{Queue: mgr, Client: client, Sessions: validSession}, syncer.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan syncer.Outcome, 1)
	go func() { done <- driver.AttemptSync(ctx) }()
	<-client.entered
	cancel()

	if out := <-done; out.Kind != syncer.OutcomeDelivered || out.Synced != 1 {
		t.Fatalf("expected verdict stored after cancel, got %s", out)
	}
	if got, _ := mgr.Get(context.Background(), rec.ID); got.Status != queue.StatusSynced {
		t.Fatalf("record lost its verdict: %+v", got)
	}
}

func TestSchedulerStopDuringAttemptKeepsVerdict(t *testing.T) {
	mgr, _ := testsupport.NewManager(t)
	rec := testsupport.Enqueue(t, mgr, "A", 1)
	client := &lateClient{entered: make(chan struct{}), details: []reconcile.Detail{detail("A", 1, "OK")}}
	driver := syncer.New(syncer.Deps{Queue: mgr, Client: client, Sessions: validSession}, syncer.Options{})
	sched := syncer.NewScheduler(driver, nil)
	if err := sched.Start(context.Background(), time.Hour); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sched.Kick()

	select {
	case <-client.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled attempt never reached the client")
	}
	sched.Stop()

	if got, _ := mgr.Get(context.Background(), rec.ID); got.Status != queue.StatusSynced {
		t.Fatalf("Stop discarded the server verdict: %+v", got)
	}
}

func TestBacklogAlertOncePerCrossing(t *testing.T) {
	h := newHarness(t, connectivity.Static{Connected: false}, validSession, syncer.Options{BacklogAlertThreshold: 2})
	testsupport.Enqueue(t, h.mgr, "A", 1)
	testsupport.Enqueue(t, h.mgr, "B", 1)
	h.driver.AttemptSync(context.Background())
	if h.notifier.count(notifications.EventQueueBacklog) != 0 {
		t.Fatal("backlog at threshold must not alert")
	}

	testsupport.Enqueue(t, h.mgr, "C", 1)
	h.driver.AttemptSync(context.Background())
	h.driver.AttemptSync(context.Background())
	if got := h.notifier.count(notifications.EventQueueBacklog); got != 1 {
		t.Fatalf("expected one backlog alert, got %d", got)
	}
}

func TestRecoveryNotificationAfterTransientFailures(t *testing.T) {
	h := newHarness(t, connectivity.Static{Connected: true}, validSession, syncer.Options{})
	testsupport.Enqueue(t, h.mgr, "A", 1)
	h.client.respond = func([]reconcile.WireRecord) (*reconcile.SyncResponse, error) {
		return nil, &reconcile.NetworkError{Op: "sync", Err: errors.New("connection refused")}
	}
	h.driver.AttemptSync(context.Background())

	h.client.respond = respondWith(detail("A", 1, "OK"))
	h.driver.AttemptSync(context.Background())
	if got := h.notifier.count(notifications.EventSyncRecovered); got != 1 {
		t.Fatalf("expected recovery alert, got %d", got)
	}
}

func TestTriggerOnEnqueueRunsInBackground(t *testing.T) {
	h := newHarness(t, connectivity.Static{Connected: true}, validSession, syncer.Options{})
	rec := testsupport.Enqueue(t, h.mgr, "A", 1)
	h.client.respond = respondWith(detail("A", 1, "OK"))

	h.driver.TriggerOnEnqueue()
	h.driver.Wait()
	if got := h.status(t, rec.ID); got.Status != queue.StatusSynced {
		t.Fatalf("expected triggered attempt to sync, got %+v", got)
	}
}
