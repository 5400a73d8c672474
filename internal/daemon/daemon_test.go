package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"waypoint/internal/capture"
	"waypoint/internal/config"
	"waypoint/internal/connectivity"
	"waypoint/internal/queue"
	"waypoint/internal/reconcile"
	"waypoint/internal/session"
	"waypoint/internal/testsupport"
)

type stubClient struct {
	mu      sync.Mutex
	calls   int
	details func([]reconcile.WireRecord) []reconcile.Detail
	err     error
}

func (s *stubClient) Sync(_ context.Context, _ string, records []reconcile.WireRecord) (*reconcile.SyncResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	resp := &reconcile.SyncResponse{Success: true, Processed: len(records)}
	if s.details != nil {
		resp.Details = s.details(records)
	}
	return resp, nil
}

func acceptAll(records []reconcile.WireRecord) []reconcile.Detail {
	details := make([]reconcile.Detail, len(records))
	for i, rec := range records {
		details[i] = reconcile.Detail{TagIdentifier: rec.TagIdentifier, CheckpointID: rec.CheckpointID, Status: "OK"}
	}
	return details
}

type failingArchiver struct{}

func (failingArchiver) Snapshot(context.Context, []queue.Record) (string, error) {
	return "", errors.New("bucket unreachable")
}

type recordingArchiver struct {
	mu         sync.Mutex
	sizes      []int
	onSnapshot func()
}

func (r *recordingArchiver) Snapshot(_ context.Context, records []queue.Record) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sizes = append(r.sizes, len(records))
	if r.onSnapshot != nil {
		r.onSnapshot()
	}
	return "device/snap.json", nil
}

func newTestDaemon(t *testing.T, client *stubClient, mutate ...func(*config.Config, *Deps)) (*Daemon, *config.Config) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithSession("tok", 7, "Summit"))
	cfg.Sync.TriggerOnEnqueue = false
	deps := Deps{
		Client:       client,
		Connectivity: connectivity.Static{Connected: true, Medium: connectivity.MediumWiFi},
		Sessions:     session.NewFileProvider(cfg, nil),
	}
	for _, fn := range mutate {
		fn(cfg, &deps)
	}
	if deps.Store == nil {
		deps.Store = testsupport.MustOpenStore(t, cfg)
	}
	d, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d, cfg
}

func TestNewRequiresStoreAndClient(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := New(cfg, Deps{}); err == nil {
		t.Fatal("expected error without store and client")
	}
}

func TestDaemonStartStopReleasesLock(t *testing.T) {
	d, cfg := newTestDaemon(t, &stubClient{})
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail")
	}
	status := d.Status(ctx)
	if !status.Running || !status.SchedulerRunning || status.SchedulerInterval == "" {
		t.Fatalf("unexpected status %+v", status)
	}
	if d.APIAddress() == "" {
		t.Fatal("expected API listener")
	}

	other, err := New(cfg, Deps{Store: testsupport.MustOpenStore(t, cfg), Client: &stubClient{}})
	if err != nil {
		t.Fatalf("New other: %v", err)
	}
	t.Cleanup(func() { _ = other.Close() })
	if err := other.Start(ctx); err == nil {
		t.Fatal("expected lock contention")
	}

	d.Stop()
	d.Stop()
	if d.Running() || d.Status(ctx).SchedulerRunning {
		t.Fatal("expected stopped daemon")
	}
	if err := other.Start(ctx); err != nil {
		t.Fatalf("lock not released: %v", err)
	}
	other.Stop()
}

func TestDaemonCaptureUsesSessionCheckpoint(t *testing.T) {
	d, _ := newTestDaemon(t, &stubClient{})
	res, err := d.Capture(context.Background(), capture.Request{TagIdentifier: " A1 "})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.Record.CheckpointID != 7 || res.Record.CheckpointName != "Summit" || res.Record.TagIdentifier != "A1" {
		t.Fatalf("unexpected record %+v", res.Record)
	}

	dup, err := d.Capture(context.Background(), capture.Request{TagIdentifier: "A1"})
	if err != nil || !dup.Duplicate || dup.Record.ID != res.Record.ID {
		t.Fatalf("expected duplicate of %s, got %+v, %v", res.Record.ID, dup, err)
	}
}

func TestDaemonSyncNowAndLastScan(t *testing.T) {
	client := &stubClient{details: acceptAll}
	d, _ := newTestDaemon(t, client)
	ctx := context.Background()

	if _, err := d.Capture(ctx, capture.Request{TagIdentifier: "A1"}); err != nil {
		t.Fatalf("Capture: %v", err)
	}
	out := d.SyncNow(ctx)
	if out.Synced != 1 {
		t.Fatalf("expected one synced record, got %s", out)
	}
	waitFor(t, func() bool {
		st := d.Status(ctx)
		return st.LastScan != nil && st.LastScan.Status == string(queue.StatusSynced)
	})
	status := d.Status(ctx)
	if status.LastSync == nil || status.LastSync.Synced != 1 || !status.SessionPresent {
		t.Fatalf("unexpected status %+v", status)
	}

	removed, _, err := d.ClearSynced(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("ClearSynced = %d, %v", removed, err)
	}
	waitFor(t, func() bool { return d.Status(ctx).LastScan == nil })
}

func TestDaemonCaptureTriggersSync(t *testing.T) {
	client := &stubClient{details: acceptAll}
	d, _ := newTestDaemon(t, client, func(cfg *config.Config, _ *Deps) {
		cfg.Sync.TriggerOnEnqueue = true
	})
	ctx := context.Background()

	res, err := d.Capture(ctx, capture.Request{TagIdentifier: "A1"})
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	d.driver.Wait()
	rec, ok := d.manager.Get(ctx, res.Record.ID)
	if !ok || rec.Status != queue.StatusSynced {
		t.Fatalf("expected triggered sync, got %+v", rec)
	}
}

func TestDaemonClearAbortsWhenSnapshotFails(t *testing.T) {
	d, _ := newTestDaemon(t, &stubClient{}, func(_ *config.Config, deps *Deps) {
		deps.Archiver = failingArchiver{}
	})
	ctx := context.Background()
	testsupport.Enqueue(t, d.manager, "A1", 7)

	if _, _, err := d.ClearQueue(ctx); err == nil {
		t.Fatal("expected clear to fail")
	}
	if got := d.QueueStats(ctx).Total; got != 1 {
		t.Fatalf("records removed despite failed snapshot: total=%d", got)
	}
}

func TestDaemonClearSnapshotsFirst(t *testing.T) {
	archiver := &recordingArchiver{}
	d, _ := newTestDaemon(t, &stubClient{}, func(_ *config.Config, deps *Deps) {
		deps.Archiver = archiver
	})
	ctx := context.Background()
	testsupport.Enqueue(t, d.manager, "A1", 7)
	testsupport.Enqueue(t, d.manager, "B2", 7)

	removed, key, err := d.ClearQueue(ctx)
	if err != nil || removed != 2 || key != "device/snap.json" {
		t.Fatalf("ClearQueue = %d, %q, %v", removed, key, err)
	}
	if len(archiver.sizes) != 1 || archiver.sizes[0] != 2 {
		t.Fatalf("unexpected snapshots %v", archiver.sizes)
	}

	removed, key, err = d.ClearQueue(ctx)
	if err != nil || removed != 0 || key != "" {
		t.Fatalf("empty clear = %d, %q, %v", removed, key, err)
	}
	if len(archiver.sizes) != 1 {
		t.Fatal("empty queue must not be archived")
	}
}

func TestDaemonClearKeepsScanCapturedDuringSnapshot(t *testing.T) {
	archiver := &recordingArchiver{}
	d, _ := newTestDaemon(t, &stubClient{}, func(_ *config.Config, deps *Deps) {
		deps.Archiver = archiver
	})
	ctx := context.Background()
	testsupport.Enqueue(t, d.manager, "A1", 7)

	captured := make(chan error, 1)
	archiver.onSnapshot = func() {
		go func() {
			_, err := d.manager.Enqueue(ctx, queue.Capture{TagIdentifier: "C3", CheckpointID: 7})
			captured <- err
		}()
		// Give the capture a chance to race the clear.
		time.Sleep(20 * time.Millisecond)
	}

	removed, _, err := d.ClearQueue(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("ClearQueue = %d, %v", removed, err)
	}
	if err := <-captured; err != nil {
		t.Fatalf("concurrent Enqueue: %v", err)
	}
	if archiver.sizes[0] != 1 {
		t.Fatalf("snapshot covered %d records, want 1", archiver.sizes[0])
	}
	remaining := d.manager.ListAll(ctx)
	if len(remaining) != 1 || remaining[0].TagIdentifier != "C3" {
		t.Fatalf("scan captured during clear was lost: %+v", remaining)
	}
}

func TestDaemonDatabaseHealth(t *testing.T) {
	d, _ := newTestDaemon(t, &stubClient{})
	health, err := d.DatabaseHealth(context.Background())
	if err != nil {
		t.Fatalf("DatabaseHealth: %v", err)
	}
	if !health.DatabaseReadable || health.Backend == "" {
		t.Fatalf("unexpected health %+v", health)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
