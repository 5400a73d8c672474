package queue

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func sampleRecords() []Record {
	return []Record{
		{
			ID:               "rec-1",
			TagIdentifier:    "A1",
			CheckpointID:     7,
			CheckpointName:   "Summit",
			CapturedAtMillis: 1_700_000_000_000,
			Coordinates:      &Coordinates{Lat: 46.5, Lon: 7.25},
			Status:           StatusPending,
		},
		{
			ID:               "rec-2",
			TagIdentifier:    "B2",
			CheckpointID:     7,
			CheckpointName:   "Summit",
			CapturedAtMillis: 1_700_000_001_000,
			Status:           StatusFailed,
			RetryCount:       2,
			Outcome: &Outcome{
				Kind:             OutcomeRejected,
				Reason:           "UNKNOWN_TAG",
				Message:          "tag not registered",
				ReceivedAtMillis: 1_700_000_002_000,
			},
		},
	}
}

func assertRoundTrip(t *testing.T, got []Record) {
	t.Helper()
	want := sampleRecords()
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	first := got[0]
	if first.ID != "rec-1" || first.TagIdentifier != "A1" || first.CheckpointID != 7 || first.CheckpointName != "Summit" {
		t.Fatalf("unexpected first record: %+v", first)
	}
	if first.Coordinates == nil || first.Coordinates.Lat != 46.5 || first.Coordinates.Lon != 7.25 {
		t.Fatalf("coordinates not preserved: %+v", first.Coordinates)
	}
	if first.Outcome != nil {
		t.Fatalf("expected no outcome on first record, got %+v", first.Outcome)
	}
	second := got[1]
	if second.Coordinates != nil {
		t.Fatalf("expected absent coordinates, got %+v", second.Coordinates)
	}
	if second.Status != StatusFailed || second.RetryCount != 2 {
		t.Fatalf("unexpected second record state: %+v", second)
	}
	if second.Outcome == nil || second.Outcome.Kind != OutcomeRejected || second.Outcome.Reason != "UNKNOWN_TAG" ||
		second.Outcome.Message != "tag not registered" || second.Outcome.ReceivedAtMillis != 1_700_000_002_000 {
		t.Fatalf("outcome not preserved: %+v", second.Outcome)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")
	store, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := store.Save(ctx, sampleRecords()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertRoundTrip(t, got)

	if err := reopened.Save(ctx, got[:1]); err != nil {
		t.Fatalf("Save subset: %v", err)
	}
	got, err = reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load subset: %v", err)
	}
	if len(got) != 1 || got[0].ID != "rec-1" {
		t.Fatalf("expected overwrite to leave rec-1 only, got %+v", got)
	}
}

func TestSQLiteStoreQuarantinesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queue.db")
	garbage := strings.Repeat("this is not a sqlite database\n", 200)
	if err := os.WriteFile(path, []byte(garbage), 0o644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	store, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("OpenSQLite on corrupt file: %v", err)
	}
	defer store.Close()

	records, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty queue, got %d records", len(records))
	}
	matches, _ := filepath.Glob(path + ".corrupt-*")
	if len(matches) != 1 {
		t.Fatalf("expected one quarantined file, got %v", matches)
	}
}

func TestSQLiteStoreCheckHealth(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "queue.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer store.Close()
	if err := store.Save(ctx, sampleRecords()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	health, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.TableExists || !health.IntegrityCheck {
		t.Fatalf("unexpected health: %+v", health)
	}
	if len(health.MissingColumns) != 0 {
		t.Fatalf("unexpected missing columns: %v", health.MissingColumns)
	}
	if health.TotalItems != 2 {
		t.Fatalf("expected 2 items, got %d", health.TotalItems)
	}
	if health.SchemaVersion != "1" {
		t.Fatalf("expected schema version 1, got %q", health.SchemaVersion)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "queue.json")
	store, err := OpenFile(path, nil)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	empty, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load before first save: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty queue before first save, got %d", len(empty))
	}

	if err := store.Save(ctx, sampleRecords()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertRoundTrip(t, got)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !strings.Contains(string(data), `"reconciliationOutcome"`) || !strings.Contains(string(data), `"tagIdentifier"`) {
		t.Fatalf("unexpected json field names: %s", data)
	}
	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestFileStoreQuarantinesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	store, err := OpenFile(path, nil)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	records, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty queue, got %d", len(records))
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected corrupt file to be moved aside, stat err=%v", err)
	}
	matches, _ := filepath.Glob(path + ".corrupt-*")
	if len(matches) != 1 {
		t.Fatalf("expected one quarantined file, got %v", matches)
	}
}

func TestFileStoreQuarantinesUnknownStatus(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.json")
	payload := `[{"id":"ok","tagIdentifier":"A1","checkpointId":1,"status":"pending"},
{"id":"bad","tagIdentifier":"B2","checkpointId":1,"status":"processing"}]`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	store, err := OpenFile(path, nil)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	records, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 1 || records[0].ID != "ok" {
		t.Fatalf("expected only the readable record, got %+v", records)
	}

	matches, _ := filepath.Glob(path + ".quarantine-*.json")
	if len(matches) != 1 {
		t.Fatalf("expected one quarantine file, got %v", matches)
	}
	kept, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read quarantine file: %v", err)
	}
	if !strings.Contains(string(kept), `"processing"`) {
		t.Fatalf("quarantine file missing the bad entry: %s", kept)
	}

	// A second load finds nothing left to move aside.
	if _, err := store.Load(ctx); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if matches, _ := filepath.Glob(path + ".quarantine-*.json"); len(matches) != 1 {
		t.Fatalf("bad entry quarantined twice: %v", matches)
	}
}

func TestSQLiteStoreQuarantinesUnreadableRows(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "queue.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer store.Close()

	m := newTestManager(t, store)
	good := mustEnqueue(t, m, "A1", 7)
	insert := `INSERT INTO scan_records (id, position, tag_identifier, checkpoint_id, captured_at_ms, status)
VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := store.db.ExecContext(ctx, insert, "future", 1, "B2", 7, 10, "PENDING_V2"); err != nil {
		t.Fatalf("insert future status row: %v", err)
	}
	if _, err := store.db.ExecContext(ctx, insert, "garbled", 2, "C3", "abc", 11, "pending"); err != nil {
		t.Fatalf("insert garbled row: %v", err)
	}

	// Enqueue loads and saves the whole collection.
	mustEnqueue(t, m, "D4", 7)

	var quarantined int
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scan_records_quarantine").Scan(&quarantined); err != nil {
		t.Fatalf("count quarantine: %v", err)
	}
	if quarantined != 2 {
		t.Fatalf("expected 2 quarantined rows, got %d", quarantined)
	}
	var reason string
	if err := store.db.QueryRowContext(ctx, "SELECT reason FROM scan_records_quarantine WHERE id = 'future'").Scan(&reason); err != nil {
		t.Fatalf("read quarantine reason: %v", err)
	}
	if !strings.Contains(reason, "PENDING_V2") {
		t.Fatalf("reason = %q", reason)
	}

	records, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(records) != 2 || records[0].ID != good.ID || records[1].TagIdentifier != "D4" {
		t.Fatalf("unexpected records after quarantine: %+v", records)
	}
}
