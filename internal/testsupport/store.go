package testsupport

import (
	"context"
	"testing"

	"waypoint/internal/config"
	"waypoint/internal/queue"
)

// MustOpenStore opens the configured queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) queue.Store {
	t.Helper()

	store, err := queue.Open(cfg, nil)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewManager opens a store under a fresh config and wraps it in a Manager.
func NewManager(t testing.TB, opts ...ConfigOption) (*queue.Manager, *config.Config) {
	t.Helper()

	cfg := NewConfig(t, opts...)
	return queue.NewManager(MustOpenStore(t, cfg)), cfg
}

// Enqueue stores a pending record and fails the test on error.
func Enqueue(t testing.TB, mgr *queue.Manager, tag string, checkpointID int64) queue.Record {
	t.Helper()

	rec, err := mgr.Enqueue(context.Background(), queue.Capture{
		TagIdentifier:  tag,
		CheckpointID:   checkpointID,
		CheckpointName: "Checkpoint",
	})
	if err != nil {
		t.Fatalf("Enqueue(%s, %d): %v", tag, checkpointID, err)
	}
	return rec
}
