package syncer

import (
	"testing"

	"waypoint/internal/queue"
	"waypoint/internal/reconcile"
)

func TestMatchDetailsOldestFirstForRepeatedPairs(t *testing.T) {
	batch := []queue.Record{
		{ID: "old", TagIdentifier: "A", CheckpointID: 1},
		{ID: "new", TagIdentifier: "A", CheckpointID: 1},
		{ID: "other", TagIdentifier: "B", CheckpointID: 2},
	}
	details := []reconcile.Detail{
		{TagIdentifier: "b", CheckpointID: 2, Status: "NOT", Reason: "LATE"},
		{TagIdentifier: "A", CheckpointID: 1, Status: "OK"},
		{TagIdentifier: "A", CheckpointID: 1, Status: "ERROR"},
		{TagIdentifier: "A", CheckpointID: 1, Status: "OK"},
		{TagIdentifier: "Z", CheckpointID: 9, Status: "OK"},
	}
	res := matchDetails(batch, details, 42)
	if res.matched != 3 || res.unmatched != 2 {
		t.Fatalf("matched=%d unmatched=%d", res.matched, res.unmatched)
	}
	want := map[string]queue.Status{"other": queue.StatusFailed, "old": queue.StatusSynced, "new": queue.StatusFailed}
	for _, upd := range res.updates {
		if want[upd.ID] != upd.Status {
			t.Fatalf("update %s = %s, want %s", upd.ID, upd.Status, want[upd.ID])
		}
		if upd.Outcome == nil || upd.Outcome.ReceivedAtMillis != 42 {
			t.Fatalf("missing outcome on %s", upd.ID)
		}
	}
	if res.firstNote != "LATE" {
		t.Fatalf("firstNote = %q", res.firstNote)
	}
}

func TestMatchDetailsUnknownStatusFails(t *testing.T) {
	batch := []queue.Record{{ID: "r", TagIdentifier: "A", CheckpointID: 1}}
	res := matchDetails(batch, []reconcile.Detail{{TagIdentifier: "A", CheckpointID: 1, Status: "MAYBE"}}, 1)
	if len(res.updates) != 1 || res.updates[0].Status != queue.StatusFailed || res.updates[0].Outcome.Kind != queue.OutcomeError {
		t.Fatalf("unexpected updates %+v", res.updates)
	}
}
