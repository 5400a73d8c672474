package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"waypoint/internal/api"
	"waypoint/internal/reconcile"
)

func TestScanAndListThroughDaemon(t *testing.T) {
	env := setupCLITestEnv(t, true)

	out, err := env.run(t, "scan", "A1")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !strings.Contains(out, "Queued A1 at checkpoint Summit (7)") {
		t.Fatalf("unexpected scan output %q", out)
	}

	out, err = env.run(t, "scan", "A1 ")
	if err != nil {
		t.Fatalf("duplicate scan: %v", err)
	}
	if !strings.Contains(out, "Duplicate: A1") {
		t.Fatalf("expected duplicate notice, got %q", out)
	}

	out, err = env.run(t, "queue", "list", "--format", "json")
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	var list api.QueueListResponse
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode list: %v\n%s", err, out)
	}
	if len(list.Items) != 1 || list.Items[0].Status != "pending" {
		t.Fatalf("unexpected items %+v", list.Items)
	}

	out, err = env.run(t, "queue", "list")
	if err != nil {
		t.Fatalf("queue list table: %v", err)
	}
	if !strings.Contains(out, "A1") || !strings.Contains(out, "Summit (7)") {
		t.Fatalf("table missing record:\n%s", out)
	}
}

func TestSyncDeliversPendingScans(t *testing.T) {
	env := setupCLITestEnv(t, true)

	for _, tag := range []string{"A1", "B2"} {
		if _, err := env.run(t, "scan", tag); err != nil {
			t.Fatalf("scan %s: %v", tag, err)
		}
	}
	out, err := env.run(t, "sync")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !strings.Contains(out, "delivered 2") {
		t.Fatalf("unexpected sync output %q", out)
	}
	if env.timing.batchCount() != 1 {
		t.Fatalf("expected one batch, got %d", env.timing.batchCount())
	}

	out, err = env.run(t, "queue", "stats", "--format", "yaml")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "synced: 2") || !strings.Contains(out, "pending: 0") {
		t.Fatalf("unexpected stats yaml:\n%s", out)
	}

	out, err = env.run(t, "sync")
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if !strings.Contains(out, "nothing-pending") {
		t.Fatalf("expected nothing-pending, got %q", out)
	}
}

func TestDirectModeWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t, false)

	if _, err := env.run(t, "scan", "B1", "--checkpoint", "9", "--name", "Ridge"); err != nil {
		t.Fatalf("direct scan: %v", err)
	}
	out, err := env.run(t, "queue", "stats", "--format", "json")
	if err != nil {
		t.Fatalf("direct stats: %v", err)
	}
	var stats api.Stats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("decode stats: %v\n%s", err, out)
	}
	if stats.Pending != 1 || stats.Total != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	out, err = env.run(t, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Not running") || !strings.Contains(out, "Pending") {
		t.Fatalf("unexpected offline status:\n%s", out)
	}
}

func TestScanRejectsHalfCoordinates(t *testing.T) {
	env := setupCLITestEnv(t, false)
	if _, err := env.run(t, "scan", "A1", "--lat", "45.1"); err == nil {
		t.Fatal("expected error for --lat without --lon")
	}
	if _, err := env.run(t, "scan"); err == nil {
		t.Fatal("expected error without a tag")
	}
}

func TestScanFromStdin(t *testing.T) {
	env := setupCLITestEnv(t, true)

	out, err := env.runWithInput(t, "T1\nT2\n\nt1\n", "scan", "--stdin")
	if err != nil {
		t.Fatalf("scan --stdin: %v", err)
	}
	if strings.Count(out, "Queued ") != 2 || strings.Count(out, "Duplicate: ") != 1 {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestQueueClearAsksForConfirmation(t *testing.T) {
	env := setupCLITestEnv(t, true)
	if _, err := env.run(t, "scan", "A1"); err != nil {
		t.Fatalf("scan: %v", err)
	}

	out, err := env.runWithInput(t, "n\n", "queue", "clear")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if !strings.Contains(out, "1 not yet synced") || !strings.Contains(out, "Aborted") {
		t.Fatalf("expected aborted prompt, got %q", out)
	}

	out, err = env.run(t, "queue", "clear", "--yes")
	if err != nil {
		t.Fatalf("clear --yes: %v", err)
	}
	if !strings.Contains(out, "Removed 1 scans") {
		t.Fatalf("unexpected clear output %q", out)
	}
}

func TestQueueClearSynced(t *testing.T) {
	env := setupCLITestEnv(t, true)
	for _, tag := range []string{"A1", "B2"} {
		if _, err := env.run(t, "scan", tag); err != nil {
			t.Fatalf("scan %s: %v", tag, err)
		}
	}
	if _, err := env.run(t, "sync"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, err := env.run(t, "scan", "C3"); err != nil {
		t.Fatalf("scan C3: %v", err)
	}
	out, err := env.run(t, "queue", "clear-synced")
	if err != nil {
		t.Fatalf("clear-synced: %v", err)
	}
	if !strings.Contains(out, "Removed 2 synced scans") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestQueueListRejectsUnknownFormat(t *testing.T) {
	env := setupCLITestEnv(t, false)
	if _, err := env.run(t, "queue", "list", "--format", "xml"); err == nil {
		t.Fatal("expected format error")
	}
}

func TestResultsRace(t *testing.T) {
	env := setupCLITestEnv(t, false)
	pos := 1
	env.timing.mu.Lock()
	env.timing.results = []reconcile.Result{{
		ID:          1,
		Racer:       reconcile.ResultRacer{BibNumber: 42, Name: "Ada Marshal"},
		Checkpoint:  reconcile.ResultCheckpoint{Name: "Summit"},
		SectionTime: 125,
		TotalTime:   3723,
		Position:    &pos,
	}}
	env.timing.mu.Unlock()

	out, err := env.run(t, "results", "race")
	if err != nil {
		t.Fatalf("results race: %v", err)
	}
	for _, want := range []string{"Ada Marshal", "42", "2:05", "1:02:03"} {
		if !strings.Contains(out, want) {
			t.Fatalf("results output missing %q:\n%s", want, out)
		}
	}

	if _, err := env.run(t, "results", "final"); err == nil {
		t.Fatal("expected final results to require --event")
	}
}

func TestDoctorReportsChecks(t *testing.T) {
	env := setupCLITestEnv(t, false)
	out, err := env.run(t, "doctor")
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	for _, want := range []string{"State directory", "Session", "Timing server", "Queue store"} {
		if !strings.Contains(out, want) {
			t.Fatalf("doctor output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	target := filepath.Join(t.TempDir(), "waypoint", "config.toml")
	cmd := newRootCommand()
	cmd.SetOut(&strings.Builder{})
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config at %s: %v", target, err)
	}

	cmd = newRootCommand()
	cmd.SetOut(&strings.Builder{})
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected overwrite refusal, got %v", err)
	}
}

func TestTestNotifyRequiresDaemon(t *testing.T) {
	env := setupCLITestEnv(t, false)
	_, err := env.run(t, "test-notify")
	if err == nil || !strings.Contains(err.Error(), "waypoint start") {
		t.Fatalf("expected start hint, got %v", err)
	}
}

func TestConfigShowRedactsSessionToken(t *testing.T) {
	env := setupCLITestEnv(t, false)

	out, err := env.run(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "'tok'") || !strings.Contains(out, redacted) {
		t.Fatalf("expected redacted token:\n%s", out)
	}

	out, err = env.run(t, "config", "show", "--reveal")
	if err != nil {
		t.Fatalf("config show --reveal: %v", err)
	}
	if !strings.Contains(out, "tok") {
		t.Fatalf("expected token with --reveal:\n%s", out)
	}
}
