package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"waypoint/internal/config"
	"waypoint/internal/daemon"
	"waypoint/internal/daemonrun"
	"waypoint/internal/ipc"
	"waypoint/internal/logging"
	"waypoint/internal/reconcile"
	"waypoint/internal/testsupport"
)

// timingServer accepts every record and serves a fixed results list.
type timingServer struct {
	*httptest.Server

	mu      sync.Mutex
	batches [][]reconcile.WireRecord
	results []reconcile.Result
}

func newTimingServer(t *testing.T) *timingServer {
	t.Helper()
	ts := &timingServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/sync"):
			var req reconcile.SyncRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			ts.mu.Lock()
			ts.batches = append(ts.batches, req.Records)
			ts.mu.Unlock()
			resp := reconcile.SyncResponse{Success: true, Processed: len(req.Records), Synced: len(req.Records)}
			for _, rec := range req.Records {
				resp.Details = append(resp.Details, reconcile.Detail{
					TagIdentifier: rec.TagIdentifier,
					CheckpointID:  rec.CheckpointID,
					Status:        "OK",
				})
			}
			_ = json.NewEncoder(w).Encode(resp)
		case strings.HasSuffix(r.URL.Path, "/results"):
			ts.mu.Lock()
			results := ts.results
			ts.mu.Unlock()
			_ = json.NewEncoder(w).Encode(results)
		default:
			_, _ = io.WriteString(w, "{}")
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *timingServer) batchCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.batches)
}

type cliTestEnv struct {
	cfg        *config.Config
	timing     *timingServer
	daemon     *daemon.Daemon
	server     *ipc.Server
	socketPath string
	configPath string
}

// setupCLITestEnv writes a config pointing at a fake timing server. With
// withDaemon set, a daemon answers on the socket; otherwise commands fall
// back to direct store access.
func setupCLITestEnv(t *testing.T, withDaemon bool) *cliTestEnv {
	t.Helper()

	timing := newTimingServer(t)
	cfg := testsupport.NewConfig(t,
		testsupport.WithServer(timing.URL),
		testsupport.WithSession("tok", 7, "Summit"),
	)
	cfg.Paths.APIBind = ""
	cfg.Sync.TriggerOnEnqueue = false

	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	env := &cliTestEnv{
		cfg:        cfg,
		timing:     timing,
		socketPath: filepath.Join(cfg.Paths.StateDir, "cli.sock"),
		configPath: configPath,
	}
	if !withDaemon {
		return env
	}

	d, err := daemonrun.Build(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemonrun.Build: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv, err := ipc.NewServer(ctx, env.socketPath, d, logging.NewNop())
	if err != nil {
		cancel()
		d.Close()
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	env.daemon = d
	env.server = srv

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})
	return env
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return env.runWithInput(t, "", args...)
}

func (env *cliTestEnv) runWithInput(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(input))
	cmd.SetArgs(append([]string{"--socket", env.socketPath, "--config", env.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}
