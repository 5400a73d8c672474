package testsupport

import (
	"path/filepath"
	"testing"

	"waypoint/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Session.File = filepath.Join(base, "state", "session.json")
	cfgVal.Session.CheckpointNameFile = filepath.Join(base, "state", "checkpoint_name")
	cfgVal.Connectivity.HealthURL = cfgVal.Server.BaseURL + "/health"
	cfgVal.Connectivity.WatchNetlink = false
	cfgVal.Archive.DeviceID = "test-device"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithBackend selects the queue backend.
func WithBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.Backend = backend
	}
}

// WithServer points the reconciliation client (and reachability check) at baseURL.
func WithServer(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Server.BaseURL = baseURL
		b.cfg.Connectivity.HealthURL = baseURL + "/health"
	}
}

// WithSession configures a static session token and checkpoint assignment.
func WithSession(token string, checkpointID int64, checkpointName string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Session.Token = token
		b.cfg.Session.CheckpointID = checkpointID
		b.cfg.Session.CheckpointName = checkpointName
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
