package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"waypoint/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "waypoint")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Session.File != filepath.Join(wantState, "session.json") {
		t.Fatalf("unexpected session file: %q", cfg.Session.File)
	}
	if cfg.QueuePath() != filepath.Join(wantState, "queue.db") {
		t.Fatalf("unexpected queue path: %q", cfg.QueuePath())
	}
	if cfg.Paths.APIBind != "127.0.0.1:7487" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Server.TimeoutSeconds != 30 {
		t.Fatalf("expected 30s server timeout, got %d", cfg.Server.TimeoutSeconds)
	}
	if cfg.Server.RaceMode != config.RaceModeRace {
		t.Fatalf("unexpected race mode: %q", cfg.Server.RaceMode)
	}
	if cfg.Connectivity.HealthURL != cfg.Server.BaseURL+"/health" {
		t.Fatalf("unexpected health url: %q", cfg.Connectivity.HealthURL)
	}
	if !cfg.Sync.TriggerOnEnqueue {
		t.Fatal("expected trigger_on_enqueue enabled by default")
	}
	if cfg.Archive.Enabled {
		t.Fatal("expected archive disabled by default")
	}
	if cfg.Archive.DeviceID == "" {
		t.Fatal("expected device id to default to hostname")
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "waypoint.toml")

	type payload struct {
		Queue struct {
			Backend string `toml:"backend"`
		} `toml:"queue"`
		Server struct {
			BaseURL  string `toml:"base_url"`
			RaceMode string `toml:"race_mode"`
		} `toml:"server"`
		Sync struct {
			IntervalSeconds int `toml:"interval_seconds"`
		} `toml:"sync"`
		Session struct {
			CheckpointID   int64  `toml:"checkpoint_id"`
			CheckpointName string `toml:"checkpoint_name"`
		} `toml:"session"`
	}
	custom := payload{}
	custom.Queue.Backend = "JSON"
	custom.Server.BaseURL = "https://timing.example.com/api/"
	custom.Server.RaceMode = " PreRace "
	custom.Sync.IntervalSeconds = 15
	custom.Session.CheckpointID = 7
	custom.Session.CheckpointName = " Summit "
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Queue.Backend != config.BackendJSON {
		t.Fatalf("expected json backend, got %q", cfg.Queue.Backend)
	}
	if !strings.HasSuffix(cfg.QueuePath(), "queue.json") {
		t.Fatalf("expected json queue path, got %q", cfg.QueuePath())
	}
	if cfg.Server.BaseURL != "https://timing.example.com/api" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Server.BaseURL)
	}
	if cfg.Server.RaceMode != config.RaceModePrerace {
		t.Fatalf("expected prerace mode, got %q", cfg.Server.RaceMode)
	}
	if cfg.SyncInterval().Seconds() != 15 {
		t.Fatalf("expected 15s interval, got %v", cfg.SyncInterval())
	}
	if cfg.Session.CheckpointID != 7 || cfg.Session.CheckpointName != "Summit" {
		t.Fatalf("unexpected checkpoint: %d %q", cfg.Session.CheckpointID, cfg.Session.CheckpointName)
	}
}

func TestEnvVarOverridesConfigFileForSecrets(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "waypoint.toml")

	type payload struct {
		Paths struct {
			APIToken string `toml:"api_token"`
		} `toml:"paths"`
		Session struct {
			Token string `toml:"token"`
		} `toml:"session"`
		Archive struct {
			AccessKey string `toml:"access_key"`
			SecretKey string `toml:"secret_key"`
		} `toml:"archive"`
	}
	custom := payload{}
	custom.Paths.APIToken = "file-api"
	custom.Session.Token = "file-session"
	custom.Archive.AccessKey = "file-access"
	custom.Archive.SecretKey = "file-secret"

	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	t.Setenv("WAYPOINT_API_TOKEN", "env-api")
	t.Setenv("WAYPOINT_SESSION_TOKEN", "env-session")
	t.Setenv("WAYPOINT_ARCHIVE_ACCESS_KEY", "env-access")
	t.Setenv("WAYPOINT_ARCHIVE_SECRET_KEY", "env-secret")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.APIToken != "env-api" {
		t.Errorf("expected API token from env, got %q", cfg.Paths.APIToken)
	}
	if cfg.Session.Token != "env-session" {
		t.Errorf("expected session token from env, got %q", cfg.Session.Token)
	}
	if cfg.Archive.AccessKey != "env-access" || cfg.Archive.SecretKey != "env-secret" {
		t.Errorf("expected archive keys from env, got %q/%q", cfg.Archive.AccessKey, cfg.Archive.SecretKey)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "your_topic_here") {
		t.Fatalf("sample config missing placeholder ntfy topic: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.StateDir, "waypoint") {
		t.Fatalf("expected state dir to contain waypoint, got %q", cfg.Paths.StateDir)
	}
	if cfg.Server.TimeoutSeconds != 30 {
		t.Fatalf("expected sample timeout 30, got %d", cfg.Server.TimeoutSeconds)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"timeout", func(c *config.Config) { c.Server.TimeoutSeconds = 0 }},
		{"interval", func(c *config.Config) { c.Sync.IntervalSeconds = -1 }},
		{"backend", func(c *config.Config) { c.Queue.Backend = "redis" }},
		{"race mode", func(c *config.Config) { c.Server.RaceMode = "final" }},
		{"base url", func(c *config.Config) { c.Server.BaseURL = "timing.local" }},
		{"latitude", func(c *config.Config) { c.Location.Enabled = true; c.Location.Latitude = 91 }},
		{"archive endpoint", func(c *config.Config) { c.Archive.Enabled = true }},
		{"archive keys", func(c *config.Config) {
			c.Archive.Enabled = true
			c.Archive.Endpoint = "s3.local"
		}},
	}
	for _, tc := range cases {
		cfg := config.Default()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
