package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Queue selects the durable queue backend.
type Queue struct {
	Backend   string `toml:"backend"` // "sqlite" or "json"
	MinFreeMB int    `toml:"min_free_mb"`
}

// Server contains the timing server connection settings.
type Server struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	RaceMode       string `toml:"race_mode"` // "race" or "prerace"
	SendClientRef  bool   `toml:"send_client_ref"`
}

// Sync contains delivery scheduling settings.
type Sync struct {
	IntervalSeconds       int  `toml:"interval_seconds"`
	TriggerOnEnqueue      bool `toml:"trigger_on_enqueue"`
	BacklogAlertThreshold int  `toml:"backlog_alert_threshold"`
}

// Session points at the credentials written by the login flow. The engine
// only reads them.
type Session struct {
	File               string `toml:"file"`
	CheckpointNameFile string `toml:"checkpoint_name_file"`
	Token              string `toml:"token"`
	CheckpointID       int64  `toml:"checkpoint_id"`
	CheckpointName     string `toml:"checkpoint_name"`
}

// Location holds fixed coordinates for stationary checkpoints.
type Location struct {
	Enabled   bool    `toml:"enabled"`
	Latitude  float64 `toml:"latitude"`
	Longitude float64 `toml:"longitude"`
}

// Connectivity contains reachability detection settings.
type Connectivity struct {
	HealthURL           string `toml:"health_url"`
	ReachTimeoutSeconds int    `toml:"reach_timeout_seconds"`
	WatchNetlink        bool   `toml:"watch_netlink"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic       string `toml:"ntfy_topic"`
	RequestTimeout  int    `toml:"request_timeout"`
	RecordsRejected bool   `toml:"records_rejected"`
	QueueBacklog    bool   `toml:"queue_backlog"`
	SyncRecovered   bool   `toml:"sync_recovered"`
}

// Archive contains S3-compatible snapshot storage settings.
type Archive struct {
	Enabled   bool   `toml:"enabled"`
	Endpoint  string `toml:"endpoint"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	UseSSL    bool   `toml:"use_ssl"`
	DeviceID  string `toml:"device_id"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for waypoint.
//
// Configuration sections by subsystem:
//   - Paths: state/log directories and the local API bind address
//   - Queue: durable queue backend
//   - Server: timing server endpoint, timeout and race mode
//   - Sync: periodic and on-capture delivery
//   - Session: read-only session and checkpoint assignment sources
//   - Location: fixed coordinates for stationary devices
//   - Connectivity: reachability check and netlink watcher
//   - Notifications: ntfy push notification settings
//   - Archive: queue snapshots to S3-compatible storage
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Queue         Queue         `toml:"queue"`
	Server        Server        `toml:"server"`
	Sync          Sync          `toml:"sync"`
	Session       Session       `toml:"session"`
	Location      Location      `toml:"location"`
	Connectivity  Connectivity  `toml:"connectivity"`
	Notifications Notifications `toml:"notifications"`
	Archive       Archive       `toml:"archive"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/waypoint/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("waypoint.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueuePath returns the location of the durable queue for the configured backend.
func (c *Config) QueuePath() string {
	if c.Queue.Backend == BackendJSON {
		return filepath.Join(c.Paths.StateDir, "queue.json")
	}
	return filepath.Join(c.Paths.StateDir, "queue.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "waypoint.lock")
}

// SocketPath returns the IPC unix socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "waypoint.sock")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "waypoint.pid")
}

// ServerTimeout returns the reconciliation request timeout.
func (c *Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// SyncInterval returns the periodic sync interval.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// ReachTimeout returns the connectivity reachability timeout.
func (c *Config) ReachTimeout() time.Duration {
	return time.Duration(c.Connectivity.ReachTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
