package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeQueue()
	c.normalizeServer()
	if err := c.normalizeSession(); err != nil {
		return err
	}
	c.normalizeConnectivity()
	c.normalizeArchive()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if value, ok := lookupEnv("WAYPOINT_API_TOKEN"); ok {
		c.Paths.APIToken = value
	}
	return nil
}

func (c *Config) normalizeQueue() {
	c.Queue.Backend = strings.ToLower(strings.TrimSpace(c.Queue.Backend))
	if c.Queue.Backend == "" {
		c.Queue.Backend = BackendSQLite
	}
}

func (c *Config) normalizeServer() {
	c.Server.BaseURL = strings.TrimRight(strings.TrimSpace(c.Server.BaseURL), "/")
	if value, ok := lookupEnv("WAYPOINT_SERVER_URL"); ok {
		c.Server.BaseURL = strings.TrimRight(value, "/")
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = defaultServerBaseURL
	}
	c.Server.RaceMode = strings.ToLower(strings.TrimSpace(c.Server.RaceMode))
	if c.Server.RaceMode == "" {
		c.Server.RaceMode = RaceModeRace
	}
}

func (c *Config) normalizeSession() error {
	var err error
	if strings.TrimSpace(c.Session.File) == "" {
		c.Session.File = filepath.Join(c.Paths.StateDir, sessionFileName)
	}
	if c.Session.File, err = expandPath(c.Session.File); err != nil {
		return fmt.Errorf("session.file: %w", err)
	}
	if strings.TrimSpace(c.Session.CheckpointNameFile) == "" {
		c.Session.CheckpointNameFile = filepath.Join(c.Paths.StateDir, checkpointNameFileName)
	}
	if c.Session.CheckpointNameFile, err = expandPath(c.Session.CheckpointNameFile); err != nil {
		return fmt.Errorf("session.checkpoint_name_file: %w", err)
	}
	c.Session.Token = strings.TrimSpace(c.Session.Token)
	if value, ok := lookupEnv("WAYPOINT_SESSION_TOKEN"); ok {
		c.Session.Token = value
	}
	c.Session.CheckpointName = strings.TrimSpace(c.Session.CheckpointName)
	return nil
}

func (c *Config) normalizeConnectivity() {
	c.Connectivity.HealthURL = strings.TrimSpace(c.Connectivity.HealthURL)
	if c.Connectivity.HealthURL == "" {
		c.Connectivity.HealthURL = c.Server.BaseURL + "/health"
	}
}

func (c *Config) normalizeArchive() {
	c.Archive.Endpoint = strings.TrimSpace(c.Archive.Endpoint)
	c.Archive.Bucket = strings.TrimSpace(c.Archive.Bucket)
	if c.Archive.Bucket == "" {
		c.Archive.Bucket = defaultArchiveBucket
	}
	if value, ok := lookupEnv("WAYPOINT_ARCHIVE_ACCESS_KEY"); ok {
		c.Archive.AccessKey = value
	}
	if value, ok := lookupEnv("WAYPOINT_ARCHIVE_SECRET_KEY"); ok {
		c.Archive.SecretKey = value
	}
	c.Archive.AccessKey = strings.TrimSpace(c.Archive.AccessKey)
	c.Archive.SecretKey = strings.TrimSpace(c.Archive.SecretKey)
	c.Archive.DeviceID = strings.TrimSpace(c.Archive.DeviceID)
	if c.Archive.DeviceID == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			c.Archive.DeviceID = host
		} else {
			c.Archive.DeviceID = "waypoint"
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

// lookupEnv returns a trimmed, non-empty environment value.
func lookupEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}
