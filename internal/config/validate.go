package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateTimings(); err != nil {
		return err
	}
	if err := c.validateSession(); err != nil {
		return err
	}
	if err := c.validateLocation(); err != nil {
		return err
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.Backend {
	case BackendSQLite, BackendJSON:
	default:
		return fmt.Errorf("queue.backend must be %q or %q, got %q", BackendSQLite, BackendJSON, c.Queue.Backend)
	}
	if c.Queue.MinFreeMB < 0 {
		return errors.New("queue.min_free_mb must be >= 0")
	}
	return nil
}

func (c *Config) validateServer() error {
	parsed, err := url.Parse(c.Server.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("server.base_url must be an absolute URL, got %q", c.Server.BaseURL)
	}
	switch c.Server.RaceMode {
	case RaceModeRace, RaceModePrerace:
	default:
		return fmt.Errorf("server.race_mode must be %q or %q, got %q", RaceModeRace, RaceModePrerace, c.Server.RaceMode)
	}
	return nil
}

func (c *Config) validateTimings() error {
	if err := ensurePositiveMap(map[string]int{
		"server.timeout_seconds":             c.Server.TimeoutSeconds,
		"sync.interval_seconds":              c.Sync.IntervalSeconds,
		"connectivity.reach_timeout_seconds": c.Connectivity.ReachTimeoutSeconds,
		"notifications.request_timeout":      c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.Sync.BacklogAlertThreshold < 0 {
		return errors.New("sync.backlog_alert_threshold must be >= 0")
	}
	return nil
}

func (c *Config) validateSession() error {
	if c.Session.CheckpointID < 0 {
		return errors.New("session.checkpoint_id must be >= 0")
	}
	return nil
}

func (c *Config) validateLocation() error {
	if !c.Location.Enabled {
		return nil
	}
	if c.Location.Latitude < -90 || c.Location.Latitude > 90 {
		return errors.New("location.latitude must be between -90 and 90")
	}
	if c.Location.Longitude < -180 || c.Location.Longitude > 180 {
		return errors.New("location.longitude must be between -180 and 180")
	}
	return nil
}

func (c *Config) validateArchive() error {
	if !c.Archive.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Archive.Endpoint) == "" {
		return errors.New("archive.endpoint must be set when archive.enabled is true")
	}
	if c.Archive.AccessKey == "" || c.Archive.SecretKey == "" {
		return errors.New("archive.access_key and archive.secret_key must be set when archive.enabled is true (or set WAYPOINT_ARCHIVE_ACCESS_KEY/WAYPOINT_ARCHIVE_SECRET_KEY)")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
