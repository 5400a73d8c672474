// Package config loads, normalizes, and validates waypoint configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// WAYPOINT_SESSION_TOKEN. The Config type centralizes every knob the daemon and
// CLI need so the queue location, server endpoint, and sync cadence are
// discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
