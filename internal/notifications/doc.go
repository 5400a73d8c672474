// Package notifications delivers operator alerts via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when notifications are disabled.
// Enumerated event types cover the conditions an operator must act on
// (rejected records, a growing backlog) so the sync driver can emit
// consistent messages without duplicating HTTP glue.
package notifications
