// Package api defines wire-format types and converters shared by the IPC
// server, the HTTP API, and the CLI. It translates queue records and sync
// outcomes into transport-friendly DTOs so consumers never couple to internal
// types.
//
// # Key Types
//
// Record: transport form of a queued scan, including the reconciliation
// outcome once the server has answered.
//
// SyncOutcome: the result of one delivery attempt.
//
// DaemonStatus: running state, queue stats, last attempt, last scan, and
// connectivity.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps are RFC3339 with milliseconds in
// UTC. Statuses and outcome kinds are exposed as their string values.
package api
