// Package services defines shared utilities consumed by the queue, the sync
// driver and the outer surfaces (CLI, IPC, HTTP API).
//
// Key responsibilities:
//   - Context helpers that stamp record IDs, checkpoint IDs, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so callers can tell a
//     precondition failure from a transient one with errors.Is.
package services
