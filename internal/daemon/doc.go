// Package daemon coordinates the long-running Waypoint process.
//
// It wires the queue manager, the sync driver and scheduler, the capture
// service, the snapshot archiver, and the link watcher into a single
// lifecycle with flock-based locking to prevent multiple instances. The
// daemon exposes queue maintenance helpers and the HTTP API used by the
// handheld UI and race control.
//
// Keep orchestration logic here: delivery rules live in syncer, persistence
// in queue, and the daemon focuses on startup, shutdown, and high level
// coordination.
package daemon
