// Package preflight provides readiness checks for the filesystem, the queue
// store, the session, and the timing server that Waypoint depends on.
//
// The CLI "waypoint doctor" command runs them all; the daemon runner logs the
// results at startup without refusing to start, since a device in the field
// must keep capturing scans even when the server is unreachable.
package preflight
