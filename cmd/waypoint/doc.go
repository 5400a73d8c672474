// Command waypoint captures checkpoint scans into a durable local queue and
// delivers them to the timing server when the device is online.
//
// Most subcommands talk to a running daemon over its Unix socket. When no
// daemon is running, queue commands open the store directly while holding the
// daemon lock, so a daemon cannot start underneath them.
package main
