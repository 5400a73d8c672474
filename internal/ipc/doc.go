// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response DTOs. Payloads
// reuse the api package types so the CLI renders the same shapes whether it
// talks to the daemon or reads the queue directly.
package ipc
