// Package queue durably buffers checkpoint scan records and owns every
// mutation applied to them.
//
// A Store persists the whole collection (SQLite or a JSON file) and a Manager
// serialises load-modify-save cycles behind a mutex so duplicate detection and
// status updates never interleave. Status moves pending -> synced (terminal),
// pending -> failed and failed -> pending; any other transition is ignored.
//
// Synced records stay in the queue as history until an operator clears them.
package queue
