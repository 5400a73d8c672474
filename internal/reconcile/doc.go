// Package reconcile speaks the timing server's batch synchronization
// protocol.
//
// A Client posts pending scan records as one batch and returns the server's
// per-record verdicts. Transport failures, non-2xx answers and unparseable
// bodies are all reported as *NetworkError so callers can tell them apart
// from a server-side rejection of individual records. The client never
// retries; retry policy belongs to the sync driver.
package reconcile
