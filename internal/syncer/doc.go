// Package syncer delivers queued scan records to the timing server.
//
// Driver.AttemptSync runs one delivery attempt: it checks connectivity, the
// pending set and the session, sends one batch, and applies the server's
// per-record verdicts back onto the queue. At most one attempt is in flight;
// overlapping calls return Skipped(in-progress). A Scheduler repeats attempts
// on an interval and can be kicked early when a link comes up.
package syncer
