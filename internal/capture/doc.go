// Package capture turns tag reads into queued scan records.
//
// It resolves the checkpoint the device is assigned to, attaches a position
// fix when one is available, enqueues the record and nudges the sync driver.
// A missing checkpoint assignment is reported as ErrNoCheckpoint, which is a
// precondition failure and never a network error.
package capture
