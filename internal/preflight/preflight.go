package preflight

import (
	"context"

	"waypoint/internal/config"
	"waypoint/internal/connectivity"
	"waypoint/internal/queue"
	"waypoint/internal/session"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Deps supplies the collaborators some checks need. Nil fields skip the
// corresponding check.
type Deps struct {
	Store    queue.Store
	Sessions session.Provider
	Pinger   connectivity.Pinger
}

// Run executes all applicable preflight checks for the given config.
func Run(ctx context.Context, cfg *config.Config, deps Deps) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckFreeSpace("Free space", cfg.Paths.StateDir, cfg.Queue.MinFreeMB),
	}
	if deps.Store != nil {
		results = append(results, CheckQueueStore(ctx, deps.Store))
	}
	if deps.Sessions != nil {
		results = append(results, CheckSession(ctx, deps.Sessions))
	}
	if deps.Pinger != nil {
		results = append(results, CheckServer(ctx, cfg.Server.BaseURL, deps.Pinger, cfg.ReachTimeout()))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
