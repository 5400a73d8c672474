package queueaccess

import (
	"context"
	"errors"

	"waypoint/internal/api"
	"waypoint/internal/capture"
	"waypoint/internal/daemon"
	"waypoint/internal/ipc"
	"waypoint/internal/queue"
)

// Access provides queue operations regardless of IPC or direct store backing.
type Access interface {
	Stats(ctx context.Context) (api.Stats, error)
	List(ctx context.Context, statuses []string) ([]api.Record, error)
	Capture(ctx context.Context, req api.CaptureRequest) (api.CaptureResponse, error)
	SyncNow(ctx context.Context) (api.SyncOutcome, error)
	ClearAll(ctx context.Context) (api.ClearResponse, error)
	ClearSynced(ctx context.Context) (api.ClearResponse, error)
	Health(ctx context.Context) (ipc.DatabaseHealthResponse, error)
	// Remote reports whether calls go through a running daemon.
	Remote() bool
}

// NewIPCAccess returns an Access backed by daemon IPC.
func NewIPCAccess(client *ipc.Client) Access {
	return &ipcAccess{client: client}
}

// NewDirectAccess returns an Access backed by an unstarted daemon that owns
// the store in this process.
func NewDirectAccess(d *daemon.Daemon) Access {
	return &directAccess{daemon: d}
}

type ipcAccess struct {
	client *ipc.Client
}

func (a *ipcAccess) Remote() bool { return true }

func (a *ipcAccess) Stats(_ context.Context) (api.Stats, error) {
	resp, err := a.client.QueueStats()
	if err != nil {
		return api.Stats{}, err
	}
	return *resp, nil
}

func (a *ipcAccess) List(_ context.Context, statuses []string) ([]api.Record, error) {
	resp, err := a.client.QueueList(statuses)
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (a *ipcAccess) Capture(_ context.Context, req api.CaptureRequest) (api.CaptureResponse, error) {
	resp, err := a.client.Capture(req)
	if err != nil {
		return api.CaptureResponse{}, err
	}
	return *resp, nil
}

func (a *ipcAccess) SyncNow(_ context.Context) (api.SyncOutcome, error) {
	resp, err := a.client.SyncNow()
	if err != nil {
		return api.SyncOutcome{}, err
	}
	return *resp, nil
}

func (a *ipcAccess) ClearAll(_ context.Context) (api.ClearResponse, error) {
	resp, err := a.client.QueueClear()
	if err != nil {
		return api.ClearResponse{}, err
	}
	return *resp, nil
}

func (a *ipcAccess) ClearSynced(_ context.Context) (api.ClearResponse, error) {
	resp, err := a.client.QueueClearSynced()
	if err != nil {
		return api.ClearResponse{}, err
	}
	return *resp, nil
}

func (a *ipcAccess) Health(_ context.Context) (ipc.DatabaseHealthResponse, error) {
	resp, err := a.client.DatabaseHealth()
	if err != nil {
		return ipc.DatabaseHealthResponse{}, err
	}
	return *resp, nil
}

type directAccess struct {
	daemon *daemon.Daemon
}

func (a *directAccess) Remote() bool { return false }

func (a *directAccess) Stats(ctx context.Context) (api.Stats, error) {
	return api.FromStats(a.daemon.QueueStats(ctx)), nil
}

func (a *directAccess) List(ctx context.Context, statuses []string) ([]api.Record, error) {
	filters, err := parseStatuses(statuses)
	if err != nil {
		return nil, err
	}
	return api.FromRecords(a.daemon.ListQueue(ctx, filters)), nil
}

func (a *directAccess) Capture(ctx context.Context, req api.CaptureRequest) (api.CaptureResponse, error) {
	req = req.Normalized()
	result, err := a.daemon.Capture(ctx, capture.Request{
		TagIdentifier:  req.TagIdentifier,
		CheckpointID:   req.CheckpointID,
		CheckpointName: req.CheckpointName,
		Coordinates:    req.Coordinates(),
	})
	if err != nil {
		return api.CaptureResponse{}, err
	}
	return api.CaptureResponse{Record: api.FromRecord(result.Record), Duplicate: result.Duplicate}, nil
}

func (a *directAccess) SyncNow(ctx context.Context) (api.SyncOutcome, error) {
	return api.FromOutcome(a.daemon.SyncNow(ctx)), nil
}

func (a *directAccess) ClearAll(ctx context.Context) (api.ClearResponse, error) {
	removed, key, err := a.daemon.ClearQueue(ctx)
	return api.ClearResponse{Removed: removed, ArchiveKey: key}, err
}

func (a *directAccess) ClearSynced(ctx context.Context) (api.ClearResponse, error) {
	removed, key, err := a.daemon.ClearSynced(ctx)
	return api.ClearResponse{Removed: removed, ArchiveKey: key}, err
}

func (a *directAccess) Health(ctx context.Context) (ipc.DatabaseHealthResponse, error) {
	health, err := a.daemon.DatabaseHealth(ctx)
	return ipc.FromDatabaseHealth(health), err
}

func parseStatuses(values []string) ([]queue.Status, error) {
	var filters []queue.Status
	for _, value := range values {
		parsed, ok := queue.ParseStatus(value)
		if !ok {
			return nil, errors.New("unknown status " + value)
		}
		filters = append(filters, parsed)
	}
	return filters, nil
}
