package ipc

import "waypoint/internal/api"

// ServiceName is the JSON-RPC service the daemon registers.
const ServiceName = "Waypoint"

// StartRequest asks the daemon to resume background sync.
type StartRequest struct{}

// StartResponse reports whether background sync started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest asks the daemon to stop background sync.
type StopRequest struct{}

// StopResponse confirms the stop.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest asks for daemon status.
type StatusRequest struct{}

// StatusResponse mirrors api.DaemonStatus.
type StatusResponse = api.DaemonStatus

// QueueListRequest filters by status names; empty means all.
type QueueListRequest struct {
	Statuses []string `json:"statuses"`
}

// QueueListResponse carries records ordered by capture time.
type QueueListResponse = api.QueueListResponse

// QueueStatsRequest asks for per-status counts.
type QueueStatsRequest struct{}

// QueueStatsResponse mirrors api.Stats.
type QueueStatsResponse = api.Stats

// CaptureRequest submits one scan.
type CaptureRequest = api.CaptureRequest

// CaptureResponse reports a stored or duplicate scan.
type CaptureResponse = api.CaptureResponse

// SyncNowRequest runs one attempt.
type SyncNowRequest struct{}

// SyncNowResponse mirrors api.SyncOutcome.
type SyncNowResponse = api.SyncOutcome

// QueueClearRequest removes every record.
type QueueClearRequest struct{}

// QueueClearSyncedRequest removes synced records.
type QueueClearSyncedRequest struct{}

// QueueClearResponse mirrors api.ClearResponse.
type QueueClearResponse = api.ClearResponse

// DatabaseHealthRequest asks for store diagnostics.
type DatabaseHealthRequest struct{}

// DatabaseHealthResponse describes the queue medium.
type DatabaseHealthResponse struct {
	Backend          string   `json:"backend"`
	DBPath           string   `json:"dbPath"`
	DatabaseExists   bool     `json:"databaseExists"`
	DatabaseReadable bool     `json:"databaseReadable"`
	SchemaVersion    string   `json:"schemaVersion"`
	TableExists      bool     `json:"tableExists"`
	ColumnsPresent   []string `json:"columnsPresent"`
	MissingColumns   []string `json:"missingColumns"`
	IntegrityCheck   bool     `json:"integrityCheck"`
	TotalItems       int      `json:"totalItems"`
	Error            string   `json:"error,omitempty"`
}

// TestNotificationRequest sends a test notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports the result.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
