package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Record describes a queued scan in a transport-friendly format.
type Record struct {
	ID             string   `json:"id"`
	TagIdentifier  string   `json:"tagIdentifier"`
	CheckpointID   int64    `json:"checkpointId"`
	CheckpointName string   `json:"checkpointName"`
	CapturedAt     string   `json:"capturedAt"`
	Lat            *float64 `json:"lat,omitempty"`
	Lon            *float64 `json:"lon,omitempty"`
	Status         string   `json:"status"`
	RetryCount     int      `json:"retryCount"`
	Outcome        *Outcome `json:"reconciliationOutcome,omitempty"`
}

// Outcome is the server verdict stored on a record.
type Outcome struct {
	Kind       string `json:"kind"`
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"message,omitempty"`
	ReceivedAt string `json:"receivedAt,omitempty"`
}

// Stats counts records per status.
type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
}

// SyncOutcome reports one delivery attempt.
type SyncOutcome struct {
	Kind       string `json:"kind"`
	Reason     string `json:"reason,omitempty"`
	Error      string `json:"error,omitempty"`
	Medium     string `json:"medium,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
	TraceID    string `json:"traceId,omitempty"`
	Sent       int    `json:"sent"`
	Synced     int    `json:"synced"`
	Failed     int    `json:"failed"`
	Unanswered int    `json:"unanswered"`
	Unmatched  int    `json:"unmatched"`
	StartedAt  string `json:"startedAt,omitempty"`
	FinishedAt string `json:"finishedAt,omitempty"`
	Summary    string `json:"summary"`
}

// Connectivity mirrors connectivity.Status.
type Connectivity struct {
	Connected bool   `json:"connected"`
	Medium    string `json:"medium"`
}

// DaemonStatus aggregates runtime information.
type DaemonStatus struct {
	Running           bool         `json:"running"`
	PID               int          `json:"pid"`
	QueueBackend      string       `json:"queueBackend"`
	QueuePath         string       `json:"queuePath"`
	LockPath          string       `json:"lockPath"`
	Stats             Stats        `json:"stats"`
	LastSync          *SyncOutcome `json:"lastSync,omitempty"`
	LastScan          *Record      `json:"lastScan,omitempty"`
	Connectivity      Connectivity `json:"connectivity"`
	SessionPresent    bool         `json:"sessionPresent"`
	SyncInFlight      bool         `json:"syncInFlight"`
	SchedulerRunning  bool         `json:"schedulerRunning"`
	SchedulerInterval string       `json:"schedulerInterval,omitempty"`
	LinkWatcher       bool         `json:"linkWatcher"`
}

// CaptureRequest is the body of a scan submission.
type CaptureRequest struct {
	TagIdentifier  string   `json:"tagIdentifier"`
	CheckpointID   int64    `json:"checkpointId,omitempty"`
	CheckpointName string   `json:"checkpointName,omitempty"`
	Lat            *float64 `json:"lat,omitempty"`
	Lon            *float64 `json:"lon,omitempty"`
}

// CaptureResponse reports a stored or duplicate scan.
type CaptureResponse struct {
	Record    Record `json:"record"`
	Duplicate bool   `json:"duplicate"`
}

// QueueListResponse wraps a list of records.
type QueueListResponse struct {
	Items []Record `json:"items"`
}

// ClearResponse reports removed records and the snapshot taken first, if any.
type ClearResponse struct {
	Removed    int    `json:"removed"`
	ArchiveKey string `json:"archiveKey,omitempty"`
}

// ErrorResponse is the body of every non-2xx HTTP answer.
type ErrorResponse struct {
	Error string `json:"error"`
}
