package reconcile

import (
	"fmt"
	"time"

	"waypoint/internal/queue"
)

// TimestampLayout is the wire form of capture times: UTC with millisecond
// precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// WireRecord is one entry of the batch request.
type WireRecord struct {
	TagIdentifier  string   `json:"tagIdentifier"`
	CheckpointID   int64    `json:"checkpointId"`
	CheckpointName string   `json:"checkpointName"`
	Timestamp      string   `json:"timestamp"`
	Lat            *float64 `json:"lat,omitempty"`
	Lon            *float64 `json:"lon,omitempty"`
	ClientRef      string   `json:"clientRef,omitempty"`
}

// SyncRequest is the batch request body.
type SyncRequest struct {
	Records []WireRecord `json:"records"`
}

// Detail is the server verdict for one submitted record.
type Detail struct {
	TagIdentifier string `json:"tagIdentifier"`
	CheckpointID  int64  `json:"checkpointId"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	Message       string `json:"message,omitempty"`
	ClientRef     string `json:"clientRef,omitempty"`
}

// Kind maps the wire status onto a queue outcome kind.
func (d Detail) Kind() queue.OutcomeKind {
	return queue.ParseOutcomeKind(d.Status)
}

// SyncResponse is the batch response body.
type SyncResponse struct {
	Success   bool     `json:"success"`
	Processed int      `json:"processed"`
	Synced    int      `json:"synced"`
	Skipped   int      `json:"skipped"`
	Errors    int      `json:"errors"`
	Details   []Detail `json:"details"`

	// TraceID is copied from the x-trace-id response header when present.
	TraceID string `json:"-"`
}

// ToWire converts a queued record into its wire shape. The record id travels
// as clientRef only when includeRef is set.
func ToWire(rec queue.Record, includeRef bool) WireRecord {
	wire := WireRecord{
		TagIdentifier:  rec.TagIdentifier,
		CheckpointID:   rec.CheckpointID,
		CheckpointName: rec.CheckpointName,
		Timestamp:      FormatTimestamp(rec.CapturedAtMillis),
	}
	if rec.Coordinates != nil {
		lat, lon := rec.Coordinates.Lat, rec.Coordinates.Lon
		wire.Lat = &lat
		wire.Lon = &lon
	}
	if includeRef {
		wire.ClientRef = rec.ID
	}
	return wire
}

// FormatTimestamp renders epoch milliseconds in TimestampLayout.
func FormatTimestamp(millis int64) string {
	return time.UnixMilli(millis).UTC().Format(TimestampLayout)
}

// Result is one row of a results query.
type Result struct {
	ID           int64            `json:"id"`
	RacerID      int64            `json:"racerId"`
	Racer        ResultRacer      `json:"racer"`
	CheckpointID int64            `json:"checkpointId"`
	Checkpoint   ResultCheckpoint `json:"checkpoint"`
	SectionTime  int64            `json:"sectionTime"`
	TotalTime    int64            `json:"totalTime"`
	Position     *int             `json:"position,omitempty"`
}

// ResultRacer identifies the racer of a result row.
type ResultRacer struct {
	BibNumber int64  `json:"bibNumber"`
	Name      string `json:"name"`
}

// ResultCheckpoint names the checkpoint of a result row.
type ResultCheckpoint struct {
	Name string `json:"name"`
}

// FormatDuration renders seconds as H:MM:SS, or M:SS under an hour.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	hrs := seconds / 3600
	mins := (seconds % 3600) / 60
	secs := seconds % 60
	if hrs > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hrs, mins, secs)
	}
	return fmt.Sprintf("%d:%02d", mins, secs)
}
