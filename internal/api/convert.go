package api

import (
	"strings"
	"time"

	"waypoint/internal/connectivity"
	"waypoint/internal/queue"
	"waypoint/internal/syncer"
)

// FromRecord converts a queue record to its API representation.
func FromRecord(rec queue.Record) Record {
	dto := Record{
		ID:             rec.ID,
		TagIdentifier:  rec.TagIdentifier,
		CheckpointID:   rec.CheckpointID,
		CheckpointName: rec.CheckpointName,
		CapturedAt:     formatMillis(rec.CapturedAtMillis),
		Status:         string(rec.Status),
		RetryCount:     rec.RetryCount,
	}
	if rec.Coordinates != nil {
		lat, lon := rec.Coordinates.Lat, rec.Coordinates.Lon
		dto.Lat = &lat
		dto.Lon = &lon
	}
	if rec.Outcome != nil {
		dto.Outcome = &Outcome{
			Kind:       string(rec.Outcome.Kind),
			Reason:     rec.Outcome.Reason,
			Message:    rec.Outcome.Message,
			ReceivedAt: formatMillis(rec.Outcome.ReceivedAtMillis),
		}
	}
	return dto
}

// FromRecords converts a slice, never returning nil.
func FromRecords(records []queue.Record) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		out = append(out, FromRecord(rec))
	}
	return out
}

// ToRecord converts an API record back to a queue record. Unknown statuses
// become pending.
func ToRecord(dto Record) queue.Record {
	rec := queue.Record{
		ID:             dto.ID,
		TagIdentifier:  dto.TagIdentifier,
		CheckpointID:   dto.CheckpointID,
		CheckpointName: dto.CheckpointName,
		RetryCount:     dto.RetryCount,
		Status:         queue.StatusPending,
	}
	if status, ok := queue.ParseStatus(dto.Status); ok {
		rec.Status = status
	}
	if ts, err := time.Parse(dateTimeFormat, dto.CapturedAt); err == nil {
		rec.CapturedAtMillis = ts.UnixMilli()
	}
	if dto.Lat != nil && dto.Lon != nil {
		rec.Coordinates = &queue.Coordinates{Lat: *dto.Lat, Lon: *dto.Lon}
	}
	if dto.Outcome != nil {
		rec.Outcome = &queue.Outcome{
			Kind:    queue.ParseOutcomeKind(dto.Outcome.Kind),
			Reason:  dto.Outcome.Reason,
			Message: dto.Outcome.Message,
		}
		if ts, err := time.Parse(dateTimeFormat, dto.Outcome.ReceivedAt); err == nil {
			rec.Outcome.ReceivedAtMillis = ts.UnixMilli()
		}
	}
	return rec
}

// FromStats converts queue stats.
func FromStats(stats queue.Stats) Stats {
	return Stats{Total: stats.Total, Pending: stats.Pending, Synced: stats.Synced, Failed: stats.Failed}
}

// FromOutcome converts a sync outcome.
func FromOutcome(out syncer.Outcome) SyncOutcome {
	return SyncOutcome{
		Kind:       string(out.Kind),
		Reason:     string(out.Reason),
		Error:      out.Error,
		Medium:     out.Medium,
		RequestID:  out.RequestID,
		TraceID:    out.TraceID,
		Sent:       out.Sent,
		Synced:     out.Synced,
		Failed:     out.Failed,
		Unanswered: out.Unanswered,
		Unmatched:  out.Unmatched,
		StartedAt:  formatTime(out.StartedAt),
		FinishedAt: formatTime(out.FinishedAt),
		Summary:    out.String(),
	}
}

// FromConnectivity converts a connectivity status.
func FromConnectivity(status connectivity.Status) Connectivity {
	return Connectivity{Connected: status.Connected, Medium: status.Medium}
}

// Coordinates returns the request position when both axes are present.
func (r CaptureRequest) Coordinates() *queue.Coordinates {
	if r.Lat == nil || r.Lon == nil {
		return nil
	}
	return &queue.Coordinates{Lat: *r.Lat, Lon: *r.Lon}
}

// Normalized trims the free-text fields of the request.
func (r CaptureRequest) Normalized() CaptureRequest {
	r.TagIdentifier = strings.TrimSpace(r.TagIdentifier)
	r.CheckpointName = strings.TrimSpace(r.CheckpointName)
	return r
}

func formatMillis(millis int64) string {
	if millis <= 0 {
		return ""
	}
	return time.UnixMilli(millis).UTC().Format(dateTimeFormat)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
