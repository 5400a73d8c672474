package queue

import (
	"database/sql"
	"fmt"
	"strconv"
)

const selectRecordsSQL = `SELECT rowid, id, tag_identifier, checkpoint_id, checkpoint_name,
captured_at_ms, latitude, longitude, status, retry_count,
outcome_kind, outcome_reason, outcome_message, outcome_received_ms
FROM scan_records ORDER BY position, captured_at_ms, id`

const insertRecordSQL = `INSERT INTO scan_records (
id, position, tag_identifier, checkpoint_id, checkpoint_name, captured_at_ms,
latitude, longitude, status, retry_count,
outcome_kind, outcome_reason, outcome_message, outcome_received_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const recordColumnCount = 13

const createQuarantineSQL = `CREATE TABLE IF NOT EXISTS scan_records_quarantine (
    id TEXT,
    position INTEGER,
    tag_identifier TEXT,
    checkpoint_id,
    checkpoint_name TEXT,
    captured_at_ms,
    latitude,
    longitude,
    status TEXT,
    retry_count,
    outcome_kind TEXT,
    outcome_reason TEXT,
    outcome_message TEXT,
    outcome_received_ms,
    quarantined_at_ms INTEGER NOT NULL,
    reason TEXT NOT NULL
)`

const quarantineRowSQL = `INSERT INTO scan_records_quarantine (
id, position, tag_identifier, checkpoint_id, checkpoint_name, captured_at_ms,
latitude, longitude, status, retry_count,
outcome_kind, outcome_reason, outcome_message, outcome_received_ms,
quarantined_at_ms, reason
) SELECT id, position, tag_identifier, checkpoint_id, checkpoint_name, captured_at_ms,
latitude, longitude, status, retry_count,
outcome_kind, outcome_reason, outcome_message, outcome_received_ms, ?, ?
FROM scan_records WHERE rowid = ?`

type rowScanner interface {
	Scan(dest ...any) error
}

// rawRow replays values already read from the driver so a row that fails to
// decode can still be identified and moved aside.
type rawRow []any

func (r rawRow) Scan(dest ...any) error {
	if len(dest) != len(r) {
		return fmt.Errorf("expected %d destinations, got %d", len(r), len(dest))
	}
	for i, d := range dest {
		if err := assignValue(d, r[i]); err != nil {
			return fmt.Errorf("column %d: %w", i, err)
		}
	}
	return nil
}

func assignValue(dest, src any) error {
	switch d := dest.(type) {
	case sql.Scanner:
		return d.Scan(src)
	case *string:
		switch v := src.(type) {
		case string:
			*d = v
		case []byte:
			*d = string(v)
		default:
			return fmt.Errorf("cannot read %T as text", src)
		}
	case *int64:
		n, err := integerValue(src)
		if err != nil {
			return err
		}
		*d = n
	case *int:
		n, err := integerValue(src)
		if err != nil {
			return err
		}
		*d = int(n)
	default:
		return fmt.Errorf("unsupported destination %T", dest)
	}
	return nil
}

func integerValue(src any) (int64, error) {
	switch v := src.(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	default:
		return 0, fmt.Errorf("cannot read %T as integer", src)
	}
}

func scanRecord(scanner rowScanner) (Record, error) {
	var (
		rec        Record
		status     string
		lat, lon   sql.NullFloat64
		kind       sql.NullString
		reason     sql.NullString
		message    sql.NullString
		receivedMs sql.NullInt64
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.TagIdentifier,
		&rec.CheckpointID,
		&rec.CheckpointName,
		&rec.CapturedAtMillis,
		&lat,
		&lon,
		&status,
		&rec.RetryCount,
		&kind,
		&reason,
		&message,
		&receivedMs,
	); err != nil {
		return Record{}, err
	}
	parsed, ok := ParseStatus(status)
	if !ok {
		return Record{}, fmt.Errorf("record %s: unknown status %q", rec.ID, status)
	}
	rec.Status = parsed
	if lat.Valid && lon.Valid {
		rec.Coordinates = &Coordinates{Lat: lat.Float64, Lon: lon.Float64}
	}
	if kind.Valid && kind.String != "" {
		rec.Outcome = &Outcome{
			Kind:             ParseOutcomeKind(kind.String),
			Reason:           reason.String,
			Message:          message.String,
			ReceivedAtMillis: receivedMs.Int64,
		}
	}
	return rec, nil
}

func recordArgs(position int, rec Record) []any {
	var lat, lon sql.NullFloat64
	if rec.Coordinates != nil {
		lat = sql.NullFloat64{Float64: rec.Coordinates.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: rec.Coordinates.Lon, Valid: true}
	}
	var (
		kind, reason, message sql.NullString
		receivedMs            sql.NullInt64
	)
	if rec.Outcome != nil {
		kind = sql.NullString{String: string(rec.Outcome.Kind), Valid: true}
		reason = sql.NullString{String: rec.Outcome.Reason, Valid: rec.Outcome.Reason != ""}
		message = sql.NullString{String: rec.Outcome.Message, Valid: rec.Outcome.Message != ""}
		receivedMs = sql.NullInt64{Int64: rec.Outcome.ReceivedAtMillis, Valid: true}
	}
	return []any{
		rec.ID,
		position,
		rec.TagIdentifier,
		rec.CheckpointID,
		rec.CheckpointName,
		rec.CapturedAtMillis,
		lat,
		lon,
		string(rec.Status),
		rec.RetryCount,
		kind,
		reason,
		message,
		receivedMs,
	}
}
