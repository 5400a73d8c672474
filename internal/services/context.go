package services

import "context"

type contextKey string

const (
	recordIDKey     contextKey = "record_id"
	checkpointIDKey contextKey = "checkpoint_id"
	requestIDKey    contextKey = "request_id"
)

// WithRecordID annotates context with the scan record identifier.
func WithRecordID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, recordIDKey, id)
}

// RecordIDFromContext extracts the scan record identifier if present.
func RecordIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(recordIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithCheckpointID annotates context with the checkpoint a flow operates on.
func WithCheckpointID(ctx context.Context, id int64) context.Context {
	if id <= 0 {
		return ctx
	}
	return context.WithValue(ctx, checkpointIDKey, id)
}

// CheckpointIDFromContext returns the checkpoint identifier if present.
func CheckpointIDFromContext(ctx context.Context) (int64, bool) {
	switch val := ctx.Value(checkpointIDKey).(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	default:
		return 0, false
	}
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
