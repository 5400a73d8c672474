package queue

import (
	"context"
	"fmt"
	"log/slog"

	"waypoint/internal/config"
	"waypoint/internal/logging"
)

// Store persists the full record collection.
//
// Load returns whatever can be read. Corrupt data is quarantined by the
// backend and reported as an empty (or partial) collection; only failures to
// reach the medium itself are returned as errors.
type Store interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, records []Record) error
	Close() error
}

// Open returns the backend selected by queue.backend.
func Open(cfg *config.Config, logger *slog.Logger) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("queue open: config is nil")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldComponent, "queue-store"))
	switch cfg.Queue.Backend {
	case config.BackendJSON:
		return OpenFile(cfg.QueuePath(), logger)
	case config.BackendSQLite, "":
		return OpenSQLite(cfg.QueuePath(), logger)
	default:
		return nil, fmt.Errorf("queue open: unsupported backend %q", cfg.Queue.Backend)
	}
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
