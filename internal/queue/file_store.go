package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"waypoint/internal/logging"
)

// FileStore persists records as a JSON array in a single file.
type FileStore struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// OpenFile returns a JSON file store at path. The file is created lazily on
// the first Save.
func OpenFile(path string, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("queue file path is empty")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}
	return &FileStore{path: path, logger: logger}, nil
}

// Path returns the backing file location.
func (s *FileStore) Path() string {
	return s.path
}

// Close is a no-op; every Save closes the file it wrote.
func (s *FileStore) Close() error {
	return nil
}

// Load reads the file. A missing or empty file is an empty queue; a file that
// cannot be parsed is renamed aside and treated as empty.
func (s *FileStore) Load(ctx context.Context) ([]Record, error) {
	if err := ensureContext(ctx).Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read queue file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.quarantine(err)
		return nil, nil
	}

	records := make([]Record, 0, len(raw))
	var bad []json.RawMessage
	for _, entry := range raw {
		var rec Record
		if err := json.Unmarshal(entry, &rec); err != nil || rec.ID == "" || !rec.Status.Valid() {
			bad = append(bad, entry)
			continue
		}
		records = append(records, rec)
	}
	if len(bad) > 0 {
		if err := s.quarantineEntries(bad, records); err != nil {
			return nil, fmt.Errorf("quarantine unreadable queue entries: %w", err)
		}
	}
	return records, nil
}

// quarantineEntries writes bad entries to a sidecar file, then rewrites the
// queue file without them so they are moved rather than dropped.
func (s *FileStore) quarantineEntries(bad []json.RawMessage, good []Record) error {
	payload, err := json.MarshalIndent(bad, "", "  ")
	if err != nil {
		return err
	}
	target := fmt.Sprintf("%s.quarantine-%d.json", s.path, time.Now().UnixNano())
	if err := os.WriteFile(target, payload, 0o644); err != nil {
		return err
	}
	if err := s.writeLocked(good); err != nil {
		return err
	}
	s.logger.Warn("unreadable queue entries quarantined",
		logging.String(logging.FieldEventType, "queue_row_quarantined"),
		logging.Int("entries", len(bad)),
		logging.String("quarantined_path", target),
		logging.String(logging.FieldErrorHint, "inspect the quarantine file before deleting it"),
		logging.String(logging.FieldImpact, "the entries are kept aside and not synchronized"),
	)
	return nil
}

func (s *FileStore) quarantine(parseErr error) {
	target, err := quarantineFile(s.path)
	if err != nil {
		s.logger.Warn("queue file unreadable and could not be moved aside",
			logging.String(logging.FieldEventType, "queue_corrupt_quarantine_failed"),
			logging.String("path", s.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "move or delete the file manually"),
		)
		return
	}
	s.logger.Warn("queue file unreadable; starting empty",
		logging.String(logging.FieldEventType, "queue_corrupt_quarantined"),
		logging.String("quarantined_path", target),
		logging.Error(parseErr),
		logging.String(logging.FieldErrorHint, "inspect the quarantined file before deleting it"),
		logging.String(logging.FieldImpact, "records in the quarantined file are not synchronized"),
	)
}

// Save writes the collection atomically via a temp file and rename.
func (s *FileStore) Save(ctx context.Context, records []Record) error {
	if err := ensureContext(ctx).Err(); err != nil {
		return err
	}
	if records == nil {
		records = []Record{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(records)
}

func (s *FileStore) writeLocked(records []Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal queue: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// CheckHealth reports whether the file exists and parses.
func (s *FileStore) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{Backend: "json", DBPath: s.path, SchemaVersion: "json"}
	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return health, nil
		}
		health.Error = err.Error()
		return health, fmt.Errorf("read queue file: %w", err)
	}
	health.DatabaseExists = true
	health.DatabaseReadable = true
	health.TableExists = true
	if len(data) == 0 {
		health.IntegrityCheck = true
		return health, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		health.Error = err.Error()
		return health, nil
	}
	health.TotalItems = len(raw)
	health.IntegrityCheck = true
	return health, nil
}
