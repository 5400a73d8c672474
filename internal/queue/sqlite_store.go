package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"waypoint/internal/logging"
)

// SQLiteStore persists records in a single SQLite table.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

const (
	sqliteBusyCode          = 5
	sqliteCorruptCode       = 11
	sqliteNotADBCode        = 26
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func sqliteCode(err error) int {
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		return coder.Code() & 0xff
	}
	return 0
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	if sqliteCode(err) == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isSQLiteCorrupt(err error) bool {
	if err == nil {
		return false
	}
	switch sqliteCode(err) {
	case sqliteCorruptCode, sqliteNotADBCode:
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") || strings.Contains(msg, "malformed")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// OpenSQLite initializes or connects to the queue database at path. A file
// that SQLite rejects as corrupt is moved aside and replaced by an empty
// database.
func OpenSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	store, err := openSQLite(path, logger)
	if err == nil {
		return store, nil
	}
	if !isSQLiteCorrupt(err) {
		return nil, err
	}
	quarantined, qerr := quarantineFile(path)
	if qerr != nil {
		return nil, fmt.Errorf("quarantine corrupt queue database: %w", qerr)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}
	logger.Warn("queue database unreadable; starting empty",
		logging.String(logging.FieldEventType, "queue_corrupt_quarantined"),
		logging.String("quarantined_path", quarantined),
		logging.String(logging.FieldErrorHint, "inspect the quarantined file before deleting it"),
		logging.String(logging.FieldImpact, "records in the quarantined file are not synchronized"),
		logging.Error(err),
	)
	return openSQLite(path, logger)
}

func openSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SQLiteStore{db: db, path: path, logger: logger}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *SQLiteStore) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns every readable record in insertion order. Rows that fail to
// decode are moved to scan_records_quarantine so a later Save cannot drop
// them.
func (s *SQLiteStore) Load(ctx context.Context) ([]Record, error) {
	ctx = ensureContext(ctx)
	var (
		records []Record
		bad     []badRow
	)
	err := retryOnBusy(ctx, func() error {
		records, bad = records[:0], bad[:0]
		rows, err := s.db.QueryContext(ctx, selectRecordsSQL)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var rowid int64
			values := make([]any, recordColumnCount)
			dest := make([]any, 0, recordColumnCount+1)
			dest = append(dest, &rowid)
			for i := range values {
				dest = append(dest, &values[i])
			}
			if err := rows.Scan(dest...); err != nil {
				return err
			}
			rec, scanErr := scanRecord(rawRow(values))
			if scanErr != nil {
				bad = append(bad, badRow{rowid: rowid, err: scanErr})
				continue
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("load scan records: %w", err)
	}
	if len(bad) > 0 {
		if err := s.quarantineRows(ctx, bad); err != nil {
			return nil, fmt.Errorf("quarantine unreadable rows: %w", err)
		}
	}
	return records, nil
}

type badRow struct {
	rowid int64
	err   error
}

// quarantineRows moves undecodable rows out of scan_records in one
// transaction.
func (s *SQLiteStore) quarantineRows(ctx context.Context, bad []badRow) error {
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, createQuarantineSQL); err != nil {
			return err
		}
		now := time.Now().UnixMilli()
		for _, row := range bad {
			if _, err := tx.ExecContext(ctx, quarantineRowSQL, now, row.err.Error(), row.rowid); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM scan_records WHERE rowid = ?", row.rowid); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	for _, row := range bad {
		s.logger.Warn("unreadable queue row quarantined",
			logging.String(logging.FieldEventType, "queue_row_quarantined"),
			logging.Int64("rowid", row.rowid),
			logging.String(logging.FieldErrorHint, "inspect scan_records_quarantine in the queue database with sqlite3"),
			logging.String(logging.FieldImpact, "the row is kept aside and not synchronized"),
			logging.Error(row.err),
		)
	}
	return nil
}

// Save replaces the stored collection inside one transaction.
func (s *SQLiteStore) Save(ctx context.Context, records []Record) error {
	ctx = ensureContext(ctx)
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, "DELETE FROM scan_records"); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, insertRecordSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, rec := range records {
			if _, err := stmt.ExecContext(ctx, recordArgs(i, rec)...); err != nil {
				return fmt.Errorf("insert record %s: %w", rec.ID, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("save scan records: %w", err)
	}
	return nil
}

func quarantineFile(path string) (string, error) {
	target := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	if err := os.Rename(path, target); err != nil {
		return "", err
	}
	return target, nil
}
