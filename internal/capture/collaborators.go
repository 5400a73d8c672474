package capture

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"waypoint/internal/config"
	"waypoint/internal/queue"
)

// ReadResult is what a tag reader produced.
type ReadResult struct {
	Success       bool
	TagIdentifier string
	Error         string
}

// TagReader reads one tag.
type TagReader interface {
	Read(ctx context.Context) (ReadResult, error)
}

// Locator returns the current position, or nil when none is available.
type Locator interface {
	Locate(ctx context.Context) (*queue.Coordinates, error)
}

// SyncTrigger is notified after a record is stored.
type SyncTrigger interface {
	TriggerOnEnqueue()
}

// CheckpointNamer resolves the active checkpoint name.
type CheckpointNamer interface {
	ActiveCheckpointName(ctx context.Context) string
}

// StaticLocator reports fixed coordinates.
type StaticLocator struct {
	Coordinates *queue.Coordinates
}

// NewLocator returns a StaticLocator for the [location] section, or nil
// when location is disabled.
func NewLocator(cfg *config.Config) Locator {
	if cfg == nil || !cfg.Location.Enabled {
		return nil
	}
	return StaticLocator{Coordinates: &queue.Coordinates{Lat: cfg.Location.Latitude, Lon: cfg.Location.Longitude}}
}

// Locate implements Locator.
func (s StaticLocator) Locate(context.Context) (*queue.Coordinates, error) {
	if s.Coordinates == nil {
		return nil, nil
	}
	c := *s.Coordinates
	return &c, nil
}

// LineReader reads one tag per line, as keyboard-wedge readers emit them.
type LineReader struct {
	mu      sync.Mutex
	scanner *bufio.Scanner
}

// NewLineReader wraps r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{scanner: bufio.NewScanner(r)}
}

// Read returns the next non-empty line. io.EOF is returned when input ends.
// The underlying read cannot be interrupted; ctx is checked between lines.
func (l *LineReader) Read(ctx context.Context) (ReadResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return ReadResult{}, err
		}
		if !l.scanner.Scan() {
			if err := l.scanner.Err(); err != nil {
				return ReadResult{Success: false, Error: err.Error()}, nil
			}
			return ReadResult{}, io.EOF
		}
		line := strings.TrimSpace(l.scanner.Text())
		if line == "" {
			continue
		}
		return ReadResult{Success: true, TagIdentifier: line}, nil
	}
}

// IsEndOfInput reports whether err means the reader is exhausted.
func IsEndOfInput(err error) bool {
	return errors.Is(err, io.EOF)
}
