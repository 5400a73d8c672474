package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"waypoint/internal/logging"
	"waypoint/internal/queue"
	"waypoint/internal/services"
	"waypoint/internal/session"
)

var (
	// ErrNoCheckpoint means the device has no checkpoint assignment.
	ErrNoCheckpoint = fmt.Errorf("%w: no checkpoint assigned", services.ErrPrecondition)
	// ErrReadFailed means the tag reader could not produce an identifier.
	ErrReadFailed = errors.New("tag read failed")
)

// Request describes one capture. Zero fields are resolved from the session
// and config.
type Request struct {
	TagIdentifier  string
	CheckpointID   int64
	CheckpointName string
	Coordinates    *queue.Coordinates
}

// Result is a stored or duplicate capture.
type Result struct {
	Record    queue.Record
	Duplicate bool
}

// Deps wires the collaborators of a Service.
type Deps struct {
	Queue    *queue.Manager
	Sessions session.Provider
	Names    CheckpointNamer
	Locator  Locator
	Reader   TagReader
	Trigger  SyncTrigger
	Logger   *slog.Logger
}

// Options tunes a Service.
type Options struct {
	DefaultCheckpointID int64
	TriggerOnEnqueue    bool
}

// Service runs the capture flow.
type Service struct {
	deps Deps
	opts Options
	log  *slog.Logger
}

// NewService builds a capture Service.
func NewService(deps Deps, opts Options) *Service {
	return &Service{
		deps: deps,
		opts: opts,
		log:  logging.NewComponentLogger(deps.Logger, "capture"),
	}
}

// Capture stores one crossing. A duplicate is reported through
// Result.Duplicate with a nil error.
func (s *Service) Capture(ctx context.Context, req Request) (Result, error) {
	if s.deps.Queue == nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "capture", "capture", "queue manager unavailable", nil)
	}
	checkpointID, err := s.resolveCheckpoint(ctx, req.CheckpointID)
	if err != nil {
		logging.WarnWithContext(s.log, "capture blocked: no checkpoint assignment", "capture_no_checkpoint",
			logging.String(logging.FieldTagID, req.TagIdentifier),
			logging.String(logging.FieldErrorHint, "log in with a checkpoint-assigned account or set session.checkpoint_id"),
			logging.String(logging.FieldImpact, "the tag read was discarded"),
		)
		return Result{}, err
	}
	ctx = services.WithCheckpointID(ctx, checkpointID)

	name := strings.TrimSpace(req.CheckpointName)
	if name == "" && s.deps.Names != nil {
		name = s.deps.Names.ActiveCheckpointName(ctx)
	}

	coords := req.Coordinates
	if coords == nil && s.deps.Locator != nil {
		located, locErr := s.deps.Locator.Locate(ctx)
		if locErr != nil {
			s.log.Debug("position unavailable",
				logging.String(logging.FieldEventType, "capture_locate_failed"),
				logging.Error(locErr),
			)
		} else {
			coords = located
		}
	}

	rec, err := s.deps.Queue.Enqueue(ctx, queue.Capture{
		TagIdentifier:  req.TagIdentifier,
		CheckpointID:   checkpointID,
		CheckpointName: name,
		Coordinates:    coords,
	})
	if errors.Is(err, queue.ErrDuplicate) {
		return Result{Record: rec, Duplicate: true}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if s.opts.TriggerOnEnqueue && s.deps.Trigger != nil {
		s.deps.Trigger.TriggerOnEnqueue()
	}
	return Result{Record: rec}, nil
}

// ReadAndCapture reads one tag and captures it at the active checkpoint.
func (s *Service) ReadAndCapture(ctx context.Context) (Result, error) {
	if s.deps.Reader == nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "capture", "read", "no tag reader configured", nil)
	}
	read, err := s.deps.Reader.Read(ctx)
	if err != nil {
		return Result{}, err
	}
	if !read.Success || strings.TrimSpace(read.TagIdentifier) == "" {
		msg := strings.TrimSpace(read.Error)
		if msg == "" {
			msg = "reader returned no tag"
		}
		return Result{}, fmt.Errorf("%w: %s", ErrReadFailed, msg)
	}
	return s.Capture(ctx, Request{TagIdentifier: read.TagIdentifier})
}

func (s *Service) resolveCheckpoint(ctx context.Context, explicit int64) (int64, error) {
	if explicit > 0 {
		return explicit, nil
	}
	if s.deps.Sessions != nil {
		if sess, err := s.deps.Sessions.Current(ctx); err == nil {
			if id, ok := sess.Checkpoint(); ok {
				return id, nil
			}
		}
	}
	if s.opts.DefaultCheckpointID > 0 {
		return s.opts.DefaultCheckpointID, nil
	}
	return 0, ErrNoCheckpoint
}
