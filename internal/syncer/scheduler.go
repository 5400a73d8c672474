package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"waypoint/internal/logging"
	"waypoint/internal/services"
)

// Runner performs one attempt; *Driver satisfies it.
type Runner interface {
	AttemptSync(ctx context.Context) Outcome
}

// Scheduler repeats attempts on an interval. It is a process-scoped
// lifecycle object: callers own it and inject it where needed.
type Scheduler struct {
	runner Runner
	logger *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	kick     chan struct{}
	interval time.Duration
}

// NewScheduler returns a stopped scheduler for runner.
func NewScheduler(runner Runner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		logger: logging.NewComponentLogger(logger, "sync-scheduler"),
	}
}

// Start launches the loop. A second Start while running is a no-op.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return services.Wrap(services.ErrValidation, "sync-scheduler", "start",
			fmt.Sprintf("interval must be positive, got %s", interval), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.kick = make(chan struct{}, 1)
	s.interval = interval

	go s.loop(runCtx, interval, s.kick, s.done)

	s.logger.Info("sync scheduler started",
		logging.String(logging.FieldEventType, "sync_scheduler_started"),
		logging.Duration("interval", interval),
	)
	return nil
}

// Stop cancels the loop and waits for an in-progress attempt to return.
// Safe to call when never started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.kick = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("sync scheduler stopped",
		logging.String(logging.FieldEventType, "sync_scheduler_stopped"),
	)
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Interval returns the active interval, zero when stopped.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return 0
	}
	return s.interval
}

// Kick requests an attempt as soon as possible. Kicks coalesce; a kick on a
// stopped scheduler is dropped.
func (s *Scheduler) Kick() {
	s.mu.Lock()
	kick := s.kick
	s.mu.Unlock()
	if kick == nil {
		return
	}
	select {
	case kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, kick <-chan struct{}, done chan struct{}) {
	defer func() {
		// A cancelled parent ends the loop without Stop; clear the state so
		// Running reports false and a later Start launches a new loop.
		s.mu.Lock()
		if s.done == done {
			s.cancel()
			s.cancel = nil
			s.done = nil
			s.kick = nil
		}
		s.mu.Unlock()
		close(done)
	}()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-kick:
		}
		if ctx.Err() != nil {
			return
		}
		out := s.runner.AttemptSync(ctx)
		s.logger.Debug("scheduled sync finished",
			logging.String(logging.FieldEventType, "sync_scheduled_run"),
			logging.String("outcome", out.String()),
		)
	}
}
