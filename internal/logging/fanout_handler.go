package logging

import (
	"context"
	"errors"
	"log/slog"
)

// teeHandler forwards each record to every enabled sink.
type teeHandler []slog.Handler

// TeeLogger returns a logger writing to base's handler and each extra sink.
// Nil handlers are ignored.
func TeeLogger(base *slog.Logger, sinks ...slog.Handler) *slog.Logger {
	var all []slog.Handler
	if base != nil {
		all = append(all, base.Handler())
	}
	for _, sink := range sinks {
		if sink != nil {
			all = append(all, sink)
		}
	}
	switch len(all) {
	case 0:
		return NewNop()
	case 1:
		return slog.New(all[0])
	default:
		return slog.New(teeHandler(all))
	}
}

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sink := range t {
		if sink.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle clones the record per sink since handlers may add attributes.
func (t teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, sink := range t {
		if sink.Enabled(ctx, record.Level) {
			errs = append(errs, sink.Handle(ctx, record.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (t teeHandler) each(fn func(slog.Handler) slog.Handler) teeHandler {
	next := make(teeHandler, len(t))
	for i, sink := range t {
		next[i] = fn(sink)
	}
	return next
}
