// Package session reads the operator session written by the login flow.
// The engine never writes or refreshes it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"waypoint/internal/config"
	"waypoint/internal/logging"
	"waypoint/internal/services"
)

// ErrNoSession reports that no usable session is present.
var ErrNoSession = fmt.Errorf("%w: no active session", services.ErrPrecondition)

// Session is the subset of the login record the engine relies on.
type Session struct {
	Token          string  `json:"token"`
	StaffID        int64   `json:"staffId,omitempty"`
	StaffCode      string  `json:"staffCode,omitempty"`
	FirstName      string  `json:"firstName,omitempty"`
	LastName       string  `json:"lastName,omitempty"`
	FullName       string  `json:"fullName,omitempty"`
	Phone          *string `json:"phone,omitempty"`
	Role           string  `json:"role,omitempty"`
	CheckpointID   *int64  `json:"checkpointId"`
	CheckpointName *string `json:"checkpointName"`
	LoginDate      string  `json:"loginDate,omitempty"`
}

// Valid reports whether the session carries a token.
func (s Session) Valid() bool {
	return strings.TrimSpace(s.Token) != ""
}

// Checkpoint returns the assigned checkpoint id, if any.
func (s Session) Checkpoint() (int64, bool) {
	if s.CheckpointID == nil || *s.CheckpointID <= 0 {
		return 0, false
	}
	return *s.CheckpointID, true
}

// LoggedInAt parses LoginDate.
func (s Session) LoggedInAt() (time.Time, bool) {
	if strings.TrimSpace(s.LoginDate) == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, s.LoginDate)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// DisplayName returns the best available operator name.
func (s Session) DisplayName() string {
	if name := strings.TrimSpace(s.FullName); name != "" {
		return name
	}
	if name := strings.TrimSpace(s.FirstName + " " + s.LastName); name != "" {
		return name
	}
	return s.StaffCode
}

// Provider yields the current session.
type Provider interface {
	Current(ctx context.Context) (Session, error)
}

// FileProvider reads the session file on every call so a fresh login is
// picked up without restarting. When the file is missing it falls back to
// the static config session.
type FileProvider struct {
	path               string
	checkpointNamePath string
	fallback           Session
	fallbackName       string
	logger             *slog.Logger
}

// NewFileProvider builds a provider from the [session] config section.
func NewFileProvider(cfg *config.Config, logger *slog.Logger) *FileProvider {
	p := &FileProvider{logger: logging.NewComponentLogger(logger, "session")}
	if cfg == nil {
		return p
	}
	p.path = cfg.Session.File
	p.checkpointNamePath = cfg.Session.CheckpointNameFile
	p.fallbackName = cfg.Session.CheckpointName
	p.fallback = Session{Token: cfg.Session.Token}
	if cfg.Session.CheckpointID > 0 {
		id := cfg.Session.CheckpointID
		p.fallback.CheckpointID = &id
	}
	if name := cfg.Session.CheckpointName; name != "" {
		p.fallback.CheckpointName = &name
	}
	return p
}

// Current returns the file session, else the config session, else ErrNoSession.
func (p *FileProvider) Current(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	sess, ok, err := p.readFile()
	if err != nil {
		logging.WarnWithContext(p.logger, "session file unreadable", "session_read_failed",
			logging.String("path", p.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "log in again to rewrite the session file"),
			logging.String(logging.FieldImpact, "sync is skipped until a session is available"),
		)
	}
	if ok && sess.Valid() {
		return sess, nil
	}
	if p.fallback.Valid() {
		return p.fallback, nil
	}
	return Session{}, ErrNoSession
}

func (p *FileProvider) readFile() (Session, bool, error) {
	if strings.TrimSpace(p.path) == "" {
		return Session{}, false, nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Session{}, false, nil
		}
		return Session{}, false, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return Session{}, false, nil
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return Session{}, false, fmt.Errorf("parse session file: %w", err)
	}
	sess.Token = strings.TrimSpace(sess.Token)
	return sess, true, nil
}

// ActiveCheckpointName resolves the name stamped on new records: the
// explicit checkpoint name file, then the session, then config.
func (p *FileProvider) ActiveCheckpointName(ctx context.Context) string {
	if p.checkpointNamePath != "" {
		if data, err := os.ReadFile(p.checkpointNamePath); err == nil {
			if name := strings.TrimSpace(string(data)); name != "" {
				return name
			}
		}
	}
	if sess, err := p.Current(ctx); err == nil && sess.CheckpointName != nil {
		if name := strings.TrimSpace(*sess.CheckpointName); name != "" {
			return name
		}
	}
	return p.fallbackName
}

// Static is a fixed Provider.
type Static struct {
	Session Session
}

// Current returns the fixed session or ErrNoSession when it has no token.
func (s Static) Current(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	if !s.Session.Valid() {
		return Session{}, ErrNoSession
	}
	return s.Session, nil
}
