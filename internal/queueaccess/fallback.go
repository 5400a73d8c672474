package queueaccess

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"

	"waypoint/internal/daemon"
	"waypoint/internal/ipc"
)

// ErrDaemonUnreachable means a daemon holds the queue lock but its socket
// did not answer.
var ErrDaemonUnreachable = errors.New("waypoint daemon holds the queue lock but IPC is unreachable")

// Session represents a queue access handle and its cleanup function.
type Session struct {
	Access Access
	close  func() error
}

// Close releases resources associated with the session.
func (s Session) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenWithFallback tries IPC-backed access first, then falls back to direct
// access. Direct access holds the daemon lock at lockPath for the life of the
// session so a daemon cannot start underneath it.
func OpenWithFallback(
	dial func() (*ipc.Client, error),
	lockPath string,
	openDirect func() (*daemon.Daemon, error),
) (Session, error) {
	if dial != nil {
		if client, err := dial(); err == nil {
			return Session{
				Access: NewIPCAccess(client),
				close:  client.Close,
			}, nil
		}
	}

	if openDirect == nil {
		return Session{}, fmt.Errorf("open queue: no direct opener configured")
	}
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return Session{}, fmt.Errorf("acquire queue lock: %w", err)
	}
	if !ok {
		return Session{}, ErrDaemonUnreachable
	}
	d, err := openDirect()
	if err != nil {
		_ = lock.Unlock()
		return Session{}, fmt.Errorf("open queue store: %w", err)
	}
	return Session{
		Access: NewDirectAccess(d),
		close: func() error {
			closeErr := d.Close()
			if err := lock.Unlock(); err != nil && closeErr == nil {
				closeErr = err
			}
			return closeErr
		},
	}, nil
}
