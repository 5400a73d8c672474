package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"waypoint/internal/services"
)

// ErrNetwork marks any failure to obtain a well-formed response.
var ErrNetwork = errors.New("reconcile network error")

// NetworkError describes a failed exchange with the timing server.
type NetworkError struct {
	Op         string
	StatusCode int
	TraceID    string
	Message    string
	Err        error
}

func (e *NetworkError) Error() string {
	var b strings.Builder
	b.WriteString("reconcile ")
	b.WriteString(e.Op)
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, ": http %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.TraceID != "" {
		fmt.Fprintf(&b, " (trace %s)", e.TraceID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is matches ErrNetwork and services.ErrTransient so generic retry checks
// work. It also matches services.ErrTimeout for deadline failures and
// services.ErrNotFound for a 404.
func (e *NetworkError) Is(target error) bool {
	switch target {
	case ErrNetwork, services.ErrTransient:
		return true
	case services.ErrTimeout:
		return e.timedOut()
	case services.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

func (e *NetworkError) timedOut() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// Unauthorized reports whether the server rejected the session token.
func (e *NetworkError) Unauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}
