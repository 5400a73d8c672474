package connectivity

import (
	"context"
	"log/slog"
	"time"

	"waypoint/internal/logging"
)

// Medium names the kind of link carrying the default route.
const (
	MediumWiFi     = "wifi"
	MediumEthernet = "ethernet"
	MediumCellular = "cellular"
	MediumNone     = "none"
	MediumUnknown  = "unknown"
)

// Status is a point-in-time connectivity answer.
type Status struct {
	Connected bool   `json:"connected"`
	Medium    string `json:"medium"`
}

// Checker reports connectivity.
type Checker interface {
	Status(ctx context.Context) Status
}

// Static always returns the same answer.
type Static struct {
	Connected bool
	Medium    string
}

// Status implements Checker.
func (s Static) Status(context.Context) Status {
	medium := s.Medium
	if medium == "" {
		medium = MediumUnknown
	}
	return Status{Connected: s.Connected, Medium: medium}
}

// Pinger reaches the server; reconcile.Client satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPReachability is connected when the server answers a ping within the timeout.
type HTTPReachability struct {
	pinger  Pinger
	timeout time.Duration
	routes  *RouteTable
	logger  *slog.Logger
}

// NewHTTPReachability builds a reachability checker. A non-positive timeout means 5s.
func NewHTTPReachability(pinger Pinger, timeout time.Duration, logger *slog.Logger) *HTTPReachability {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPReachability{
		pinger:  pinger,
		timeout: timeout,
		routes:  NewRouteTable(),
		logger:  logging.NewComponentLogger(logger, "connectivity"),
	}
}

// Status implements Checker.
func (p *HTTPReachability) Status(ctx context.Context) Status {
	medium := p.routes.DefaultMedium()
	if p.pinger == nil {
		return Status{Connected: false, Medium: medium}
	}
	pingCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.pinger.Ping(pingCtx); err != nil {
		p.logger.Debug("connectivity ping failed",
			logging.String(logging.FieldEventType, "connectivity_ping_failed"),
			logging.String("medium", medium),
			logging.Error(err),
		)
		return Status{Connected: false, Medium: medium}
	}
	return Status{Connected: true, Medium: medium}
}
