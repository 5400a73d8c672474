package syncer

import (
	"fmt"
	"time"

	"waypoint/internal/services"
)

// OutcomeKind classifies an attempt.
type OutcomeKind string

const (
	OutcomeSkipped   OutcomeKind = "skipped"
	OutcomeTransient OutcomeKind = "transient"
	OutcomeDelivered OutcomeKind = "delivered"
)

// SkipReason explains a skipped attempt.
type SkipReason string

const (
	SkipOffline        SkipReason = "offline"
	SkipNothingPending SkipReason = "nothing-pending"
	SkipNoSession      SkipReason = "no-session"
	SkipInProgress     SkipReason = "in-progress"
)

// Outcome reports what one attempt did.
type Outcome struct {
	Kind       OutcomeKind `json:"kind"`
	Reason     SkipReason  `json:"reason,omitempty"`
	Error      string      `json:"error,omitempty"`
	Medium     string      `json:"medium,omitempty"`
	RequestID  string      `json:"requestId,omitempty"`
	TraceID    string      `json:"traceId,omitempty"`
	Sent       int         `json:"sent"`
	Synced     int         `json:"synced"`
	Failed     int         `json:"failed"`
	Unanswered int         `json:"unanswered"`
	Unmatched  int         `json:"unmatched"`
	Retryable  bool        `json:"retryable,omitempty"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt"`

	err error
}

// Err returns the underlying error of a transient outcome.
func (o Outcome) Err() error {
	return o.err
}

// Skipped reports whether the attempt made no network call.
func (o Outcome) Skipped() bool {
	return o.Kind == OutcomeSkipped
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeSkipped:
		return fmt.Sprintf("skipped (%s)", o.Reason)
	case OutcomeTransient:
		return fmt.Sprintf("transient failure: %s", o.Error)
	case OutcomeDelivered:
		return fmt.Sprintf("delivered %d: %d synced, %d failed, %d unanswered", o.Sent, o.Synced, o.Failed, o.Unanswered)
	default:
		return string(o.Kind)
	}
}

func skipped(reason SkipReason) Outcome {
	return Outcome{Kind: OutcomeSkipped, Reason: reason}
}

func transient(err error) Outcome {
	out := Outcome{Kind: OutcomeTransient, err: err, Retryable: services.IsRetryable(err)}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}
