package queue

import (
	"strings"
	"sync"

	"golang.org/x/text/cases"
)

// Status represents the delivery state of a scan record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSynced  Status = "synced"
	StatusFailed  Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusSynced,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns every known status in display order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts user input into a Status.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	_, ok := statusSet[status]
	return status, ok
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusSet[s]
	return ok
}

// OutcomeKind is the server verdict for one submitted record.
type OutcomeKind string

const (
	OutcomeOK       OutcomeKind = "OK"
	OutcomeRejected OutcomeKind = "NOT"
	OutcomeError    OutcomeKind = "ERROR"
)

// ParseOutcomeKind maps a wire status onto an OutcomeKind. Unknown values are
// treated as errors so they never count as delivered.
func ParseOutcomeKind(value string) OutcomeKind {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(OutcomeOK):
		return OutcomeOK
	case string(OutcomeRejected):
		return OutcomeRejected
	default:
		return OutcomeError
	}
}

// Coordinates is a position fix captured with a scan.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Outcome records the server's reconciliation verdict for a record.
type Outcome struct {
	Kind             OutcomeKind `json:"kind"`
	Reason           string      `json:"reason,omitempty"`
	Message          string      `json:"message,omitempty"`
	ReceivedAtMillis int64       `json:"receivedAtMillis"`
}

// Record is one observed tag crossing at a checkpoint.
type Record struct {
	ID               string       `json:"id"`
	TagIdentifier    string       `json:"tagIdentifier"`
	CheckpointID     int64        `json:"checkpointId"`
	CheckpointName   string       `json:"checkpointName"`
	CapturedAtMillis int64        `json:"capturedAtMillis"`
	Coordinates      *Coordinates `json:"coordinates,omitempty"`
	Status           Status       `json:"status"`
	RetryCount       int          `json:"retryCount"`
	Outcome          *Outcome     `json:"reconciliationOutcome,omitempty"`
}

// Key returns the duplicate-detection key of the record.
func (r Record) Key() RecordKey {
	return RecordKey{TagIdentifier: r.TagIdentifier, CheckpointID: r.CheckpointID}
}

// MatchKey returns the key used to pair server verdicts with the record.
func (r Record) MatchKey() RecordKey {
	return RecordKey{TagIdentifier: TagMatchKey(r.TagIdentifier), CheckpointID: r.CheckpointID}
}

// RecordKey identifies a crossing by content.
type RecordKey struct {
	TagIdentifier string
	CheckpointID  int64
}

func (r Record) clone() Record {
	if r.Coordinates != nil {
		c := *r.Coordinates
		r.Coordinates = &c
	}
	if r.Outcome != nil {
		o := *r.Outcome
		r.Outcome = &o
	}
	return r
}

// Capture is the input for Enqueue.
type Capture struct {
	TagIdentifier  string
	CheckpointID   int64
	CheckpointName string
	Coordinates    *Coordinates
}

// Update requests a status change for one record.
type Update struct {
	ID      string
	Status  Status
	Outcome *Outcome
}

// Applied summarizes a batch of updates.
type Applied struct {
	Changed []Record
	Ignored int
	Missing int
}

// Stats aggregates queue counts.
type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
}

var (
	tagFolderMu sync.Mutex
	tagFolder   = cases.Fold()
)

// NormalizeTagIdentifier strips surrounding whitespace. The value the reader
// produced is otherwise stored and sent unchanged, and duplicate detection
// compares it exactly.
func NormalizeTagIdentifier(value string) string {
	return strings.TrimSpace(value)
}

// TagMatchKey is the case-folded form used only to pair server verdicts with
// batch records when the server echoes a tag in a different case.
func TagMatchKey(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	tagFolderMu.Lock()
	defer tagFolderMu.Unlock()
	return tagFolder.String(trimmed)
}
