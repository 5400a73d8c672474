package queue

type statusTransition struct {
	from Status
	to   Status
}

var allowedTransitions = map[statusTransition]struct{}{
	{from: StatusPending, to: StatusSynced}: {},
	{from: StatusPending, to: StatusFailed}: {},
	{from: StatusFailed, to: StatusPending}: {},
}

// CanTransition reports whether a record in status from may move to status to.
func CanTransition(from, to Status) bool {
	_, ok := allowedTransitions[statusTransition{from: from, to: to}]
	return ok
}

// applyUpdate mutates rec in place when the transition is legal and reports
// whether anything changed.
func applyUpdate(rec *Record, status Status, outcome *Outcome) bool {
	if !CanTransition(rec.Status, status) {
		return false
	}
	rec.Status = status
	if status == StatusFailed {
		rec.RetryCount++
	}
	if outcome != nil {
		o := *outcome
		rec.Outcome = &o
	}
	return true
}

// dedupBlocking reports whether an existing record with this status blocks a
// new capture of the same tag at the same checkpoint.
func dedupBlocking(status Status) bool {
	return status == StatusPending || status == StatusSynced
}
