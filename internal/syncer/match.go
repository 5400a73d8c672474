package syncer

import (
	"waypoint/internal/queue"
	"waypoint/internal/reconcile"
)

type matchResult struct {
	updates   []queue.Update
	matched   int
	unmatched int
	firstNote string
}

// matchDetails pairs server verdicts with the records of the batch. A
// clientRef echoed by the server wins; otherwise a verdict goes to the oldest
// record of the batch with the same tag (compared case-insensitively) and
// checkpoint that has not been matched yet. Records without a verdict get no update.
func matchDetails(batch []queue.Record, details []reconcile.Detail, receivedAt int64) matchResult {
	byID := make(map[string]int, len(batch))
	byKey := make(map[queue.RecordKey][]int, len(batch))
	for i, rec := range batch {
		byID[rec.ID] = i
		key := rec.MatchKey()
		byKey[key] = append(byKey[key], i)
	}
	used := make([]bool, len(batch))

	var res matchResult
	for _, detail := range details {
		idx := -1
		if detail.ClientRef != "" {
			if i, ok := byID[detail.ClientRef]; ok && !used[i] {
				idx = i
			}
		}
		if idx < 0 {
			key := queue.RecordKey{
				TagIdentifier: queue.TagMatchKey(detail.TagIdentifier),
				CheckpointID:  detail.CheckpointID,
			}
			for _, i := range byKey[key] {
				if !used[i] {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			res.unmatched++
			continue
		}
		used[idx] = true
		res.matched++

		kind := detail.Kind()
		status := queue.StatusFailed
		if kind == queue.OutcomeOK {
			status = queue.StatusSynced
		} else if res.firstNote == "" {
			res.firstNote = firstNonEmpty(detail.Reason, detail.Message, string(kind))
		}
		res.updates = append(res.updates, queue.Update{
			ID:     batch[idx].ID,
			Status: status,
			Outcome: &queue.Outcome{
				Kind:             kind,
				Reason:           detail.Reason,
				Message:          detail.Message,
				ReceivedAtMillis: receivedAt,
			},
		})
	}
	return res
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
