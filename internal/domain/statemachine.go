package domain

// legalTransitions is the single source of truth for the batch lifecycle.
// No transition is reversible.
var legalTransitions = map[BatchStatus][]BatchStatus{
	BatchStatusDraft:         {BatchStatusApproved, BatchStatusCancelled},
	BatchStatusApproved:      {BatchStatusFileGenerated, BatchStatusCancelled},
	BatchStatusFileGenerated: {BatchStatusDelivered},
	BatchStatusDelivered:     {BatchStatusAcknowledged},
	BatchStatusAcknowledged:  {BatchStatusReconciled, BatchStatusFailedReconcile},
}

func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	for _, t := range legalTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// ValidateTransition guards every status change in the pipeline. Any
// operation that would move a batch along an edge not listed above fails
// with a BatchStateError carrying both states.
func ValidateTransition(batchID string, current, next BatchStatus) error {
	if !current.CanTransitionTo(next) {
		return &BatchStateError{BatchID: batchID, Current: current, Attempted: next}
	}
	return nil
}
