package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionTo_HappyPath(t *testing.T) {
	path := []BatchStatus{
		BatchStatusDraft,
		BatchStatusApproved,
		BatchStatusFileGenerated,
		BatchStatusDelivered,
		BatchStatusAcknowledged,
		BatchStatusReconciled,
	}

	for i := 0; i < len(path)-1; i++ {
		assert.True(t, path[i].CanTransitionTo(path[i+1]),
			"expected %s -> %s to be legal", path[i], path[i+1])
	}
}

func TestCanTransitionTo_Cancellation(t *testing.T) {
	assert.True(t, BatchStatusDraft.CanTransitionTo(BatchStatusCancelled))
	assert.True(t, BatchStatusApproved.CanTransitionTo(BatchStatusCancelled))

	// cancellation is only legal before file generation
	assert.False(t, BatchStatusFileGenerated.CanTransitionTo(BatchStatusCancelled))
	assert.False(t, BatchStatusDelivered.CanTransitionTo(BatchStatusCancelled))
	assert.False(t, BatchStatusAcknowledged.CanTransitionTo(BatchStatusCancelled))
}

func TestCanTransitionTo_NoReverseEdges(t *testing.T) {
	assert.False(t, BatchStatusApproved.CanTransitionTo(BatchStatusDraft))
	assert.False(t, BatchStatusFileGenerated.CanTransitionTo(BatchStatusApproved))
	assert.False(t, BatchStatusDelivered.CanTransitionTo(BatchStatusFileGenerated))
	assert.False(t, BatchStatusReconciled.CanTransitionTo(BatchStatusAcknowledged))
}

func TestCanTransitionTo_TerminalStatesAreDeadEnds(t *testing.T) {
	all := []BatchStatus{
		BatchStatusDraft,
		BatchStatusApproved,
		BatchStatusFileGenerated,
		BatchStatusDelivered,
		BatchStatusAcknowledged,
		BatchStatusReconciled,
		BatchStatusFailedReconcile,
		BatchStatusCancelled,
	}

	for _, terminal := range []BatchStatus{BatchStatusReconciled, BatchStatusFailedReconcile, BatchStatusCancelled} {
		assert.True(t, terminal.Terminal())
		for _, next := range all {
			assert.False(t, terminal.CanTransitionTo(next),
				"terminal %s must not transition to %s", terminal, next)
		}
	}
}

func TestValidateTransition_CarriesStates(t *testing.T) {
	err := ValidateTransition("batch-1", BatchStatusDraft, BatchStatusDelivered)
	require.Error(t, err)

	var stateErr *BatchStateError
	require.True(t, errors.As(err, &stateErr))
	assert.Equal(t, "batch-1", stateErr.BatchID)
	assert.Equal(t, BatchStatusDraft, stateErr.Current)
	assert.Equal(t, BatchStatusDelivered, stateErr.Attempted)
}

func TestValidateTransition_LegalEdge(t *testing.T) {
	assert.NoError(t, ValidateTransition("batch-1", BatchStatusDraft, BatchStatusApproved))
}

func TestRecordStatusTerminal(t *testing.T) {
	assert.False(t, RecordStatusPending.Terminal())
	assert.False(t, RecordStatusDelivered.Terminal())
	assert.True(t, RecordStatusAccepted.Terminal())
	assert.True(t, RecordStatusRejected.Terminal())
	assert.True(t, RecordStatusError.Terminal())
	assert.True(t, RecordStatusManuallyResolved.Terminal())
}
