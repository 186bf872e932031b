package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedPayload     = errors.New("malformed acknowledgement payload")
	ErrHoldReasonRequired   = errors.New("hold decision is missing a hold reason code")
	ErrNoEligibleDecisions  = errors.New("no eligible decisions for batch")
	ErrCancelReasonRequired = errors.New("cancellation reason is required")
	ErrIntegrityFault       = errors.New("content hash mismatch on regeneration")
	ErrUnsupportedFormat    = errors.New("unsupported file format")
)

// NotFoundError reports a missing batch, record, config or decision.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func NewNotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// BatchStateError reports an illegal state-machine transition. It carries
// both the current and the attempted status so callers can re-read and
// decide what to do; it is never retried automatically.
type BatchStateError struct {
	BatchID   string
	Current   BatchStatus
	Attempted BatchStatus
	Reason    string
}

func (e *BatchStateError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("batch %s: %s (status %s)", e.BatchID, e.Reason, e.Current)
	}
	return fmt.Sprintf("batch %s: illegal transition %s -> %s", e.BatchID, e.Current, e.Attempted)
}

func IsBatchState(err error) bool {
	var bs *BatchStateError
	return errors.As(err, &bs)
}

// DualControlViolation reports a separation-of-duties breach: the batch
// creator attempted to approve their own batch. Always audit-logged.
type DualControlViolation struct {
	BatchID string
	ActorID string
}

func (e *DualControlViolation) Error() string {
	return fmt.Sprintf("batch %s: creator %s may not approve their own batch", e.BatchID, e.ActorID)
}

func IsDualControl(err error) bool {
	var dc *DualControlViolation
	return errors.As(err, &dc)
}

// FileGenerationError reports an encoding or configuration fault. The batch
// stays in APPROVED, so generation is safe to retry once the cause is fixed.
type FileGenerationError struct {
	BatchID string
	Cause   error
}

func (e *FileGenerationError) Error() string {
	return fmt.Sprintf("batch %s: file generation failed: %v", e.BatchID, e.Cause)
}

func (e *FileGenerationError) Unwrap() error {
	return e.Cause
}

func IsFileGeneration(err error) bool {
	var fg *FileGenerationError
	return errors.As(err, &fg)
}
