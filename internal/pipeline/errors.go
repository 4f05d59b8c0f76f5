package pipeline

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no record exists for a (job, candidate) pair.
var ErrNotFound = errors.New("pipeline record not found")

// ErrAlreadyExists is returned when creating a record for a pair that
// already has one.
var ErrAlreadyExists = errors.New("pipeline record already exists")

// InvalidTransitionError is a policy violation: the caller requested a state
// that is not adjacent to the record's current state. Always a caller bug or
// a stale UI; never retried automatically.
type InvalidTransitionError struct {
	From    State
	To      State
	Allowed []State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s → %s (allowed: %v)", e.From, e.To, e.Allowed)
}

// StaleRecordError is a concurrent-modification race: the record's state or
// updatedAt no longer matches what the caller read. The caller must re-read
// and make a fresh decision: the legal-successor set may have changed, so
// blindly retrying the same target state is wrong.
type StaleRecordError struct {
	JobID       string
	CandidateID string
	Expected    State
}

func (e *StaleRecordError) Error() string {
	return fmt.Sprintf("record %s/%s changed since read (expected state %s)",
		e.JobID, e.CandidateID, e.Expected)
}

// SyncError means the system of record rejected or never received a stage
// push. The local commit has already succeeded when this occurs; the event
// stays unsynced and the reconciler re-drives it out of band.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string { return fmt.Sprintf("ats %s: %v", e.Op, e.Err) }
func (e *SyncError) Unwrap() error { return e.Err }

// GenerationError is a content-generator collaborator failure. It aborts the
// orchestrated sequence before any transition is committed; retryable by the
// trigger's caller.
type GenerationError struct {
	Task string
	Err  error
}

func (e *GenerationError) Error() string { return fmt.Sprintf("generate %s: %v", e.Task, e.Err) }
func (e *GenerationError) Unwrap() error { return e.Err }

// DeliveryError is a notification-channel collaborator failure (message,
// email or calendar). Same retry semantics as GenerationError.
type DeliveryError struct {
	Channel string
	Err     error
}

func (e *DeliveryError) Error() string { return fmt.Sprintf("deliver via %s: %v", e.Channel, e.Err) }
func (e *DeliveryError) Unwrap() error { return e.Err }
