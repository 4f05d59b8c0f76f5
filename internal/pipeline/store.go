package pipeline

import (
	"context"
	"time"
)

// Store is the durable record store and audit ledger. The Postgres
// implementation lives in internal/store; MemoryStore below backs tests and
// the validate command.
//
// Commit is the consistency primitive: it must apply the new record value
// and append the audit event in one atomic step, and only if the stored row
// still has state == expectState and updatedAt == expectUpdatedAt. A
// mismatch returns *StaleRecordError and writes nothing. Units of work may
// run on independent processes, so implementations must enforce this in the
// store itself, not with an in-process lock.
type Store interface {
	Create(ctx context.Context, rec Record) error
	Get(ctx context.Context, jobID, candidateID string) (Record, error)
	Commit(ctx context.Context, rec Record, expectState State, expectUpdatedAt time.Time, ev Event) error

	// The ledger is append-only: events are never rewritten apart from the
	// synced flag.
	ListEvents(ctx context.Context, jobID, candidateID string) ([]Event, error)
	MarkEventSynced(ctx context.Context, eventID string) error
	ListUnsyncedEvents(ctx context.Context, limit int) ([]Event, error)
}
