package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Trigger identifies what kind of actor requested a transition.
type Trigger string

const (
	TriggerAgent   Trigger = "agent"
	TriggerHuman   Trigger = "human"
	TriggerWebhook Trigger = "webhook"
)

// Record is the current pipeline position of one (job, candidate) pair.
// It is a materialized view over the transition_events ledger: agentNotes and
// rejectionReason hold only the most recent values (history lives in the
// ledger, not here). UpdatedAt doubles as the optimistic-concurrency token.
type Record struct {
	JobID           string     `json:"jobId"`
	CandidateID     string     `json:"candidateId"`
	State           State      `json:"state"`
	PreviousState   State      `json:"previousState,omitempty"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	InterviewRound  int        `json:"interviewRound"`
	AgentNotes      string     `json:"agentNotes,omitempty"`
	RejectionReason string     `json:"rejectionReason,omitempty"`

	// External system-of-record foreign keys. When either is empty the
	// record is local-only and stage sync is skipped.
	ExternalJobRef       string `json:"externalJobRef,omitempty"`
	ExternalCandidateRef string `json:"externalCandidateRef,omitempty"`
}

// LocalOnly reports whether the record has no system-of-record linkage.
func (r Record) LocalOnly() bool {
	return r.ExternalJobRef == "" || r.ExternalCandidateRef == ""
}

// Event is one immutable row in the append-only audit ledger. Exactly one is
// written per committed transition; events are never updated or deleted,
// except for the Synced flag which the reconciler flips once the stage change
// has reached the system of record.
type Event struct {
	ID          string    `json:"id"`
	JobID       string    `json:"jobId"`
	CandidateID string    `json:"candidateId"`
	FromState   State     `json:"fromState"`
	ToState     State     `json:"toState"`
	TriggeredBy Trigger   `json:"triggeredBy"`
	ActorID     string    `json:"actorId,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Synced      bool      `json:"synced"`
}

// Meta carries the per-transition annotations supplied by the caller.
// Notes and RejectionReason overwrite the record's values when non-empty and
// are carried over unchanged otherwise.
type Meta struct {
	TriggeredBy     Trigger
	ActorID         string
	Notes           string
	RejectionReason string
}

func newEvent(rec Record, from, to State, meta Meta, at time.Time) Event {
	return Event{
		ID:          uuid.NewString(),
		JobID:       rec.JobID,
		CandidateID: rec.CandidateID,
		FromState:   from,
		ToState:     to,
		TriggeredBy: meta.TriggeredBy,
		ActorID:     meta.ActorID,
		Notes:       meta.Notes,
		Timestamp:   at,
	}
}
