package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zodiac/pipeline-service/internal/metrics"
)

// DefaultMaxInterviewRounds bounds the INTERVIEW_ROUNDS self-loop. Once a
// candidate has sat this many rounds the machine refuses another loop and
// forces a SELECTED/REJECTED decision.
const DefaultMaxInterviewRounds = 3

// StageSyncer pushes a stage change to the external system of record.
// Implemented by internal/ats.
type StageSyncer interface {
	PushStage(ctx context.Context, jobRef, candidateRef string, state State, note string) error
}

// EventPublisher broadcasts committed transitions to subscribers (dashboard
// SSE fan-out). Implemented by internal/events. Failures are non-fatal.
type EventPublisher interface {
	StageChanged(ctx context.Context, ev Event) error
}

// Machine validates and applies single transitions. It is the only component
// allowed to mutate a Record's state; the Orchestrator and every external
// trigger go through Transition.
type Machine struct {
	store   Store
	sync    StageSyncer
	events  EventPublisher
	metrics *metrics.Collector
	logger  *slog.Logger

	maxInterviewRounds int
	now                func() time.Time
}

// MachineConfig carries the Machine's optional collaborators. Zero values
// are usable: no syncer means every record behaves as local-only, no
// publisher means no fan-out.
type MachineConfig struct {
	Sync               StageSyncer
	Events             EventPublisher
	Metrics            *metrics.Collector
	Logger             *slog.Logger
	MaxInterviewRounds int
}

// NewMachine returns a Machine backed by store.
func NewMachine(store Store, cfg MachineConfig) *Machine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxInterviewRounds <= 0 {
		cfg.MaxInterviewRounds = DefaultMaxInterviewRounds
	}
	return &Machine{
		store:              store,
		sync:               cfg.Sync,
		events:             cfg.Events,
		metrics:            cfg.Metrics,
		logger:             cfg.Logger,
		maxInterviewRounds: cfg.MaxInterviewRounds,
		now:                func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// CreateRecord constructs and persists a fresh record for a (job, candidate)
// pair. The only way to create a record: always starts at JD_RECEIVED with
// interviewRound 0.
func (m *Machine) CreateRecord(ctx context.Context, jobID, candidateID, externalJobRef, externalCandidateRef string) (Record, error) {
	rec := Record{
		JobID:                jobID,
		CandidateID:          candidateID,
		State:                StateJDReceived,
		UpdatedAt:            m.now(),
		ExternalJobRef:       externalJobRef,
		ExternalCandidateRef: externalCandidateRef,
	}
	if err := m.store.Create(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("create record %s/%s: %w", jobID, candidateID, err)
	}
	return rec, nil
}

// Get returns the current persisted record for a pair.
func (m *Machine) Get(ctx context.Context, jobID, candidateID string) (Record, error) {
	return m.store.Get(ctx, jobID, candidateID)
}

// Events returns the audit trail for a pair, oldest first.
func (m *Machine) Events(ctx context.Context, jobID, candidateID string) ([]Event, error) {
	return m.store.ListEvents(ctx, jobID, candidateID)
}

// Transition validates rec → to against the transition table and commits it.
//
// The commit is conditioned on the stored record still matching rec's state
// and updatedAt; a mismatch returns *StaleRecordError and the caller must
// re-read and decide again. On success exactly one audit event is appended
// atomically with the record update, then the stage change is pushed to the
// system of record. A sync failure never rolls back the local commit: the
// event stays unsynced and the reconciler re-drives it.
func (m *Machine) Transition(ctx context.Context, rec Record, to State, meta Meta) (Record, error) {
	start := time.Now()

	if !CanTransition(rec.State, to) {
		m.metrics.InvalidTransition()
		return Record{}, &InvalidTransitionError{From: rec.State, To: to, Allowed: NextStates(rec.State)}
	}

	updated := rec
	updated.PreviousState = rec.State
	updated.State = to
	updated.UpdatedAt = m.now()
	if to == StateInterviewRounds {
		round, err := m.nextInterviewRound(rec)
		if err != nil {
			m.metrics.InvalidTransition()
			return Record{}, err
		}
		updated.InterviewRound = round
	}
	if meta.Notes != "" {
		updated.AgentNotes = meta.Notes
	}
	if meta.RejectionReason != "" {
		updated.RejectionReason = meta.RejectionReason
	}

	ev := newEvent(rec, rec.State, to, meta, updated.UpdatedAt)

	if err := m.store.Commit(ctx, updated, rec.State, rec.UpdatedAt, ev); err != nil {
		var stale *StaleRecordError
		if errors.As(err, &stale) {
			m.metrics.StaleConflict()
		}
		return Record{}, err
	}

	m.logger.Info("transition committed",
		"jobId", rec.JobID, "candidateId", rec.CandidateID,
		"from", rec.State, "to", to, "triggeredBy", meta.TriggeredBy)

	m.pushStage(ctx, updated, ev)

	if m.events != nil {
		if err := m.events.StageChanged(ctx, ev); err != nil {
			m.logger.Warn("publish stage change failed", "jobId", rec.JobID, "err", err)
		}
	}

	m.metrics.Transition(string(rec.State), string(to))
	m.metrics.ObserveTransition(time.Since(start))
	return updated, nil
}

// pushStage delivers the stage change to the system of record, marking the
// audit event synced on success. Local-only records have nothing to sync and
// are marked immediately.
func (m *Machine) pushStage(ctx context.Context, rec Record, ev Event) {
	if m.sync == nil || rec.LocalOnly() {
		if err := m.store.MarkEventSynced(ctx, ev.ID); err != nil {
			m.logger.Warn("mark event synced failed", "eventId", ev.ID, "err", err)
		}
		return
	}

	note := ev.Notes
	if note != "" {
		note = fmt.Sprintf("[%s] %s", ev.TriggeredBy, note)
	}
	if err := m.sync.PushStage(ctx, rec.ExternalJobRef, rec.ExternalCandidateRef, rec.State, note); err != nil {
		m.metrics.SyncFailure()
		m.logger.Warn("ats stage push failed, queued for reconciliation",
			"jobId", rec.JobID, "candidateId", rec.CandidateID, "state", rec.State, "err", err)
		return
	}
	if err := m.store.MarkEventSynced(ctx, ev.ID); err != nil {
		m.logger.Warn("mark event synced failed", "eventId", ev.ID, "err", err)
	}
}

// nextInterviewRound computes the round counter for a transition into
// INTERVIEW_ROUNDS, enforcing the configurable loop bound.
func (m *Machine) nextInterviewRound(rec Record) (int, error) {
	if rec.State != StateInterviewRounds {
		// Entering the interview region starts round one. The counter is
		// never reset, so a re-sourced candidate keeps prior rounds.
		if rec.InterviewRound == 0 {
			return 1, nil
		}
		return rec.InterviewRound, nil
	}
	round := rec.InterviewRound + 1
	if round > m.maxInterviewRounds {
		return 0, &InvalidTransitionError{
			From:    StateInterviewRounds,
			To:      StateInterviewRounds,
			Allowed: []State{StateSelected, StateRejected},
		}
	}
	return round, nil
}
