// Package store implements the pipeline record store and audit ledger on
// PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"zodiac/pipeline-service/internal/pipeline"
)

// schema creates the three tables the service owns. Idempotent; run at
// start-up. The record's updated_at is the optimistic-concurrency token, so
// it is always written by the service, never defaulted by the database.
const schema = `
CREATE TABLE IF NOT EXISTS pipeline_records (
	job_id                 TEXT        NOT NULL,
	candidate_id           TEXT        NOT NULL,
	state                  TEXT        NOT NULL,
	previous_state         TEXT        NOT NULL DEFAULT '',
	updated_at             TIMESTAMPTZ NOT NULL,
	interview_round        INT         NOT NULL DEFAULT 0,
	agent_notes            TEXT        NOT NULL DEFAULT '',
	rejection_reason       TEXT        NOT NULL DEFAULT '',
	external_job_ref       TEXT        NOT NULL DEFAULT '',
	external_candidate_ref TEXT        NOT NULL DEFAULT '',
	PRIMARY KEY (job_id, candidate_id)
);

CREATE TABLE IF NOT EXISTS transition_events (
	id           TEXT        PRIMARY KEY,
	job_id       TEXT        NOT NULL,
	candidate_id TEXT        NOT NULL,
	from_state   TEXT        NOT NULL,
	to_state     TEXT        NOT NULL,
	triggered_by TEXT        NOT NULL,
	actor_id     TEXT        NOT NULL DEFAULT '',
	notes        TEXT        NOT NULL DEFAULT '',
	ts           TIMESTAMPTZ NOT NULL,
	synced       BOOLEAN     NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS transition_events_pair_idx
	ON transition_events (job_id, candidate_id, ts);
CREATE INDEX IF NOT EXISTS transition_events_unsynced_idx
	ON transition_events (ts) WHERE NOT synced;

CREATE TABLE IF NOT EXISTS rejection_feedback (
	id           TEXT        PRIMARY KEY,
	job_id       TEXT        NOT NULL,
	candidate_id TEXT        NOT NULL,
	stage        TEXT        NOT NULL,
	reason       TEXT        NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS rejection_feedback_job_idx
	ON rejection_feedback (job_id, created_at);
`

// PostgresStore implements pipeline.Store on a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// New returns a PostgresStore on the given pool.
func New(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Bootstrap creates the schema if it does not exist.
func (s *PostgresStore) Bootstrap(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, rec pipeline.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_records
		   (job_id, candidate_id, state, previous_state, updated_at, interview_round,
		    agent_notes, rejection_reason, external_job_ref, external_candidate_ref)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.JobID, rec.CandidateID, string(rec.State), string(rec.PreviousState),
		rec.UpdatedAt, rec.InterviewRound, rec.AgentNotes, rec.RejectionReason,
		rec.ExternalJobRef, rec.ExternalCandidateRef,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return pipeline.ErrAlreadyExists
		}
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, jobID, candidateID string) (pipeline.Record, error) {
	var rec pipeline.Record
	var state, prev string
	err := s.pool.QueryRow(ctx,
		`SELECT job_id, candidate_id, state, previous_state, updated_at, interview_round,
		        agent_notes, rejection_reason, external_job_ref, external_candidate_ref
		 FROM pipeline_records
		 WHERE job_id = $1 AND candidate_id = $2`,
		jobID, candidateID,
	).Scan(
		&rec.JobID, &rec.CandidateID, &state, &prev, &rec.UpdatedAt, &rec.InterviewRound,
		&rec.AgentNotes, &rec.RejectionReason, &rec.ExternalJobRef, &rec.ExternalCandidateRef,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Record{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.Record{}, fmt.Errorf("get record: %w", err)
	}
	rec.State = pipeline.State(state)
	rec.PreviousState = pipeline.State(prev)
	return rec, nil
}

// Commit applies the record update and the audit event in one transaction,
// conditioned on the stored state and updated_at still matching what the
// caller read. Zero rows updated means another unit of work won the race.
func (s *PostgresStore) Commit(ctx context.Context, rec pipeline.Record, expectState pipeline.State, expectUpdatedAt time.Time, ev pipeline.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("commit begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE pipeline_records
		 SET state = $1, previous_state = $2, updated_at = $3, interview_round = $4,
		     agent_notes = $5, rejection_reason = $6
		 WHERE job_id = $7 AND candidate_id = $8 AND state = $9 AND updated_at = $10`,
		string(rec.State), string(rec.PreviousState), rec.UpdatedAt, rec.InterviewRound,
		rec.AgentNotes, rec.RejectionReason,
		rec.JobID, rec.CandidateID, string(expectState), expectUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM pipeline_records WHERE job_id = $1 AND candidate_id = $2)`,
			rec.JobID, rec.CandidateID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("commit existence check: %w", err)
		}
		if !exists {
			return pipeline.ErrNotFound
		}
		return &pipeline.StaleRecordError{
			JobID:       rec.JobID,
			CandidateID: rec.CandidateID,
			Expected:    expectState,
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO transition_events
		   (id, job_id, candidate_id, from_state, to_state, triggered_by, actor_id, notes, ts, synced)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.ID, ev.JobID, ev.CandidateID, string(ev.FromState), string(ev.ToState),
		string(ev.TriggeredBy), ev.ActorID, ev.Notes, ev.Timestamp, ev.Synced,
	); err != nil {
		return fmt.Errorf("commit event insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, jobID, candidateID string) ([]pipeline.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, candidate_id, from_state, to_state, triggered_by, actor_id, notes, ts, synced
		 FROM transition_events
		 WHERE job_id = $1 AND candidate_id = $2
		 ORDER BY ts ASC`,
		jobID, candidateID,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) MarkEventSynced(ctx context.Context, eventID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE transition_events SET synced = TRUE WHERE id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("mark event synced: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListUnsyncedEvents(ctx context.Context, limit int) ([]pipeline.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, candidate_id, from_state, to_state, triggered_by, actor_id, notes, ts, synced
		 FROM transition_events
		 WHERE NOT synced
		 ORDER BY ts ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list unsynced events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]pipeline.Event, error) {
	out := make([]pipeline.Event, 0)
	for rows.Next() {
		var ev pipeline.Event
		var from, to, trig string
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.CandidateID, &from, &to, &trig,
			&ev.ActorID, &ev.Notes, &ev.Timestamp, &ev.Synced); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.FromState = pipeline.State(from)
		ev.ToState = pipeline.State(to)
		ev.TriggeredBy = pipeline.Trigger(trig)
		out = append(out, ev)
	}
	return out, rows.Err()
}
