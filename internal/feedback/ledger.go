// Package feedback records rejection reasons at loss states so the scoring
// side can learn per-job client preferences. It only reads and appends; it
// never touches transition logic.
package feedback

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"zodiac/pipeline-service/internal/pipeline"
)

// Rejection is one captured rejection reason.
type Rejection struct {
	ID          string         `json:"id"`
	JobID       string         `json:"jobId"`
	CandidateID string         `json:"candidateId"`
	Stage       pipeline.State `json:"stage"`
	Reason      string         `json:"reason"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Ledger is the Postgres-backed rejection store.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger returns a Ledger on the given pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// RecordRejection appends one rejection row. Rows are never updated or
// deleted.
func (l *Ledger) RecordRejection(ctx context.Context, jobID, candidateID string, stage pipeline.State, reason string) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO rejection_feedback (id, job_id, candidate_id, stage, reason)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), jobID, candidateID, string(stage), reason,
	)
	if err != nil {
		return fmt.Errorf("recordRejection insert: %w", err)
	}
	return nil
}

// ListRejections returns all rejections for a job, oldest first.
func (l *Ledger) ListRejections(ctx context.Context, jobID string) ([]Rejection, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, job_id, candidate_id, stage, reason, created_at
		 FROM rejection_feedback
		 WHERE job_id = $1
		 ORDER BY created_at ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("listRejections query: %w", err)
	}
	defer rows.Close()

	out := make([]Rejection, 0)
	for rows.Next() {
		var r Rejection
		var stage string
		if err := rows.Scan(&r.ID, &r.JobID, &r.CandidateID, &stage, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("listRejections scan: %w", err)
		}
		r.Stage = pipeline.State(stage)
		out = append(out, r)
	}
	return out, rows.Err()
}
