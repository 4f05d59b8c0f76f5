package orchestrator

import (
	"context"

	"zodiac/pipeline-service/internal/pipeline"
)

// Generator produces a natural-language artifact from a (job, candidate)
// pair. Fallible and non-idempotent; the orchestrator imposes no retry
// policy beyond surfacing the error.
type Generator interface {
	Generate(ctx context.Context, task, jobDescription, candidateProfile string) (string, error)
}

// Generator task names. The generator decides what each one means; the
// orchestrator only sequences them.
const (
	TaskParseJD     = "parse_jd"
	TaskRefineCV    = "refine_cv"
	TaskGroomingKit = "grooming_kit"
)

// Messenger delivers an outbound message and returns a delivery id.
type Messenger interface {
	Send(ctx context.Context, recipient, payload string) (string, error)
}

// Calendar creates a meeting and returns the event id.
type Calendar interface {
	CreateMeeting(ctx context.Context, m Meeting) (string, error)
}

// Meeting is the scheduling request handed to the calendar collaborator.
type Meeting struct {
	Subject       string
	Attendees     []string
	Mode          string // "f2f" or "virtual"
	ProposedSlots []string
}

// FeedbackLog captures rejection reasons for the scoring feedback loop.
type FeedbackLog interface {
	RecordRejection(ctx context.Context, jobID, candidateID string, stage pipeline.State, reason string) error
}

// DocumentStore attaches generated artifacts to the system of record.
type DocumentStore interface {
	UploadDocument(ctx context.Context, jobRef, candidateRef, fileName string, content []byte) (string, error)
}
