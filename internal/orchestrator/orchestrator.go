// Package orchestrator sequences the collaborator calls each pipeline stage
// requires, then asks the state machine to commit. It owns no transition
// rules of its own: every commit goes through pipeline.Machine, so a
// collaborator can never move a record to a non-adjacent stage.
//
// Stage methods follow three shapes:
//
//  1. single-step: one collaborator call, one transition
//  2. two-phase: generate an artifact, commit a checkpoint transition,
//     deliver the artifact, commit the final transition. A delivery failure
//     leaves the record at the checkpoint so only the remaining step is
//     retried
//  3. loop-back: commit a rejection state, append the feedback record, then
//     commit the transition that routes back to an earlier stage
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"zodiac/pipeline-service/internal/engage"
	"zodiac/pipeline-service/internal/pipeline"
)

// Orchestrator wires the state machine to its collaborators.
type Orchestrator struct {
	machine  *pipeline.Machine
	gen      Generator
	msg      Messenger
	cal      Calendar
	feedback FeedbackLog
	docs     DocumentStore
	logger   *slog.Logger
}

// New returns an Orchestrator. Any collaborator may be nil when the
// deployment does not use it; stage methods that need a missing collaborator
// fail with a clear error instead of panicking.
func New(machine *pipeline.Machine, gen Generator, msg Messenger, cal Calendar, fb FeedbackLog, docs DocumentStore, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{machine: machine, gen: gen, msg: msg, cal: cal, feedback: fb, docs: docs, logger: logger}
}

// RequestTransition is the generic trigger contract: re-read the record and
// commit a single validated transition. Used by the HTTP trigger endpoint
// and the webhook handlers.
func (o *Orchestrator) RequestTransition(ctx context.Context, jobID, candidateID string, to pipeline.State, meta pipeline.Meta) (pipeline.Record, error) {
	rec, err := o.machine.Get(ctx, jobID, candidateID)
	if err != nil {
		return pipeline.Record{}, err
	}
	return o.machine.Transition(ctx, rec, to, meta)
}

// ProcessJD parses a raw job description and advances
// JD_RECEIVED → JD_PROCESSED. Returns the parsed summary alongside the
// updated record.
func (o *Orchestrator) ProcessJD(ctx context.Context, rec pipeline.Record, rawJD string) (pipeline.Record, string, error) {
	summary, err := o.generate(ctx, TaskParseJD, rawJD, "")
	if err != nil {
		return pipeline.Record{}, "", err
	}
	updated, err := o.machine.Transition(ctx, rec, pipeline.StateJDProcessed, pipeline.Meta{
		TriggeredBy: pipeline.TriggerAgent,
		ActorID:     "jd-parser-agent",
		Notes:       summary,
	})
	if err != nil {
		return pipeline.Record{}, "", err
	}
	return updated, summary, nil
}

// ScoreResumes advances JD_PROCESSED → SOURCING → RESUME_MATCHED with the
// sourcing outcome in the notes. Candidate scoring itself is the scoring
// collaborator's business; the orchestrator records its result.
func (o *Orchestrator) ScoreResumes(ctx context.Context, rec pipeline.Record, pulled, shortlisted int) (pipeline.Record, error) {
	sourcing, err := o.machine.Transition(ctx, rec, pipeline.StateSourcing, pipeline.Meta{
		TriggeredBy: pipeline.TriggerAgent,
		Notes:       fmt.Sprintf("%d candidates pulled for evaluation", pulled),
	})
	if err != nil {
		return pipeline.Record{}, err
	}
	return o.machine.Transition(ctx, sourcing, pipeline.StateResumeMatched, pipeline.Meta{
		TriggeredBy: pipeline.TriggerAgent,
		ActorID:     "resume-scorer-agent",
		Notes:       fmt.Sprintf("%d/%d candidates shortlisted", shortlisted, pulled),
	})
}

// MarkConsented records a successful screening call: CALLING → CONSENTED.
func (o *Orchestrator) MarkConsented(ctx context.Context, rec pipeline.Record, notes string) (pipeline.Record, error) {
	return o.machine.Transition(ctx, rec, pipeline.StateConsented, pipeline.Meta{
		TriggeredBy: pipeline.TriggerAgent,
		Notes:       notes,
	})
}

// MarkNotInterested records a declined screening call.
func (o *Orchestrator) MarkNotInterested(ctx context.Context, rec pipeline.Record, reason string) (pipeline.Record, error) {
	return o.machine.Transition(ctx, rec, pipeline.StateNotInterested, pipeline.Meta{
		TriggeredBy:     pipeline.TriggerAgent,
		Notes:           reason,
		RejectionReason: reason,
	})
}

// RefineAndSubmitCV is the two-phase submission stage:
//
//	generate refined CV → upload to ATS → commit CV_REFINED →
//	email to HR → commit CV_SUBMITTED
//
// The CV_REFINED checkpoint exists so a delivery failure is observable and
// resumable: the artifact is already attached to the ATS, and the caller
// retries only the delivery step (RequestTransition after a manual send).
// Re-generation is not idempotent, hence the checkpoint.
func (o *Orchestrator) RefineAndSubmitCV(ctx context.Context, rec pipeline.Record, jobDescription, candidateProfile, candidateName, hrEmail string) (pipeline.Record, error) {
	refinedCV, err := o.generate(ctx, TaskRefineCV, jobDescription, candidateProfile)
	if err != nil {
		return pipeline.Record{}, err
	}

	if o.docs != nil && !rec.LocalOnly() {
		fileName := fmt.Sprintf("%s_Zodiac.txt", sanitizeFileName(candidateName))
		if _, err := o.docs.UploadDocument(ctx, rec.ExternalJobRef, rec.ExternalCandidateRef, fileName, []byte(refinedCV)); err != nil {
			// Upload is part of artifact production: without it the
			// checkpoint would claim an artifact nobody can see.
			return pipeline.Record{}, err
		}
	}

	refined, err := o.machine.Transition(ctx, rec, pipeline.StateCVRefined, pipeline.Meta{
		TriggeredBy: pipeline.TriggerAgent,
		ActorID:     "cv-refiner-agent",
		Notes:       "CV refined and attached",
	})
	if err != nil {
		return pipeline.Record{}, err
	}

	if _, err := o.send(ctx, hrEmail, refinedCV); err != nil {
		// Checkpoint committed; the record stays at CV_REFINED and the
		// failure is reported against the delivery step.
		return refined, err
	}

	return o.machine.Transition(ctx, refined, pipeline.StateCVSubmitted, pipeline.Meta{
		TriggeredBy: pipeline.TriggerAgent,
		ActorID:     "email-agent",
		Notes:       fmt.Sprintf("CV emailed to HR (%s)", hrEmail),
	})
}

// MarkCVShortlisted records HR approval and sends the candidate a grooming
// kit. The kit send is best-effort: the shortlist decision stands either way.
func (o *Orchestrator) MarkCVShortlisted(ctx context.Context, rec pipeline.Record, jobDescription, candidateProfile, candidateContact string) (pipeline.Record, error) {
	shortlisted, err := o.machine.Transition(ctx, rec, pipeline.StateCVShortlisted, pipeline.Meta{
		TriggeredBy: pipeline.TriggerHuman,
		Notes:       "CV approved by HR",
	})
	if err != nil {
		return pipeline.Record{}, err
	}

	if o.gen != nil && o.msg != nil {
		kit, err := o.gen.Generate(ctx, TaskGroomingKit, jobDescription, candidateProfile)
		if err == nil {
			_, err = o.msg.Send(ctx, candidateContact, kit)
		}
		if err != nil {
			o.logger.Warn("grooming kit send failed",
				"jobId", rec.JobID, "candidateId", rec.CandidateID, "err", err)
		}
	}
	return shortlisted, nil
}

// MarkCVRejected is the loop-back shape: commit CV_REJECTED, append the
// feedback record, then route back to SOURCING. The feedback append happens
// before the loop-back commit so the reason is captured even if the second
// transition fails.
func (o *Orchestrator) MarkCVRejected(ctx context.Context, rec pipeline.Record, reason string) (pipeline.Record, error) {
	rejected, err := o.machine.Transition(ctx, rec, pipeline.StateCVRejected, pipeline.Meta{
		TriggeredBy:     pipeline.TriggerHuman,
		Notes:           reason,
		RejectionReason: reason,
	})
	if err != nil {
		return pipeline.Record{}, err
	}

	if o.feedback != nil {
		if err := o.feedback.RecordRejection(ctx, rec.JobID, rec.CandidateID, pipeline.StateCVRejected, reason); err != nil {
			return rejected, fmt.Errorf("record rejection feedback: %w", err)
		}
	}

	return o.machine.Transition(ctx, rejected, pipeline.StateSourcing, pipeline.Meta{
		TriggeredBy: pipeline.TriggerAgent,
		Notes:       "Re-sourcing after CV rejection feedback",
	})
}

// ScheduleInterview books the interview and advances
// CV_SHORTLISTED → INTERVIEW_SCHEDULED.
func (o *Orchestrator) ScheduleInterview(ctx context.Context, rec pipeline.Record, m Meeting) (pipeline.Record, error) {
	if o.cal == nil {
		return pipeline.Record{}, &pipeline.DeliveryError{Channel: "calendar", Err: fmt.Errorf("no calendar collaborator configured")}
	}
	eventID, err := o.cal.CreateMeeting(ctx, m)
	if err != nil {
		return pipeline.Record{}, err
	}
	return o.machine.Transition(ctx, rec, pipeline.StateInterviewScheduled, pipeline.Meta{
		TriggeredBy: pipeline.TriggerAgent,
		ActorID:     "scheduling-agent",
		Notes:       fmt.Sprintf("Interview scheduled (%s). Calendar event: %s", m.Mode, eventID),
	})
}

// CompleteInterviewRound loops within INTERVIEW_ROUNDS. The machine bounds
// the loop and increments the round counter.
func (o *Orchestrator) CompleteInterviewRound(ctx context.Context, rec pipeline.Record, notes string) (pipeline.Record, error) {
	return o.machine.Transition(ctx, rec, pipeline.StateInterviewRounds, pipeline.Meta{
		TriggeredBy: pipeline.TriggerHuman,
		Notes:       notes,
	})
}

// MarkSelected records the hire decision after interviews.
func (o *Orchestrator) MarkSelected(ctx context.Context, rec pipeline.Record, notes string) (pipeline.Record, error) {
	return o.machine.Transition(ctx, rec, pipeline.StateSelected, pipeline.Meta{
		TriggeredBy: pipeline.TriggerHuman,
		Notes:       notes,
	})
}

// MarkRejectedPostInterview captures the interview rejection reason before
// committing REJECTED, so the reason survives even if the commit races.
func (o *Orchestrator) MarkRejectedPostInterview(ctx context.Context, rec pipeline.Record, reason string) (pipeline.Record, error) {
	if o.feedback != nil {
		if err := o.feedback.RecordRejection(ctx, rec.JobID, rec.CandidateID, pipeline.StateInterviewRounds, reason); err != nil {
			return pipeline.Record{}, fmt.Errorf("record rejection feedback: %w", err)
		}
	}
	return o.machine.Transition(ctx, rec, pipeline.StateRejected, pipeline.Meta{
		TriggeredBy:     pipeline.TriggerHuman,
		Notes:           reason,
		RejectionReason: reason,
	})
}

// ProcessOffer routes OFFER_STAGE to the negotiation outcome.
func (o *Orchestrator) ProcessOffer(ctx context.Context, rec pipeline.Record, positive bool, notes string) (pipeline.Record, error) {
	to := pipeline.StateNegotiationNegative
	if positive {
		to = pipeline.StateNegotiationPositive
	}
	return o.machine.Transition(ctx, rec, to, pipeline.Meta{
		TriggeredBy: pipeline.TriggerHuman,
		Notes:       notes,
	})
}

// ConfirmDOJ is the second two-phase stage: commit DOJ_CONFIRMED, email HR
// the CTC/invoice request, then commit INVOICE_RAISED. An email failure
// leaves the record at DOJ_CONFIRMED for a delivery retry.
func (o *Orchestrator) ConfirmDOJ(ctx context.Context, rec pipeline.Record, doj, hrEmail string) (pipeline.Record, error) {
	confirmed, err := o.machine.Transition(ctx, rec, pipeline.StateDOJConfirmed, pipeline.Meta{
		TriggeredBy: pipeline.TriggerHuman,
		Notes:       fmt.Sprintf("DOJ confirmed: %s", doj),
	})
	if err != nil {
		return pipeline.Record{}, err
	}

	payload := fmt.Sprintf("Candidate joining confirmed for %s. Please share offer and CTC details for invoicing.", doj)
	if _, err := o.send(ctx, hrEmail, payload); err != nil {
		return confirmed, err
	}

	return o.machine.Transition(ctx, confirmed, pipeline.StateInvoiceRaised, pipeline.Meta{
		TriggeredBy: pipeline.TriggerAgent,
		ActorID:     "email-agent",
		Notes:       fmt.Sprintf("Invoice request sent to HR (%s)", hrEmail),
	})
}

// ClosePlacement finishes a successful pipeline from INVOICE_RAISED or
// PAYMENT_FOLLOWUP.
func (o *Orchestrator) ClosePlacement(ctx context.Context, rec pipeline.Record, notes string) (pipeline.Record, error) {
	return o.machine.Transition(ctx, rec, pipeline.StateClosedPlaced, pipeline.Meta{
		TriggeredBy: pipeline.TriggerHuman,
		Notes:       notes,
	})
}

// ApplyProposal commits a transition proposed by the engagement sub-state.
// The proposal is structured data, never free text, and it goes through the
// state machine exactly like any other trigger: a proposal naming a
// non-adjacent stage fails with InvalidTransitionError.
func (o *Orchestrator) ApplyProposal(ctx context.Context, rec pipeline.Record, p engage.Proposal) (pipeline.Record, error) {
	if p.FlagForHuman || p.NextState == "" {
		return rec, nil
	}
	to, err := pipeline.ParseState(p.NextState)
	if err != nil {
		return pipeline.Record{}, &pipeline.InvalidTransitionError{
			From:    rec.State,
			To:      pipeline.State(p.NextState),
			Allowed: pipeline.NextStates(rec.State),
		}
	}
	meta := pipeline.Meta{
		TriggeredBy: pipeline.TriggerAgent,
		ActorID:     "engagement-agent",
		Notes:       p.Summary,
	}
	if p.Intent == engage.IntentNotInterested {
		meta.RejectionReason = p.Summary
	}
	return o.machine.Transition(ctx, rec, to, meta)
}

func (o *Orchestrator) generate(ctx context.Context, task, jd, profile string) (string, error) {
	if o.gen == nil {
		return "", &pipeline.GenerationError{Task: task, Err: fmt.Errorf("no generator configured")}
	}
	return o.gen.Generate(ctx, task, jd, profile)
}

func (o *Orchestrator) send(ctx context.Context, recipient, payload string) (string, error) {
	if o.msg == nil {
		return "", &pipeline.DeliveryError{Channel: "messenger", Err: fmt.Errorf("no messenger configured")}
	}
	return o.msg.Send(ctx, recipient, payload)
}

func sanitizeFileName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r == ' ':
			out = append(out, '_')
		case r == '/' || r == '\\':
			// skip path separators
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
