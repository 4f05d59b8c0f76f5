package orchestrator_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zodiac/pipeline-service/internal/engage"
	"zodiac/pipeline-service/internal/orchestrator"
	"zodiac/pipeline-service/internal/pipeline"
)

type fakeGenerator struct {
	tasks []string
	out   string
	fail  bool
}

func (f *fakeGenerator) Generate(_ context.Context, task, _, _ string) (string, error) {
	f.tasks = append(f.tasks, task)
	if f.fail {
		return "", &pipeline.GenerationError{Task: task, Err: errors.New("model timeout")}
	}
	return f.out, nil
}

type fakeMessenger struct {
	sent []string
	fail bool
}

func (f *fakeMessenger) Send(_ context.Context, recipient, _ string) (string, error) {
	if f.fail {
		return "", &pipeline.DeliveryError{Channel: "email", Err: errors.New("smtp refused")}
	}
	f.sent = append(f.sent, recipient)
	return "msg-1", nil
}

type fakeCalendar struct {
	meetings []orchestrator.Meeting
	fail     bool
}

func (f *fakeCalendar) CreateMeeting(_ context.Context, m orchestrator.Meeting) (string, error) {
	if f.fail {
		return "", &pipeline.DeliveryError{Channel: "calendar", Err: errors.New("slot conflict")}
	}
	f.meetings = append(f.meetings, m)
	return "evt-1", nil
}

type rejectionRow struct {
	jobID, candidateID string
	stage              pipeline.State
	reason             string
}

type fakeFeedback struct {
	rows []rejectionRow
	fail bool
}

func (f *fakeFeedback) RecordRejection(_ context.Context, jobID, candidateID string, stage pipeline.State, reason string) error {
	if f.fail {
		return errors.New("ledger down")
	}
	f.rows = append(f.rows, rejectionRow{jobID, candidateID, stage, reason})
	return nil
}

type fakeDocs struct {
	files []string
	fail  bool
}

func (f *fakeDocs) UploadDocument(_ context.Context, _, _, fileName string, _ []byte) (string, error) {
	if f.fail {
		return "", &pipeline.SyncError{Op: "upload document", Err: errors.New("ats unavailable")}
	}
	f.files = append(f.files, fileName)
	return "https://ats.example/docs/" + fileName, nil
}

type fixture struct {
	orch    *orchestrator.Orchestrator
	machine *pipeline.Machine
	gen     *fakeGenerator
	msg     *fakeMessenger
	cal     *fakeCalendar
	fb      *fakeFeedback
	docs    *fakeDocs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		machine: pipeline.NewMachine(pipeline.NewMemoryStore(), pipeline.MachineConfig{}),
		gen:     &fakeGenerator{out: "generated artifact"},
		msg:     &fakeMessenger{},
		cal:     &fakeCalendar{},
		fb:      &fakeFeedback{},
		docs:    &fakeDocs{},
	}
	f.orch = orchestrator.New(f.machine, f.gen, f.msg, f.cal, f.fb, f.docs, nil)
	return f
}

// newRecordAt creates a record and drives it through the happy path until it
// reaches target.
func (f *fixture) newRecordAt(t *testing.T, target pipeline.State) pipeline.Record {
	t.Helper()
	ctx := context.Background()
	rec, err := f.machine.CreateRecord(ctx, "job-1", "cand-1", "", "")
	require.NoError(t, err)

	path := []pipeline.State{
		pipeline.StateJDProcessed, pipeline.StateSourcing, pipeline.StateResumeMatched,
		pipeline.StateCalling, pipeline.StateConsented, pipeline.StateJDShared,
		pipeline.StateCandidateConfirmed, pipeline.StateCVRefined, pipeline.StateCVSubmitted,
		pipeline.StateCVShortlisted, pipeline.StateInterviewScheduled, pipeline.StateInterviewRounds,
		pipeline.StateSelected, pipeline.StateDocumentation, pipeline.StateOfferStage,
		pipeline.StateNegotiationPositive, pipeline.StateOfferAccepted, pipeline.StateDOJConfirmed,
		pipeline.StateInvoiceRaised,
	}
	for _, to := range path {
		if rec.State == target {
			return rec
		}
		rec, err = f.machine.Transition(ctx, rec, to, pipeline.Meta{TriggeredBy: pipeline.TriggerAgent})
		require.NoError(t, err)
	}
	require.Equal(t, target, rec.State, "happy path never reaches %s", target)
	return rec
}

func TestProcessJD(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.machine.CreateRecord(ctx, "job-1", "cand-1", "", "")
	require.NoError(t, err)

	f.gen.out = "Senior Go engineer, Pune, 8y"
	updated, summary, err := f.orch.ProcessJD(ctx, rec, "raw jd text")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateJDProcessed, updated.State)
	assert.Equal(t, "Senior Go engineer, Pune, 8y", summary)
	assert.Equal(t, "Senior Go engineer, Pune, 8y", updated.AgentNotes)
	assert.Equal(t, []string{orchestrator.TaskParseJD}, f.gen.tasks)
}

// A generation failure must abort before any transition is committed.
func TestProcessJD_GenerationFailure(t *testing.T) {
	f := newFixture(t)
	f.gen.fail = true
	ctx := context.Background()
	rec, err := f.machine.CreateRecord(ctx, "job-1", "cand-1", "", "")
	require.NoError(t, err)

	_, _, err = f.orch.ProcessJD(ctx, rec, "raw jd text")
	var genErr *pipeline.GenerationError
	require.ErrorAs(t, err, &genErr)

	got, err := f.machine.Get(ctx, "job-1", "cand-1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateJDReceived, got.State)
}

func TestScoreResumes(t *testing.T) {
	f := newFixture(t)
	rec := f.newRecordAt(t, pipeline.StateJDProcessed)

	updated, err := f.orch.ScoreResumes(context.Background(), rec, 40, 5)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateResumeMatched, updated.State)
	assert.Equal(t, pipeline.StateSourcing, updated.PreviousState)
	assert.Equal(t, "5/40 candidates shortlisted", updated.AgentNotes)
}

// Delivery failure after the checkpoint leaves the record at CV_REFINED so
// only the send is retried; the generated CV is not thrown away.
func TestRefineAndSubmitCV_DeliveryFailureStopsAtCheckpoint(t *testing.T) {
	f := newFixture(t)
	f.msg.fail = true
	rec := f.newRecordAt(t, pipeline.StateCandidateConfirmed)

	got, err := f.orch.RefineAndSubmitCV(context.Background(), rec, "jd", "profile", "Asha Rao", "hr@client.example")
	var delErr *pipeline.DeliveryError
	require.ErrorAs(t, err, &delErr)
	assert.Equal(t, pipeline.StateCVRefined, got.State)

	persisted, err := f.machine.Get(context.Background(), "job-1", "cand-1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateCVRefined, persisted.State)
}

func TestRefineAndSubmitCV_FullSubmission(t *testing.T) {
	f := newFixture(t)
	rec := f.newRecordAt(t, pipeline.StateCandidateConfirmed)

	got, err := f.orch.RefineAndSubmitCV(context.Background(), rec, "jd", "profile", "Asha Rao", "hr@client.example")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateCVSubmitted, got.State)
	assert.Equal(t, []string{orchestrator.TaskRefineCV}, f.gen.tasks)
	assert.Equal(t, []string{"hr@client.example"}, f.msg.sent)

	events, err := f.machine.Events(context.Background(), "job-1", "cand-1")
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, pipeline.StateCVRefined, last.FromState)
	assert.Equal(t, pipeline.StateCVSubmitted, last.ToState)
}

// The loop-back shape: CV_SUBMITTED → CV_REJECTED → SOURCING with exactly one
// feedback row, and the loop-back commit carries CV_REJECTED as previousState.
func TestMarkCVRejected_LoopBack(t *testing.T) {
	f := newFixture(t)
	rec := f.newRecordAt(t, pipeline.StateCVSubmitted)

	got, err := f.orch.MarkCVRejected(context.Background(), rec, "missing Kubernetes experience")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateSourcing, got.State)
	assert.Equal(t, pipeline.StateCVRejected, got.PreviousState)
	assert.Equal(t, "missing Kubernetes experience", got.RejectionReason)

	require.Len(t, f.fb.rows, 1)
	assert.Equal(t, pipeline.StateCVRejected, f.fb.rows[0].stage)
	assert.Equal(t, "missing Kubernetes experience", f.fb.rows[0].reason)
}

// A feedback-ledger failure surfaces the error but the rejection commit
// stands; the record is not rolled back past CV_REJECTED.
func TestMarkCVRejected_FeedbackFailure(t *testing.T) {
	f := newFixture(t)
	f.fb.fail = true
	rec := f.newRecordAt(t, pipeline.StateCVSubmitted)

	got, err := f.orch.MarkCVRejected(context.Background(), rec, "reason")
	require.Error(t, err)
	assert.Equal(t, pipeline.StateCVRejected, got.State)
}

func TestMarkRejectedPostInterview_FeedbackBeforeCommit(t *testing.T) {
	f := newFixture(t)
	f.fb.fail = true
	rec := f.newRecordAt(t, pipeline.StateInterviewRounds)

	_, err := f.orch.MarkRejectedPostInterview(context.Background(), rec, "culture mismatch")
	require.Error(t, err)

	// Feedback failed first, so no transition was committed.
	got, err := f.machine.Get(context.Background(), "job-1", "cand-1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateInterviewRounds, got.State)
}

func TestScheduleInterview(t *testing.T) {
	f := newFixture(t)
	rec := f.newRecordAt(t, pipeline.StateCVShortlisted)

	got, err := f.orch.ScheduleInterview(context.Background(), rec, orchestrator.Meeting{
		Subject: "Round 1",
		Mode:    "virtual",
	})
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateInterviewScheduled, got.State)
	require.Len(t, f.cal.meetings, 1)
	assert.Contains(t, got.AgentNotes, "evt-1")
}

func TestScheduleInterview_CalendarFailure(t *testing.T) {
	f := newFixture(t)
	f.cal.fail = true
	rec := f.newRecordAt(t, pipeline.StateCVShortlisted)

	_, err := f.orch.ScheduleInterview(context.Background(), rec, orchestrator.Meeting{})
	var delErr *pipeline.DeliveryError
	require.ErrorAs(t, err, &delErr)

	got, err := f.machine.Get(context.Background(), "job-1", "cand-1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateCVShortlisted, got.State)
}

// ConfirmDOJ is two-phase like CV submission: an email failure leaves the
// record at the DOJ_CONFIRMED checkpoint.
func TestConfirmDOJ(t *testing.T) {
	f := newFixture(t)
	rec := f.newRecordAt(t, pipeline.StateOfferAccepted)

	got, err := f.orch.ConfirmDOJ(context.Background(), rec, "2026-09-15", "hr@client.example")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateInvoiceRaised, got.State)
	assert.Equal(t, []string{"hr@client.example"}, f.msg.sent)
}

func TestConfirmDOJ_EmailFailureStopsAtCheckpoint(t *testing.T) {
	f := newFixture(t)
	f.msg.fail = true
	rec := f.newRecordAt(t, pipeline.StateOfferAccepted)

	got, err := f.orch.ConfirmDOJ(context.Background(), rec, "2026-09-15", "hr@client.example")
	require.Error(t, err)
	assert.Equal(t, pipeline.StateDOJConfirmed, got.State)
}

func TestProcessOffer(t *testing.T) {
	f := newFixture(t)
	rec := f.newRecordAt(t, pipeline.StateOfferStage)

	got, err := f.orch.ProcessOffer(context.Background(), rec, true, "CTC agreed")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateNegotiationPositive, got.State)
}

// ── ApplyProposal ──────────────────────────────────────────────────────────

func TestApplyProposal_CommitsAdjacentState(t *testing.T) {
	f := newFixture(t)
	rec := f.newRecordAt(t, pipeline.StateJDShared)

	got, err := f.orch.ApplyProposal(context.Background(), rec, engage.Proposal{
		Intent:    engage.IntentInterested,
		NextState: string(pipeline.StateCandidateConfirmed),
		Summary:   "candidate confirmed interest after JD review",
	})
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateCandidateConfirmed, got.State)
	assert.Equal(t, "candidate confirmed interest after JD review", got.AgentNotes)
}

func TestApplyProposal_RejectsStageSkip(t *testing.T) {
	f := newFixture(t)
	rec := f.newRecordAt(t, pipeline.StateJDShared)

	_, err := f.orch.ApplyProposal(context.Background(), rec, engage.Proposal{
		Intent:    engage.IntentInterested,
		NextState: string(pipeline.StateCVSubmitted),
	})
	var invalid *pipeline.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	got, err := f.machine.Get(context.Background(), "job-1", "cand-1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateJDShared, got.State)
}

func TestApplyProposal_RejectsUnknownState(t *testing.T) {
	f := newFixture(t)
	rec := f.newRecordAt(t, pipeline.StateJDShared)

	_, err := f.orch.ApplyProposal(context.Background(), rec, engage.Proposal{
		NextState: "SUPER_INTERESTED",
	})
	var invalid *pipeline.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
}

func TestApplyProposal_FlagForHumanIsNoOp(t *testing.T) {
	f := newFixture(t)
	rec := f.newRecordAt(t, pipeline.StateJDShared)

	got, err := f.orch.ApplyProposal(context.Background(), rec, engage.Proposal{
		Intent:       engage.IntentUnclear,
		NextState:    string(pipeline.StateCandidateConfirmed),
		FlagForHuman: true,
	})
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateJDShared, got.State)
}

func TestApplyProposal_NotInterestedSetsRejectionReason(t *testing.T) {
	f := newFixture(t)
	rec := f.newRecordAt(t, pipeline.StateJDShared)

	got, err := f.orch.ApplyProposal(context.Background(), rec, engage.Proposal{
		Intent:    engage.IntentNotInterested,
		NextState: string(pipeline.StateCandidateNotInterested),
		Summary:   "salary band too low",
	})
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateCandidateNotInterested, got.State)
	assert.Equal(t, "salary band too low", got.RejectionReason)
}

// ── RequestTransition ──────────────────────────────────────────────────────

func TestRequestTransition(t *testing.T) {
	f := newFixture(t)
	f.newRecordAt(t, pipeline.StateJDProcessed)

	got, err := f.orch.RequestTransition(context.Background(), "job-1", "cand-1",
		pipeline.StateSourcing, pipeline.Meta{TriggeredBy: pipeline.TriggerHuman})
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateSourcing, got.State)

	_, err = f.orch.RequestTransition(context.Background(), "missing", "missing",
		pipeline.StateSourcing, pipeline.Meta{TriggeredBy: pipeline.TriggerHuman})
	assert.ErrorIs(t, err, pipeline.ErrNotFound)
}
