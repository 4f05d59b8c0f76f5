package pipeline_test

import (
	"testing"

	"zodiac/pipeline-service/internal/pipeline"
)

// ── ParseState ─────────────────────────────────────────────────────────────

func TestParseState_ValidValues(t *testing.T) {
	for _, s := range pipeline.AllStates() {
		got, err := pipeline.ParseState(string(s))
		if err != nil {
			t.Errorf("ParseState(%q) returned unexpected error: %v", s, err)
		}
		if got != s {
			t.Errorf("ParseState(%q) = %q, want %q", s, got, s)
		}
	}
}

func TestParseState_InvalidValue(t *testing.T) {
	_, err := pipeline.ParseState("UNKNOWN")
	if err == nil {
		t.Error("ParseState(\"UNKNOWN\") expected error, got nil")
	}
}

func TestParseState_EmptyString(t *testing.T) {
	_, err := pipeline.ParseState("")
	if err == nil {
		t.Error("ParseState(\"\") expected error, got nil")
	}
}

// ParseState must be case-sensitive; lowercase variants must not be valid.
func TestParseState_CaseSensitive(t *testing.T) {
	lowercase := []string{"jd_received", "sourcing", "calling", "closed_placed"}
	for _, s := range lowercase {
		_, err := pipeline.ParseState(s)
		if err == nil {
			t.Errorf("ParseState(%q) should reject lowercase value, got nil error", s)
		}
	}
}

// ParseState must reject whitespace-padded strings.
func TestParseState_WithWhitespace(t *testing.T) {
	padded := []string{" SOURCING", "SOURCING ", " SOURCING "}
	for _, s := range padded {
		_, err := pipeline.ParseState(s)
		if err == nil {
			t.Errorf("ParseState(%q) should reject padded value, got nil error", s)
		}
	}
}

// ── CanTransition — the happy path, end to end ─────────────────────────────

func TestCanTransition_HappyPath(t *testing.T) {
	path := []pipeline.State{
		pipeline.StateJDReceived,
		pipeline.StateJDProcessed,
		pipeline.StateSourcing,
		pipeline.StateResumeMatched,
		pipeline.StateCalling,
		pipeline.StateConsented,
		pipeline.StateJDShared,
		pipeline.StateCandidateConfirmed,
		pipeline.StateCVRefined,
		pipeline.StateCVSubmitted,
		pipeline.StateCVShortlisted,
		pipeline.StateInterviewScheduled,
		pipeline.StateInterviewRounds,
		pipeline.StateSelected,
		pipeline.StateDocumentation,
		pipeline.StateOfferStage,
		pipeline.StateNegotiationPositive,
		pipeline.StateOfferAccepted,
		pipeline.StateDOJConfirmed,
		pipeline.StateInvoiceRaised,
		pipeline.StatePaymentFollowup,
		pipeline.StateClosedPlaced,
	}
	for i := 0; i < len(path)-1; i++ {
		if !pipeline.CanTransition(path[i], path[i+1]) {
			t.Errorf("CanTransition(%s → %s) should be true", path[i], path[i+1])
		}
	}
}

// ── CanTransition — branch points ──────────────────────────────────────────

func TestCanTransition_Branches(t *testing.T) {
	cases := []struct {
		from pipeline.State
		to   pipeline.State
	}{
		{pipeline.StateCalling, pipeline.StateNotInterested},
		{pipeline.StateCalling, pipeline.StateNotReached},
		{pipeline.StateJDShared, pipeline.StateCandidateNotInterested},
		{pipeline.StateCVSubmitted, pipeline.StateCVRejected},
		{pipeline.StateInterviewRounds, pipeline.StateRejected},
		{pipeline.StateOfferStage, pipeline.StateNegotiationNegative},
		{pipeline.StateNegotiationPositive, pipeline.StateNotPositive},
		{pipeline.StateInvoiceRaised, pipeline.StateClosedPlaced},
	}
	for _, c := range cases {
		if !pipeline.CanTransition(c.from, c.to) {
			t.Errorf("CanTransition(%s → %s) should be true", c.from, c.to)
		}
	}
}

// ── CanTransition — negative outcomes converge on CLOSED_DROPPED ───────────

func TestCanTransition_DropPaths(t *testing.T) {
	drops := []pipeline.State{
		pipeline.StateNotInterested,
		pipeline.StateCandidateNotInterested,
		pipeline.StateRejected,
		pipeline.StateNegotiationNegative,
		pipeline.StateNotPositive,
	}
	for _, from := range drops {
		if !pipeline.CanTransition(from, pipeline.StateClosedDropped) {
			t.Errorf("CanTransition(%s → CLOSED_DROPPED) should be true", from)
		}
	}
}

// ── CanTransition — loops ──────────────────────────────────────────────────

func TestCanTransition_Loops(t *testing.T) {
	if !pipeline.CanTransition(pipeline.StateNotReached, pipeline.StateCalling) {
		t.Error("CanTransition(NOT_REACHED → CALLING) retry loop should be true")
	}
	if !pipeline.CanTransition(pipeline.StateCVRejected, pipeline.StateSourcing) {
		t.Error("CanTransition(CV_REJECTED → SOURCING) feedback loop should be true")
	}
	if !pipeline.CanTransition(pipeline.StateInterviewRounds, pipeline.StateInterviewRounds) {
		t.Error("CanTransition(INTERVIEW_ROUNDS → INTERVIEW_ROUNDS) should be true")
	}
}

// ── CanTransition — skip-level transitions are forbidden ───────────────────

func TestCanTransition_SkipLevel(t *testing.T) {
	cases := []struct {
		from pipeline.State
		to   pipeline.State
	}{
		{pipeline.StateJDReceived, pipeline.StateSourcing},       // skip JD_PROCESSED
		{pipeline.StateSourcing, pipeline.StateCalling},          // skip RESUME_MATCHED
		{pipeline.StateConsented, pipeline.StateCVSubmitted},     // skip JD_SHARED..CV_REFINED
		{pipeline.StateCVShortlisted, pipeline.StateInterviewRounds},
		{pipeline.StateSelected, pipeline.StateOfferStage},       // skip DOCUMENTATION
		{pipeline.StateOfferAccepted, pipeline.StateInvoiceRaised},
		{pipeline.StateJDReceived, pipeline.StateClosedPlaced},   // skip everything
	}
	for _, c := range cases {
		if pipeline.CanTransition(c.from, c.to) {
			t.Errorf("CanTransition(%s → %s) should be false (skip-level)", c.from, c.to)
		}
	}
}

// ── CanTransition — backwards movements are forbidden ──────────────────────

func TestCanTransition_Backwards(t *testing.T) {
	cases := []struct {
		from pipeline.State
		to   pipeline.State
	}{
		{pipeline.StateJDProcessed, pipeline.StateJDReceived},
		{pipeline.StateCalling, pipeline.StateResumeMatched},
		{pipeline.StateCVSubmitted, pipeline.StateCVRefined},
		{pipeline.StateSelected, pipeline.StateInterviewRounds},
		{pipeline.StateDOJConfirmed, pipeline.StateOfferAccepted},
	}
	for _, c := range cases {
		if pipeline.CanTransition(c.from, c.to) {
			t.Errorf("CanTransition(%s → %s) should be false (backwards)", c.from, c.to)
		}
	}
}

// ── CanTransition — self-transitions forbidden outside INTERVIEW_ROUNDS ────

func TestCanTransition_Self(t *testing.T) {
	for _, s := range pipeline.AllStates() {
		if s == pipeline.StateInterviewRounds {
			continue
		}
		if pipeline.CanTransition(s, s) {
			t.Errorf("CanTransition(%s → %s) should be false (self)", s, s)
		}
	}
}

// ── Terminal states ────────────────────────────────────────────────────────

func TestCanTransition_FromTerminal(t *testing.T) {
	terminals := []pipeline.State{pipeline.StateClosedPlaced, pipeline.StateClosedDropped}
	for _, from := range terminals {
		for _, to := range pipeline.AllStates() {
			if pipeline.CanTransition(from, to) {
				t.Errorf("CanTransition(%s → %s) should be false (terminal state)", from, to)
			}
		}
	}
}

func TestIsTerminal(t *testing.T) {
	if !pipeline.IsTerminal(pipeline.StateClosedPlaced) {
		t.Error("IsTerminal(CLOSED_PLACED) should be true")
	}
	if !pipeline.IsTerminal(pipeline.StateClosedDropped) {
		t.Error("IsTerminal(CLOSED_DROPPED) should be true")
	}
	for _, s := range pipeline.AllStates() {
		if s == pipeline.StateClosedPlaced || s == pipeline.StateClosedDropped {
			continue
		}
		if pipeline.IsTerminal(s) {
			t.Errorf("IsTerminal(%s) should be false", s)
		}
	}
	if pipeline.IsTerminal(pipeline.State("UNKNOWN")) {
		t.Error("IsTerminal(UNKNOWN) should be false for unknown states")
	}
}

// IsPlaced gates invoicing closure; only CLOSED_PLACED qualifies.
func TestIsPlaced_StrictEquality(t *testing.T) {
	if !pipeline.IsPlaced(pipeline.StateClosedPlaced) {
		t.Error("IsPlaced(CLOSED_PLACED) must be true")
	}
	for _, s := range pipeline.AllStates() {
		if s == pipeline.StateClosedPlaced {
			continue
		}
		if pipeline.IsPlaced(s) {
			t.Errorf("IsPlaced(%s) must be false", s)
		}
	}
}

// JD_RECEIVED is the mandatory initial state for any new record.
// Verify it is never reachable from any other state.
func TestCanTransition_JDReceivedIsNeverReachable(t *testing.T) {
	for _, from := range pipeline.AllStates() {
		if pipeline.CanTransition(from, pipeline.StateJDReceived) {
			t.Errorf(
				"CanTransition(%s → JD_RECEIVED) must be false: JD_RECEIVED is only an initial state",
				from,
			)
		}
	}
}

// ── NextStates ─────────────────────────────────────────────────────────────

func TestNextStates_AgreesWithCanTransition(t *testing.T) {
	for _, from := range pipeline.AllStates() {
		for _, to := range pipeline.NextStates(from) {
			if !pipeline.CanTransition(from, to) {
				t.Errorf("NextStates(%s) lists %s but CanTransition disagrees", from, to)
			}
		}
	}
}

func TestNextStates_ReturnsCopy(t *testing.T) {
	got := pipeline.NextStates(pipeline.StateCalling)
	if len(got) != 3 {
		t.Fatalf("NextStates(CALLING) = %v, want 3 successors", got)
	}
	got[0] = pipeline.StateClosedDropped
	again := pipeline.NextStates(pipeline.StateCalling)
	if again[0] != pipeline.StateConsented {
		t.Error("mutating the NextStates result must not affect the table")
	}
}

func TestNextStates_UnknownState(t *testing.T) {
	if got := pipeline.NextStates(pipeline.State("UNKNOWN")); len(got) != 0 {
		t.Errorf("NextStates(UNKNOWN) = %v, want empty", got)
	}
}

// ── Table consistency ──────────────────────────────────────────────────────

func TestValidateTransitionTable(t *testing.T) {
	if err := pipeline.ValidateTransitionTable(); err != nil {
		t.Errorf("ValidateTransitionTable() returned %v", err)
	}
}

func TestAllStates_Count(t *testing.T) {
	if got := len(pipeline.AllStates()); got != 30 {
		t.Errorf("AllStates() returned %d states, want 30", got)
	}
}
