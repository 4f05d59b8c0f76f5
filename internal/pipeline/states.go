// Package pipeline defines the recruitment pipeline state machine.
//
// A pipeline record tracks one (job, candidate) pair through the hiring
// lifecycle: sourcing → screening → submission → interview → offer → closure.
// Every move is validated against the transition table below; nothing else in
// the service is allowed to change a record's state.
//
//	JD_RECEIVED ─► JD_PROCESSED ─► SOURCING ─► RESUME_MATCHED ─► CALLING ─► …
//
// CLOSED_PLACED and CLOSED_DROPPED are terminal states. Every negative
// outcome (NOT_INTERESTED, REJECTED, NEGOTIATION_NEGATIVE, NOT_POSITIVE,
// CANDIDATE_NOT_INTERESTED) converges on CLOSED_DROPPED; every success path
// converges on CLOSED_PLACED via INVOICE_RAISED or PAYMENT_FOLLOWUP.
package pipeline

import "fmt"

// State values mirror the pipeline_state enum in PostgreSQL and the stage
// vocabulary pushed to the ATS (see internal/ats).
type State string

const (
	StateJDReceived             State = "JD_RECEIVED"
	StateJDProcessed            State = "JD_PROCESSED"
	StateSourcing               State = "SOURCING"
	StateResumeMatched          State = "RESUME_MATCHED"
	StateCalling                State = "CALLING"
	StateConsented              State = "CONSENTED"
	StateNotInterested          State = "NOT_INTERESTED"
	StateNotReached             State = "NOT_REACHED"
	StateJDShared               State = "JD_SHARED"
	StateCandidateConfirmed     State = "CANDIDATE_CONFIRMED"
	StateCandidateNotInterested State = "CANDIDATE_NOT_INTERESTED"
	StateCVRefined              State = "CV_REFINED"
	StateCVSubmitted            State = "CV_SUBMITTED"
	StateCVShortlisted          State = "CV_SHORTLISTED"
	StateCVRejected             State = "CV_REJECTED"
	StateInterviewScheduled     State = "INTERVIEW_SCHEDULED"
	StateInterviewRounds        State = "INTERVIEW_ROUNDS"
	StateSelected               State = "SELECTED"
	StateRejected               State = "REJECTED"
	StateDocumentation          State = "DOCUMENTATION"
	StateOfferStage             State = "OFFER_STAGE"
	StateNegotiationPositive    State = "NEGOTIATION_POSITIVE"
	StateNegotiationNegative    State = "NEGOTIATION_NEGATIVE"
	StateOfferAccepted          State = "OFFER_ACCEPTED"
	StateNotPositive            State = "NOT_POSITIVE"
	StateDOJConfirmed           State = "DOJ_CONFIRMED"
	StateInvoiceRaised          State = "INVOICE_RAISED"
	StatePaymentFollowup        State = "PAYMENT_FOLLOWUP"
	StateClosedPlaced           State = "CLOSED_PLACED"
	StateClosedDropped          State = "CLOSED_DROPPED"
)

// validTransitions lists every allowed (from → to) pair. Three topologies:
// linear stage progressions, bounded retry loops (NOT_REACHED → CALLING,
// INTERVIEW_ROUNDS → INTERVIEW_ROUNDS) and the CV_REJECTED → SOURCING
// feedback loop.
var validTransitions = map[State][]State{
	StateJDReceived:             {StateJDProcessed},
	StateJDProcessed:            {StateSourcing},
	StateSourcing:               {StateResumeMatched},
	StateResumeMatched:          {StateCalling},
	StateCalling:                {StateConsented, StateNotInterested, StateNotReached},
	StateNotReached:             {StateCalling}, // retry loop
	StateConsented:              {StateJDShared},
	StateNotInterested:          {StateClosedDropped},
	StateJDShared:               {StateCandidateConfirmed, StateCandidateNotInterested},
	StateCandidateNotInterested: {StateClosedDropped},
	StateCandidateConfirmed:     {StateCVRefined},
	StateCVRefined:              {StateCVSubmitted},
	StateCVSubmitted:            {StateCVShortlisted, StateCVRejected},
	StateCVRejected:             {StateSourcing}, // feedback loop, re-source
	StateCVShortlisted:          {StateInterviewScheduled},
	StateInterviewScheduled:     {StateInterviewRounds},
	StateInterviewRounds:        {StateSelected, StateRejected, StateInterviewRounds},
	StateRejected:               {StateClosedDropped},
	StateSelected:               {StateDocumentation},
	StateDocumentation:          {StateOfferStage},
	StateOfferStage:             {StateNegotiationPositive, StateNegotiationNegative},
	StateNegotiationNegative:    {StateClosedDropped},
	StateNegotiationPositive:    {StateOfferAccepted, StateNotPositive},
	StateNotPositive:            {StateClosedDropped},
	StateOfferAccepted:          {StateDOJConfirmed},
	StateDOJConfirmed:           {StateInvoiceRaised},
	StateInvoiceRaised:          {StatePaymentFollowup, StateClosedPlaced},
	StatePaymentFollowup:        {StateClosedPlaced},
	StateClosedPlaced:           {},
	StateClosedDropped:          {},
}

// ParseState converts a raw string to a State, returning an error for
// unknown values.
func ParseState(s string) (State, error) {
	if _, ok := validTransitions[State(s)]; ok {
		return State(s), nil
	}
	return "", fmt.Errorf("unknown pipeline state %q", s)
}

// CanTransition returns true when moving from → to is permitted by the
// state machine. Pure lookup, no side effects.
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NextStates returns the legal successor states of from, in table order.
// Empty exactly for terminal (and unknown) states. The returned slice is a
// copy; callers may mutate it freely.
func NextStates(from State) []State {
	allowed := validTransitions[from]
	out := make([]State, len(allowed))
	copy(out, allowed)
	return out
}

// IsTerminal returns true when state has no outgoing transitions.
func IsTerminal(s State) bool {
	allowed, ok := validTransitions[s]
	return ok && len(allowed) == 0
}

// IsPlaced returns true for the terminal success state (triggers invoicing
// closure and search archival downstream).
func IsPlaced(s State) bool { return s == StateClosedPlaced }

// AllStates returns every known state. Used by the table validator and the
// ATS stage-map totality check.
func AllStates() []State {
	out := make([]State, 0, len(validTransitions))
	for s := range validTransitions {
		out = append(out, s)
	}
	return out
}

// ValidateTransitionTable checks the static table for configuration drift:
// every successor must itself be a key, and every non-terminal state must
// have at least one successor. Run at process start; a failure here means
// the binary is miscompiled, so callers should refuse to serve.
func ValidateTransitionTable() error {
	for from, allowed := range validTransitions {
		if len(allowed) == 0 && from != StateClosedPlaced && from != StateClosedDropped {
			return fmt.Errorf("state %s has no successors but is not a closure state", from)
		}
		for _, to := range allowed {
			if _, ok := validTransitions[to]; !ok {
				return fmt.Errorf("transition %s → %s targets unknown state", from, to)
			}
		}
	}
	if !IsTerminal(StateClosedPlaced) || !IsTerminal(StateClosedDropped) {
		return fmt.Errorf("closure states must be terminal")
	}
	return nil
}
