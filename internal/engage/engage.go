// Package engage implements the candidate engagement sub-state: a bounded
// multi-turn conversation over an outbound messaging channel. Each inbound
// message runs one decision step that may reply, propose a pipeline
// transition, or flag the session for human takeover.
//
// The decision step never commits anything. It produces a structured
// Proposal that the orchestrator hands to the state machine like any other
// trigger, so a malformed or malicious proposal cannot skip stages.
package engage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"zodiac/pipeline-service/internal/pipeline"
)

// maxTurns bounds the conversation history sent to the decider. Older turns
// are still persisted, just not replayed.
const maxTurns = 40

// Intent classifies the candidate's latest message.
type Intent string

const (
	IntentInterested    Intent = "interested"
	IntentNotInterested Intent = "not_interested"
	IntentNeedsInfo     Intent = "needs_info"
	IntentUnclear       Intent = "unclear"
)

// Proposal is the structured outcome of one decision step. NextState is a
// raw string on purpose: the decider is untrusted and the orchestrator
// validates it through the transition table.
type Proposal struct {
	Intent       Intent  `json:"intent"`
	NextState    string  `json:"nextState,omitempty"`
	Reply        string  `json:"reply,omitempty"`
	Summary      string  `json:"summary,omitempty"`
	FlagForHuman bool    `json:"flagForHuman"`
	Confidence   float64 `json:"confidence"`
}

// Message is one turn of the conversation.
type Message struct {
	Role    string `json:"role"` // "candidate" or "agent"
	Content string `json:"content"`
}

// Session identifies one engagement conversation and carries the context the
// decider needs.
type Session struct {
	JobID            string
	CandidateID      string
	JobRef           string // external refs, used for history persistence
	CandidateRef     string
	CandidateContact string
	CurrentState     pipeline.State
	JobPitch         string // role summary shown to the decider, never raw JD text
}

// Decider runs one decision step. Implemented by internal/llm.
type Decider interface {
	Decide(ctx context.Context, s Session, history []Message, incoming string) (Proposal, error)
}

// Messenger sends the reply back to the candidate.
type Messenger interface {
	Send(ctx context.Context, recipient, payload string) (string, error)
}

// HistoryStore persists conversation transcripts. Implemented by the ATS
// client (history is stored as tagged notes on the candidate).
type HistoryStore interface {
	FetchConversationHistory(ctx context.Context, jobRef, candidateRef string) (string, error)
	SaveConversationHistory(ctx context.Context, jobRef, candidateRef, history string) error
}

// Agent drives engagement sessions.
type Agent struct {
	decider Decider
	msg     Messenger
	history HistoryStore
	logger  *slog.Logger
}

// NewAgent returns an engagement Agent.
func NewAgent(decider Decider, msg Messenger, history HistoryStore, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{decider: decider, msg: msg, history: history, logger: logger}
}

// InitiateContact sends the first outbound message of a session and records
// it in the transcript. It proposes no transition; the caller decides when
// the record enters CALLING.
func (a *Agent) InitiateContact(ctx context.Context, s Session, opening string) error {
	if _, err := a.msg.Send(ctx, s.CandidateContact, opening); err != nil {
		return err
	}
	return a.appendHistory(ctx, s, nil, Message{Role: "agent", Content: opening})
}

// HandleInbound runs one decision step for an inbound candidate message:
// load transcript, decide, send the reply, persist the updated transcript,
// and return the proposal for the orchestrator to validate.
func (a *Agent) HandleInbound(ctx context.Context, s Session, incoming string) (Proposal, error) {
	history, err := a.loadHistory(ctx, s)
	if err != nil {
		return Proposal{}, err
	}
	history = append(history, Message{Role: "candidate", Content: incoming})
	window := history
	if len(window) > maxTurns {
		window = window[len(window)-maxTurns:]
	}

	proposal, err := a.decider.Decide(ctx, s, window, incoming)
	if err != nil {
		return Proposal{}, err
	}

	if proposal.FlagForHuman {
		a.logger.Warn("engagement flagged for human review",
			"jobId", s.JobID, "candidateId", s.CandidateID, "intent", proposal.Intent)
	}

	if proposal.Reply != "" {
		if _, err := a.msg.Send(ctx, s.CandidateContact, proposal.Reply); err != nil {
			return Proposal{}, err
		}
		history = append(history, Message{Role: "agent", Content: proposal.Reply})
	}

	if err := a.saveHistory(ctx, s, history); err != nil {
		// Transcript loss is not worth dropping the decision over.
		a.logger.Warn("persist conversation history failed",
			"jobId", s.JobID, "candidateId", s.CandidateID, "err", err)
	}
	return proposal, nil
}

// SendReminder sends a templated reminder outside the decision loop.
func (a *Agent) SendReminder(ctx context.Context, s Session, body string) error {
	if _, err := a.msg.Send(ctx, s.CandidateContact, body); err != nil {
		return err
	}
	return a.appendHistory(ctx, s, nil, Message{Role: "agent", Content: body})
}

func (a *Agent) loadHistory(ctx context.Context, s Session) ([]Message, error) {
	raw, err := a.history.FetchConversationHistory(ctx, s.JobRef, s.CandidateRef)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var msgs []Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fmt.Errorf("conversation history corrupt: %w", err)
	}
	return msgs, nil
}

func (a *Agent) saveHistory(ctx context.Context, s Session, msgs []Message) error {
	raw, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	return a.history.SaveConversationHistory(ctx, s.JobRef, s.CandidateRef, string(raw))
}

func (a *Agent) appendHistory(ctx context.Context, s Session, base []Message, msg Message) error {
	if base == nil {
		loaded, err := a.loadHistory(ctx, s)
		if err != nil {
			return err
		}
		base = loaded
	}
	return a.saveHistory(ctx, s, append(base, msg))
}
