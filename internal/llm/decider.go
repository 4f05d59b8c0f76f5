package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"zodiac/pipeline-service/internal/engage"
	"zodiac/pipeline-service/internal/pipeline"
)

// Decider adapts a completion client to the engagement decision step. The
// model is asked for a JSON object matching engage.Proposal; the suggested
// state is offered from the record's legal successors only, but whatever
// comes back is still validated by the state machine downstream.
type Decider struct {
	client Client
}

// NewDecider returns a Decider over client.
func NewDecider(client Client) *Decider {
	return &Decider{client: client}
}

const deciderSystemPrompt = `You are a recruitment consultant chatting with a candidate on a messaging app.
Be warm, professional and concise. Never reveal the client company name and
never paste raw job-description text. If the conversation turns to salary
negotiation, strong objections, or anything you are unsure about, flag it for
human review instead of guessing.

Respond with a single JSON object:
{
  "intent": "interested" | "not_interested" | "needs_info" | "unclear",
  "nextState": "<one of the allowed states, or empty to stay put>",
  "reply": "<message to send to the candidate, or empty>",
  "summary": "<one-line note for the pipeline record>",
  "flagForHuman": true | false,
  "confidence": 0.0-1.0
}`

// Decide runs one decision step.
func (d *Decider) Decide(ctx context.Context, s engage.Session, history []engage.Message, incoming string) (engage.Proposal, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Role being pitched: %s\n", s.JobPitch)
	fmt.Fprintf(&b, "Current pipeline state: %s\n", s.CurrentState)
	fmt.Fprintf(&b, "Allowed next states: %s\n\n", joinStates(pipeline.NextStates(s.CurrentState)))
	b.WriteString("Conversation so far:\n")
	for _, m := range history {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	fmt.Fprintf(&b, "\nThe candidate just said: %q\nDecide the next action.", incoming)

	raw, err := d.client.CompleteJSON(ctx, deciderSystemPrompt, b.String())
	if err != nil {
		return engage.Proposal{}, &pipeline.GenerationError{Task: "engage_decide", Err: err}
	}

	var p engage.Proposal
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return engage.Proposal{}, &pipeline.GenerationError{
			Task: "engage_decide",
			Err:  fmt.Errorf("decider returned invalid JSON: %w", err),
		}
	}
	return p, nil
}

func joinStates(states []pipeline.State) string {
	parts := make([]string, len(states))
	for i, s := range states {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}
