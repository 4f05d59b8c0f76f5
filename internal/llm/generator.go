package llm

import (
	"context"
	"fmt"

	"zodiac/pipeline-service/internal/pipeline"
)

// Generator adapts a completion client to the orchestrator's Generator
// contract. Each task maps to a fixed prompt pair; the output is returned
// verbatim as the text artifact.
type Generator struct {
	client Client
}

// NewGenerator returns a Generator over client.
func NewGenerator(client Client) *Generator {
	return &Generator{client: client}
}

var generatorPrompts = map[string]string{
	"parse_jd": `You are a recruitment analyst. Summarize the job description into one short
paragraph covering: title, must-have skills, experience band and location.
Return only the summary text.`,
	"refine_cv": `You are a CV writer at a recruitment consultancy. Rewrite the candidate
profile to highlight fit for the job description. Keep every fact truthful;
reorder and rephrase only. Return only the refined CV text.`,
	"grooming_kit": `You are an interview coach. Produce a short preparation note for the
candidate: the 10 most likely interview questions for this role with one-line
guidance each. Return only the note text.`,
}

// Generate produces the artifact for task from the (job, candidate) pair.
func (g *Generator) Generate(ctx context.Context, task, jobDescription, candidateProfile string) (string, error) {
	system, ok := generatorPrompts[task]
	if !ok {
		return "", &pipeline.GenerationError{Task: task, Err: fmt.Errorf("unknown generator task")}
	}
	user := fmt.Sprintf("JOB DESCRIPTION:\n%s", jobDescription)
	if candidateProfile != "" {
		user += fmt.Sprintf("\n\nCANDIDATE PROFILE:\n%s", candidateProfile)
	}
	out, err := g.client.Complete(ctx, system, user)
	if err != nil {
		return "", &pipeline.GenerationError{Task: task, Err: err}
	}
	return out, nil
}
