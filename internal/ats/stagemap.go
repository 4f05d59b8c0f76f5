// Package ats is the system-of-record adapter. It translates internal
// pipeline states into the ATS stage vocabulary and pushes stage updates,
// notes, documents and conversation history over the ATS REST API.
//
// Stage pushes are best-effort: the state machine never blocks a local
// commit on them, and failed pushes are re-driven by internal/reconcile.
package ats

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"zodiac/pipeline-service/internal/pipeline"
)

//go:embed stage_map.yaml
var stageMapYAML []byte

// stageMap is data, not logic: loaded once at init, never mutated.
var stageMap map[pipeline.State]string

func init() {
	raw := map[string]string{}
	if err := yaml.Unmarshal(stageMapYAML, &raw); err != nil {
		panic(fmt.Sprintf("ats: embedded stage map is invalid yaml: %v", err))
	}
	stageMap = make(map[pipeline.State]string, len(raw))
	for k, v := range raw {
		stageMap[pipeline.State(k)] = v
	}
}

// StageFor maps an internal state to the ATS stage name. Unmapped states
// fall back to the internal name verbatim so a new state never breaks sync.
func StageFor(s pipeline.State) string {
	if stage, ok := stageMap[s]; ok {
		return stage
	}
	return string(s)
}

// ValidateStageMap checks that every known pipeline state has an explicit
// mapping. Run by the validate command to catch drift between the transition
// table and the stage map.
func ValidateStageMap() error {
	for _, s := range pipeline.AllStates() {
		if _, ok := stageMap[s]; !ok {
			return fmt.Errorf("pipeline state %s has no ATS stage mapping", s)
		}
	}
	return nil
}
