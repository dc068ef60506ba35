package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// StepKind is the discriminator of a model step payload.
type StepKind string

const (
	StepIntake      StepKind = "JiraIntake"
	StepRepoPull    StepKind = "RepoPull"
	StepRetrieval   StepKind = "RAG"
	StepRemediation StepKind = "CodexCLI"
	StepWebSearch   StepKind = "WebSearch"
	StepSummary     StepKind = "Summary"
	StepError       StepKind = "ERROR"
)

// ErrProtocol marks a model reply that does not follow the output schema.
var ErrProtocol = errors.New("protocol error")

var knownSteps = map[StepKind]struct{}{
	StepIntake:      {},
	StepRepoPull:    {},
	StepRetrieval:   {},
	StepRemediation: {},
	StepWebSearch:   {},
	StepSummary:     {},
	StepError:       {},
}

// Valid reports whether k is one of the known step kinds.
func (k StepKind) Valid() bool {
	_, ok := knownSteps[k]
	return ok
}

// Terminal reports whether the step ends a run.
func (k StepKind) Terminal() bool {
	return k == StepSummary || k == StepError
}

// StepPayload is the structured body of a content-only model reply.
type StepPayload struct {
	Step      StepKind `json:"step"`
	Reasoning string   `json:"reasoning"`
}

// DecodeStep parses a model reply into a StepPayload. Anything other than a
// JSON object with a known "step" value is rejected with ErrProtocol.
func DecodeStep(content string) (StepPayload, error) {
	var raw struct {
		Step      *string `json:"step"`
		Reasoning string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		return StepPayload{}, fmt.Errorf("%w: model response is not valid JSON: %v", ErrProtocol, err)
	}
	if raw.Step == nil {
		return StepPayload{}, fmt.Errorf("%w: payload missing 'step' field", ErrProtocol)
	}
	kind := StepKind(*raw.Step)
	if !kind.Valid() {
		return StepPayload{}, fmt.Errorf("%w: unknown step %q", ErrProtocol, *raw.Step)
	}
	return StepPayload{Step: kind, Reasoning: raw.Reasoning}, nil
}
