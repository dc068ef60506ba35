package agent

import (
	"strings"

	"github.com/LIUAPP/AgenticBugFix/internal/domain"
)

// Policy decides what happens when the model declares an illegal step.
type Policy int

const (
	// Permissive trusts the declared step and only logs illegal transitions.
	Permissive Policy = iota
	// Strict rejects illegal transitions.
	Strict
)

// ParsePolicy maps a configuration value to a Policy. Unknown values are permissive.
func ParsePolicy(s string) Policy {
	if strings.EqualFold(strings.TrimSpace(s), "strict") {
		return Strict
	}
	return Permissive
}

func (p Policy) String() string {
	if p == Strict {
		return "strict"
	}
	return "permissive"
}

// transitions lists the legal successors of each non-terminal step.
// ERROR is reachable from every non-terminal step and is not listed.
var transitions = map[domain.StepKind][]domain.StepKind{
	domain.StepIntake:      {domain.StepIntake, domain.StepRepoPull, domain.StepRetrieval},
	domain.StepRepoPull:    {domain.StepRepoPull, domain.StepRetrieval, domain.StepRemediation},
	domain.StepRetrieval:   {domain.StepRetrieval, domain.StepRepoPull, domain.StepRemediation, domain.StepWebSearch},
	domain.StepRemediation: {domain.StepRemediation, domain.StepRetrieval, domain.StepWebSearch, domain.StepSummary},
	domain.StepWebSearch:   {domain.StepWebSearch, domain.StepRemediation, domain.StepSummary},
}

// Allowed reports whether the loop may move from one step to another.
func Allowed(from, to domain.StepKind) bool {
	if from.Terminal() {
		return false
	}
	if to == domain.StepError {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
