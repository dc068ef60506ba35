package domain

import (
	"strings"
	"time"
)

// RunStatus is the outcome recorded for an agent run.
type RunStatus string

const (
	RunStarted   RunStatus = "started"
	RunCompleted RunStatus = "completed"
	RunExhausted RunStatus = "exhausted"
	RunStopped   RunStatus = "stopped"
	RunFailed    RunStatus = "failed"
	RunRejected  RunStatus = "rejected"
)

// RunRecord is the ledger entry for one run. Transcripts are never stored.
type RunRecord struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Status         RunStatus  `json:"status"`
	Iterations     int        `json:"iterations"`
	FinalStep      StepKind   `json:"final_step,omitempty"`
	Detail         string     `json:"detail,omitempty"`
	PromptPreview  string     `json:"prompt_preview"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// Finished reports whether the run has reached a final status.
func (r *RunRecord) Finished() bool {
	return r.EndedAt != nil
}

// ResolvedIssue is a previously fixed issue used for retrieval.
type ResolvedIssue struct {
	IssueKey       string  `json:"issue_key" yaml:"issue_key"`
	Description    string  `json:"description" yaml:"description"`
	RootCause      string  `json:"root_cause" yaml:"root_cause"`
	FixImplemented string  `json:"fix_implemented" yaml:"fix_implemented"`
	Score          float64 `json:"score,omitempty" yaml:"-"`

	// Embedding is the vector of Document, set when the issue is imported.
	Embedding []float32 `json:"-" yaml:"-"`
}

// Document is the text that gets embedded for similarity search.
func (i *ResolvedIssue) Document() string {
	var b strings.Builder
	b.WriteString("Issue Key: " + i.IssueKey)
	b.WriteString("\nDescription: " + i.Description)
	b.WriteString("\nRoot Cause: " + i.RootCause)
	b.WriteString("\nFix Implemented: " + i.FixImplemented)
	return b.String()
}
