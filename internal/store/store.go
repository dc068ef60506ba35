// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/LIUAPP/AgenticBugFix/internal/domain"
)

// Repository persists the run ledger and the resolved-issue knowledge base.
type Repository interface {
	// CreateRun inserts a ledger entry. Rejected prompts are stored already finished.
	CreateRun(ctx context.Context, run *domain.RunRecord) error

	// FinishRun records the final status, iteration count and end time of a run.
	FinishRun(ctx context.Context, run *domain.RunRecord) error

	// GetRun returns a run by id, or nil when it does not exist.
	GetRun(ctx context.Context, id string) (*domain.RunRecord, error)

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]*domain.RunRecord, error)

	// PruneRuns deletes finished runs that ended more than retention ago.
	PruneRuns(ctx context.Context, retention time.Duration) (int64, error)

	// UpsertResolvedIssue adds or replaces a knowledge base entry.
	UpsertResolvedIssue(ctx context.Context, issue *domain.ResolvedIssue) error

	// ListResolvedIssues returns every knowledge base entry.
	ListResolvedIssues(ctx context.Context) ([]*domain.ResolvedIssue, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
