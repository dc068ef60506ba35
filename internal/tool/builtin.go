package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/LIUAPP/AgenticBugFix/internal/domain"
)

// IssueFetcher reads an issue from the tracker.
type IssueFetcher interface {
	FetchIssue(ctx context.Context, key string) (string, error)
}

// RepositorySyncer pulls a repository into the workspace.
type RepositorySyncer interface {
	Sync(ctx context.Context, url string) (string, error)
}

// RemediationRunner asks the coding agent to work on the checked-out code.
type RemediationRunner interface {
	Exec(ctx context.Context, prompt string) (string, error)
}

// WebSearcher runs a web search.
type WebSearcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// SimilarIssueFinder looks up a previously resolved issue. A nil issue means
// nothing scored above the threshold.
type SimilarIssueFinder interface {
	FindSimilar(ctx context.Context, query string) (*domain.ResolvedIssue, error)
}

func stringParams(field string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			field: map[string]any{"type": "string"},
		},
		"required": []string{field},
	}
}

// NewFetchJira exposes the issue tracker as fetch_jira{jiraNo}.
func NewFetchJira(f IssueFetcher) Tool {
	return NewFunc(FetchJira,
		"Fetch Jira issue details by jira number. This is used to understand the Jira issue, get reproduction steps.",
		stringParams("jiraNo"),
		func(ctx context.Context, args Args) (string, error) {
			key, err := args.String("jiraNo")
			if err != nil {
				return "", err
			}
			return f.FetchIssue(ctx, key)
		})
}

// NewPullRepo exposes repository sync as pull_repo{repo}.
func NewPullRepo(s RepositorySyncer) Tool {
	return NewFunc(PullRepo,
		"Pull the latest changes from the repository. This is used to set up the local git repository before calling Codex CLI commands.",
		stringParams("repo"),
		func(ctx context.Context, args Args) (string, error) {
			repo, err := args.String("repo")
			if err != nil {
				return "", err
			}
			return s.Sync(ctx, repo)
		})
}

// NewExecCodex exposes the remediation runner as exec_codex{prompt}.
func NewExecCodex(r RemediationRunner) Tool {
	return NewFunc(ExecCodex,
		"Execute a Codex CLI query. This is used to reproduce issue, localize errors, plan fixes, and validate patches.",
		stringParams("prompt"),
		func(ctx context.Context, args Args) (string, error) {
			prompt, err := args.String("prompt")
			if err != nil {
				return "", err
			}
			return r.Exec(ctx, prompt)
		})
}

// NewWebSearch exposes web search as web_search{query}.
func NewWebSearch(s WebSearcher) Tool {
	return NewFunc(WebSearch,
		"Execute a web search query. This is used to gather additional information from the web.",
		stringParams("query"),
		func(ctx context.Context, args Args) (string, error) {
			query, err := args.String("query")
			if err != nil {
				return "", err
			}
			return s.Search(ctx, query)
		})
}

// NewQueryRAG exposes similar-issue retrieval as query_jira_rag{query}.
func NewQueryRAG(f SimilarIssueFinder) Tool {
	return NewFunc(QueryRAG,
		"Search previously resolved Jira issues for one similar to the current bug. Returns its root cause and the fix that was implemented.",
		stringParams("query"),
		func(ctx context.Context, args Args) (string, error) {
			query, err := args.String("query")
			if err != nil {
				return "", err
			}
			issue, err := f.FindSimilar(ctx, query)
			if err != nil {
				return "", err
			}
			if issue == nil {
				return "", nil
			}
			data, err := json.MarshalIndent(issue, "", "  ")
			if err != nil {
				return "", fmt.Errorf("encode similar issue: %w", err)
			}
			return string(data), nil
		})
}
