package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LIUAPP/AgenticBugFix/internal/domain"
)

const kbList = `
- issue_key: AI-1
  description: Login fails when the password contains a quote
  root_cause: The query was built with string concatenation
  fix_implemented: Switched to a parameterized query
- issue_key: " AI-2 "
  description: Export times out on large projects
  root_cause: N+1 queries
  fix_implemented: Batched the lookups
`

func TestDecodeResolvedIssuesList(t *testing.T) {
	issues, err := DecodeResolvedIssues(strings.NewReader(kbList))
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "AI-1", issues[0].IssueKey)
	assert.Equal(t, "The query was built with string concatenation", issues[0].RootCause)
	assert.Equal(t, "AI-2", issues[1].IssueKey)
}

func TestDecodeResolvedIssuesMapping(t *testing.T) {
	issues, err := DecodeResolvedIssues(strings.NewReader("issues:\n  - issue_key: AI-9\n    description: crash on start\n"))
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "crash on start", issues[0].Description)
}

func TestDecodeResolvedIssuesErrors(t *testing.T) {
	tests := map[string]string{
		"missing key": "- description: no key\n",
		"scalar root": "just text\n",
		"bad yaml":    "- issue_key: [unterminated\n",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeResolvedIssues(strings.NewReader(input))
			assert.Error(t, err)
		})
	}
}

func TestDecodeResolvedIssuesEmpty(t *testing.T) {
	issues, err := DecodeResolvedIssues(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestImportResolvedIssues(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	issues, err := DecodeResolvedIssues(strings.NewReader(kbList))
	require.NoError(t, err)

	embedder := newKeywordEmbedder()
	n, err := ImportResolvedIssues(ctx, s, embedder, issues)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, embedder.calls, 1)
	assert.Equal(t, issues[0].Document(), embedder.calls[0][0])
	assert.Contains(t, embedder.calls[0][0], "Root Cause: The query was built with string concatenation")

	// Re-importing replaces rows instead of duplicating them.
	_, err = ImportResolvedIssues(ctx, s, embedder, issues)
	require.NoError(t, err)

	stored, err := s.ListResolvedIssues(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "Batched the lookups", stored[1].FixImplemented)
	assert.NotEmpty(t, stored[0].Embedding)
}

func TestImportResolvedIssuesBatches(t *testing.T) {
	s := newTestStore(t)
	issues := make([]*domain.ResolvedIssue, embedBatchSize+3)
	for i := range issues {
		issues[i] = &domain.ResolvedIssue{IssueKey: fmt.Sprintf("AI-%d", i), Description: "login"}
	}

	embedder := newKeywordEmbedder()
	n, err := ImportResolvedIssues(context.Background(), s, embedder, issues)
	require.NoError(t, err)
	assert.Equal(t, len(issues), n)
	require.Len(t, embedder.calls, 2)
	assert.Len(t, embedder.calls[0], embedBatchSize)
	assert.Len(t, embedder.calls[1], 3)
}

func TestImportResolvedIssuesEmbeddingFailure(t *testing.T) {
	s := newTestStore(t)
	embedder := newKeywordEmbedder()
	embedder.err = errors.New("invalid api key")

	n, err := ImportResolvedIssues(context.Background(), s, embedder, []*domain.ResolvedIssue{{IssueKey: "AI-1"}})
	assert.ErrorContains(t, err, "invalid api key")
	assert.Zero(t, n)

	stored, err := s.ListResolvedIssues(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored)

	_, err = ImportResolvedIssues(context.Background(), s, nil, []*domain.ResolvedIssue{{IssueKey: "AI-1"}})
	assert.Error(t, err)
}
