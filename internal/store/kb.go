package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/LIUAPP/AgenticBugFix/internal/domain"
)

// knowledgeBaseFile accepts either a top-level list or an "issues" key.
type knowledgeBaseFile struct {
	Issues []*domain.ResolvedIssue `yaml:"issues"`
}

// DecodeResolvedIssues reads knowledge base entries from YAML.
func DecodeResolvedIssues(r io.Reader) ([]*domain.ResolvedIssue, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read knowledge base: %w", err)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse knowledge base: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}

	var issues []*domain.ResolvedIssue
	switch root := node.Content[0]; root.Kind {
	case yaml.SequenceNode:
		err = root.Decode(&issues)
	case yaml.MappingNode:
		var file knowledgeBaseFile
		err = root.Decode(&file)
		issues = file.Issues
	default:
		return nil, errors.New("knowledge base must be a list of issues or a mapping with an issues key")
	}
	if err != nil {
		return nil, fmt.Errorf("decode knowledge base: %w", err)
	}

	for i, issue := range issues {
		if issue == nil || strings.TrimSpace(issue.IssueKey) == "" {
			return nil, fmt.Errorf("knowledge base entry %d has no issue_key", i+1)
		}
		issue.IssueKey = strings.TrimSpace(issue.IssueKey)
	}
	return issues, nil
}

// embedBatchSize bounds the number of documents sent in one embedding call.
const embedBatchSize = 64

// ImportResolvedIssues embeds every entry and upserts it, returning how many
// were written.
func ImportResolvedIssues(ctx context.Context, repo Repository, embedder Embedder, issues []*domain.ResolvedIssue) (int, error) {
	if embedder == nil {
		return 0, errors.New("an embedder is required to import resolved issues")
	}
	written := 0
	for start := 0; start < len(issues); start += embedBatchSize {
		batch := issues[start:min(start+embedBatchSize, len(issues))]
		docs := make([]string, len(batch))
		for i, issue := range batch {
			docs[i] = issue.Document()
		}
		vectors, err := embedder.Embed(ctx, docs)
		if err != nil {
			return written, fmt.Errorf("embed resolved issues: %w", err)
		}
		if len(vectors) != len(batch) {
			return written, fmt.Errorf("embed resolved issues: got %d vectors for %d documents", len(vectors), len(batch))
		}
		for i, issue := range batch {
			issue.Embedding = vectors[i]
			if err := repo.UpsertResolvedIssue(ctx, issue); err != nil {
				return written, fmt.Errorf("import %s: %w", issue.IssueKey, err)
			}
			written++
		}
	}
	return written, nil
}
