package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/LIUAPP/AgenticBugFix/internal/domain"
)

// Embedder turns texts into vectors, one per text and in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever finds previously resolved issues whose embedding is close to
// the embedding of a query.
type Retriever struct {
	repo      Repository
	embedder  Embedder
	threshold float64
	topK      int
}

// NewRetriever creates a Retriever. Matches whose cosine similarity is below
// threshold are ignored; at most topK matches are returned by Search.
func NewRetriever(repo Repository, embedder Embedder, threshold float64, topK int) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	return &Retriever{repo: repo, embedder: embedder, threshold: threshold, topK: topK}
}

// Search embeds query and returns the closest knowledge base entries,
// highest score first. Entries imported without an embedding are skipped.
func (r *Retriever) Search(ctx context.Context, query string) ([]*domain.ResolvedIssue, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	issues, err := r.repo.ListResolvedIssues(ctx)
	if err != nil {
		return nil, err
	}
	if len(issues) == 0 {
		return nil, nil
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vectors))
	}
	queryVec := vectors[0]

	var matches []*domain.ResolvedIssue
	for _, issue := range issues {
		if len(issue.Embedding) == 0 {
			slog.Debug("Skipping resolved issue without embedding", "issue_key", issue.IssueKey)
			continue
		}
		score := CosineSimilarity(queryVec, issue.Embedding)
		if score < r.threshold || score <= 0 {
			continue
		}
		issue.Score = score
		matches = append(matches, issue)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > r.topK {
		matches = matches[:r.topK]
	}
	return matches, nil
}

// FindSimilar returns the best match, or nil when nothing clears the threshold.
func (r *Retriever) FindSimilar(ctx context.Context, query string) (*domain.ResolvedIssue, error) {
	matches, err := r.Search(ctx, query)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return matches[0], nil
}
