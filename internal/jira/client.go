// Package jira fetches issues from the Jira Cloud REST API.
package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config holds the Jira connection settings.
type Config struct {
	BaseURL    string
	Email      string
	APIToken   string
	ReproField string
}

// Client is a minimal Jira REST v3 client.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a Client. A nil httpClient uses a client with a 30s timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.ReproField == "" {
		cfg.ReproField = "customfield_10076"
	}
	return &Client{cfg: cfg, http: httpClient}
}

// ErrIssueNotFound is matched by errors.Is for a 404 response.
var ErrIssueNotFound = errors.New("issue not found")

// Error is returned for non-2xx responses.
type Error struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("jira API %s %s failed: %d %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Is reports a 404 as ErrIssueNotFound.
func (e *Error) Is(target error) bool {
	return target == ErrIssueNotFound && e.StatusCode == http.StatusNotFound
}

// Issue is the subset of issue fields the agent needs.
type Issue struct {
	Key         string
	Summary     string
	Description string
	Reproduce   string
}

// GetIssue fetches an issue and flattens its rich text fields.
func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("issue key is empty")
	}
	fields := "summary,description," + c.cfg.ReproField
	path := "issue/" + url.PathEscape(key)

	var raw struct {
		Key    string                     `json:"key"`
		Fields map[string]json.RawMessage `json:"fields"`
	}
	if err := c.get(ctx, path, url.Values{"fields": {fields}}, &raw); err != nil {
		return nil, fmt.Errorf("fetch Jira issue %s: %w", key, err)
	}

	issue := &Issue{Key: raw.Key}
	if s, ok := raw.Fields["summary"]; ok {
		_ = json.Unmarshal(s, &issue.Summary)
	}
	issue.Description = ExtractText(raw.Fields["description"])
	issue.Reproduce = ExtractText(raw.Fields[c.cfg.ReproField])
	return issue, nil
}

// FetchIssue returns the issue formatted for the model.
func (c *Client) FetchIssue(ctx context.Context, key string) (string, error) {
	issue, err := c.GetIssue(ctx, key)
	if err != nil {
		return "", err
	}
	return Format(issue), nil
}

// Format renders an issue as the block handed to the model.
func Format(issue *Issue) string {
	return fmt.Sprintf("\n{\n    \"summary\": %s,\n    \"description\": %s,\n    \"reproduce procedures\": %s\n}",
		issue.Summary, issue.Description, issue.Reproduce)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/rest/api/3/" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.cfg.Email, c.cfg.APIToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Method: http.MethodGet, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ExtractText flattens an Atlassian Document Format node into plain text.
// Text nodes are joined with newlines. Plain string fields are returned as is.
func ExtractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return extract(v)
}

func extract(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case []any:
		parts := make([]string, 0, len(n))
		for _, child := range n {
			parts = append(parts, extract(child))
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		if n["type"] == "text" {
			s, _ := n["text"].(string)
			return s
		}
		if content, ok := n["content"]; ok {
			return extract(content)
		}
	}
	return ""
}
