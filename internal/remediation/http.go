package remediation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTP calls the codex service, which runs the CLI on its side.
type HTTP struct {
	baseURL     string
	projectPath string
	client      *http.Client
}

// NewHTTP creates an HTTP runner. The client has no timeout of its own; the
// caller's context bounds each call.
func NewHTTP(baseURL, projectPath string, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{}
	}
	if projectPath == "" {
		projectPath = "."
	}
	return &HTTP{baseURL: strings.TrimRight(baseURL, "/"), projectPath: projectPath, client: client}
}

type execRequest struct {
	Prompt      string `json:"prompt"`
	ProjectPath string `json:"project_path"`
}

type execResponse struct {
	Output string `json:"output"`
	Detail string `json:"detail"`
}

// Exec implements Runner.
func (h *HTTP) Exec(ctx context.Context, prompt string) (string, error) {
	if err := validatePrompt(prompt); err != nil {
		return "", err
	}
	body, err := json.Marshal(execRequest{Prompt: prompt, ProjectPath: h.projectPath})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/exec", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("codex service: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("read codex service response: %w", err)
	}
	var out execResponse
	_ = json.Unmarshal(data, &out)
	if resp.StatusCode != http.StatusOK {
		detail := out.Detail
		if detail == "" {
			detail = strings.TrimSpace(string(data))
		}
		return "", fmt.Errorf("codex service returned %d: %s", resp.StatusCode, detail)
	}
	return strings.TrimSpace(out.Output), nil
}
