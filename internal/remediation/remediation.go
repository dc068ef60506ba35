// Package remediation drives the Codex CLI that reads, runs and patches the
// checked out repository. The CLI can run locally, behind the codex HTTP
// service, or inside a running Docker container.
package remediation

import (
	"context"
	"fmt"
	"strings"
)

// Runner executes one remediation prompt and returns the CLI output.
type Runner interface {
	Exec(ctx context.Context, prompt string) (string, error)
}

// Config selects and configures a backend.
type Config struct {
	Mode        string
	Binary      string
	ServiceURL  string
	ProjectPath string
	Container   string
	OutputLimit int
}

// Backends.
const (
	ModeLocal  = "local"
	ModeHTTP   = "http"
	ModeDocker = "docker"
)

// New builds the Runner for cfg.Mode.
func New(cfg Config) (Runner, error) {
	switch strings.ToLower(cfg.Mode) {
	case "", ModeLocal:
		return NewLocal(cfg.Binary, cfg.ProjectPath, cfg.OutputLimit), nil
	case ModeHTTP:
		return NewHTTP(cfg.ServiceURL, cfg.ProjectPath, nil), nil
	case ModeDocker:
		return NewDocker(cfg.Container, cfg.Binary, cfg.ProjectPath, cfg.OutputLimit)
	default:
		return nil, fmt.Errorf("unknown remediation mode %q", cfg.Mode)
	}
}

func command(binary, prompt string) []string {
	if binary == "" {
		binary = "codex"
	}
	return []string{binary, "exec", prompt, "--full-auto"}
}

func validatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("remediation prompt is empty")
	}
	return nil
}
