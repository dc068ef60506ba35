package remediation

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Local runs the CLI as a child process in the project directory.
type Local struct {
	binary      string
	projectPath string
	outputLimit int
}

// NewLocal creates a Local runner.
func NewLocal(binary, projectPath string, outputLimit int) *Local {
	return &Local{binary: binary, projectPath: projectPath, outputLimit: outputLimit}
}

// Exec implements Runner.
func (l *Local) Exec(ctx context.Context, prompt string) (string, error) {
	if err := validatePrompt(prompt); err != nil {
		return "", err
	}
	args := command(l.binary, prompt)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = l.projectPath

	stdout := NewRingBuffer(l.outputLimit)
	stderr := NewRingBuffer(4 * 1024)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	slog.Info("Running remediation", "mode", ModeLocal, "dir", l.projectPath)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%s exec failed: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Truncated() {
		slog.Warn("Remediation output truncated", "limit", l.outputLimit)
	}
	return strings.TrimSpace(stdout.String()), nil
}
