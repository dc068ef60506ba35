// Package vcs synchronizes the working copy the remediation tool operates on.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// CommandRunner runs git with args in dir and returns stdout.
type CommandRunner func(ctx context.Context, dir string, args ...string) (string, error)

// ExecRunner runs the git binary.
func ExecRunner(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s failed: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Git pulls a remote repository into a fixed working directory.
type Git struct {
	root   string
	branch string
	run    CommandRunner
}

// Option configures Git.
type Option func(*Git)

// WithRunner replaces the command runner.
func WithRunner(r CommandRunner) Option {
	return func(g *Git) { g.run = r }
}

// New creates a Git syncer rooted at root that tracks branch.
func New(root, branch string, opts ...Option) *Git {
	if branch == "" {
		branch = "main"
	}
	g := &Git{root: root, branch: branch, run: ExecRunner}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Sync points origin at url and pulls the tracked branch into the working
// directory, initializing it if needed.
func (g *Git) Sync(ctx context.Context, url string) (string, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return "", fmt.Errorf("repository url is empty")
	}
	if err := os.MkdirAll(g.root, 0o755); err != nil {
		return "", fmt.Errorf("create repo root: %w", err)
	}

	out, err := g.run(ctx, g.root, "init")
	if err != nil {
		return "", err
	}
	if _, err := g.run(ctx, g.root, "branch", "-M", g.branch); err != nil {
		return "", err
	}
	remotes, err := g.run(ctx, g.root, "remote", "-v")
	if err != nil {
		return "", err
	}
	if hasOrigin(remotes) {
		if _, err := g.run(ctx, g.root, "remote", "remove", "origin"); err != nil {
			return "", err
		}
	}
	if _, err := g.run(ctx, g.root, "remote", "add", "origin", url); err != nil {
		return "", err
	}
	if _, err := g.run(ctx, g.root, "pull", "origin", g.branch); err != nil {
		return "", err
	}

	slog.Info("Repository synced", "url", url, "branch", g.branch, "root", g.root)
	return strings.TrimSpace(out) + "\n Successfully pulled the source code from " + url, nil
}

func hasOrigin(remotes string) bool {
	for _, line := range strings.Split(remotes, "\n") {
		if fields := strings.Fields(line); len(fields) > 0 && fields[0] == "origin" {
			return true
		}
	}
	return false
}
