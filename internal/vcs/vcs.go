// Package vcs probes the git working tree for the Receipt's git_context
// (commit, branch, tag, dirty) and for preflight's cleanliness check
// (spec.md §3 Receipt, §4.4). Generalized from the teacher's
// internal/rpi/worktree.go context.WithTimeout + exec.CommandContext
// pattern.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrNotGitRepo mirrors internal/rpi.ErrNotGitRepo.
var ErrNotGitRepo = errors.New("not a git repository")

// Context is the git state captured in a Receipt.
type Context struct {
	Commit string
	Branch string
	Tag    string // empty if HEAD is not exactly tagged
	Dirty  bool
}

// IsRepo reports whether dir is inside a git working tree.
func IsRepo(ctx context.Context, dir string, timeout time.Duration) bool {
	_, err := run(ctx, dir, timeout, "rev-parse", "--is-inside-work-tree")
	return err == nil
}

// Probe collects the full git context for dir, or returns ErrNotGitRepo if
// dir is not inside a git working tree.
func Probe(ctx context.Context, dir string, timeout time.Duration) (Context, error) {
	if !IsRepo(ctx, dir, timeout) {
		return Context{}, ErrNotGitRepo
	}

	commit, err := run(ctx, dir, timeout, "rev-parse", "HEAD")
	if err != nil {
		return Context{}, fmt.Errorf("resolve HEAD: %w", err)
	}

	branch, err := run(ctx, dir, timeout, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return Context{}, fmt.Errorf("resolve branch: %w", err)
	}

	dirty, err := IsDirty(ctx, dir, timeout)
	if err != nil {
		return Context{}, err
	}

	// Tag detection (spec.md §9 open question): the command is invoked
	// with real arguments only — no literal "2>/dev/null" token is ever
	// passed as an argument. The child's stderr is discarded
	// programmatically via run's CombinedOutput-free Output() call, which
	// never mixes stderr into the captured value in the first place.
	tag, tagErr := run(ctx, dir, timeout, "describe", "--tags", "--exact-match", "HEAD")
	if tagErr != nil {
		tag = "" // HEAD is not exactly tagged; not an error condition.
	}

	return Context{
		Commit: strings.TrimSpace(commit),
		Branch: strings.TrimSpace(branch),
		Tag:    strings.TrimSpace(tag),
		Dirty:  dirty,
	}, nil
}

// IsDirty reports whether the working tree has uncommitted changes
// (spec.md §4.4 git cleanliness check).
func IsDirty(ctx context.Context, dir string, timeout time.Duration) (bool, error) {
	out, err := run(ctx, dir, timeout, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// run executes git with the given arguments only (no shell, no
// redirection tokens) and returns stdout. Stderr is never captured into
// the returned value, so a command's diagnostic noise cannot leak into a
// parsed result — the bug spec.md §9 warns about.
func run(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		if runCtx.Err() != nil {
			return "", fmt.Errorf("git %s timed out after %s", strings.Join(args, " "), timeout)
		}
		return "", err
	}
	return string(out), nil
}
