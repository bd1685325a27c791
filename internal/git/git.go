// Package git wraps the git operations the orchestrator needs: dirty-tree
// checks before a run and worktree management for isolated run branches.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// Available checks if the given directory is inside a git work tree.
func Available(ctx context.Context, repoRoot string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = repoRoot
	return cmd.Run() == nil
}

// RunCmdOutput runs a command and returns its combined output.
func RunCmdOutput(ctx context.Context, dir string, name string, args ...string) (string, error) {
	log.Debug().Str("dir", dir).Str("cmd", name).Strs("args", args).Msg("running command")
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// RunCmdErr runs a command and returns an error carrying its output on
// failure.
func RunCmdErr(ctx context.Context, dir string, name string, args ...string) error {
	_, err := RunCmdOutput(ctx, dir, name, args...)
	return err
}

// IsDirty reports whether the work tree has uncommitted changes.
func IsDirty(ctx context.Context, repoRoot string) (bool, error) {
	if !Available(ctx, repoRoot) {
		return false, fmt.Errorf("not a git repository: %s", repoRoot)
	}
	out, err := RunCmdOutput(ctx, repoRoot, "git", "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// CurrentBranch resolves the checked-out branch name.
func CurrentBranch(ctx context.Context, repoRoot string) (string, error) {
	if !Available(ctx, repoRoot) {
		return "", fmt.Errorf("not a git repository: %s", repoRoot)
	}
	out, err := RunCmdOutput(ctx, repoRoot, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve branch: %w", err)
	}
	branch := strings.TrimSpace(out)
	if branch == "" {
		return "", fmt.Errorf("resolve branch: empty branch name")
	}
	if branch == "HEAD" {
		return "", fmt.Errorf("resolve branch: detached HEAD")
	}
	return branch, nil
}

// HeadCommit returns the current HEAD hash.
func HeadCommit(ctx context.Context, repoRoot string) (string, error) {
	out, err := RunCmdOutput(ctx, repoRoot, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// AddWorktree creates a worktree at dir on branchName, creating the branch
// when it does not exist yet. Stale worktree records are pruned first.
func AddWorktree(ctx context.Context, repoRoot, dir, branchName string) error {
	if !Available(ctx, repoRoot) {
		return fmt.Errorf("not a git repository: %s", repoRoot)
	}
	_ = RunCmdErr(ctx, repoRoot, "git", "worktree", "prune")

	out, _ := RunCmdOutput(ctx, repoRoot, "git", "branch", "--list", branchName)
	args := []string{"worktree", "add", "-b", branchName, dir}
	if strings.TrimSpace(out) != "" {
		args = []string{"worktree", "add", dir, branchName}
	}
	if err := RunCmdErr(ctx, repoRoot, "git", args...); err != nil {
		return fmt.Errorf("git worktree add: %w", err)
	}
	return nil
}

// RemoveWorktree removes a worktree and prunes its record.
func RemoveWorktree(ctx context.Context, repoRoot, dir string) error {
	if err := RunCmdErr(ctx, repoRoot, "git", "worktree", "remove", "--force", dir); err != nil {
		return fmt.Errorf("git worktree remove: %w", err)
	}
	_ = RunCmdErr(ctx, repoRoot, "git", "worktree", "prune")
	return nil
}
