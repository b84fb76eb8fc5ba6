// Package repo provides local git workspace operations used to keep a
// checkout in sync after a pull request branch is rebased remotely.
package repo

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// HookDir is the repo-local directory searched for lifecycle hooks.
const HookDir = ".shepherd"

// Workspace wraps git operations against a single working directory.
type Workspace struct {
	dir string
}

// NewWorkspace creates a workspace for the given directory. An empty dir
// means the current working directory.
func NewWorkspace(dir string) *Workspace {
	return &Workspace{dir: dir}
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// git runs a git command in the workspace directory and returns trimmed
// combined output.
func (w *Workspace) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if w.dir != "" {
		cmd.Dir = w.dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s: %w", args[0], strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// CurrentBranch returns the name of the currently checked out branch.
// Returns "HEAD" when detached.
func (w *Workspace) CurrentBranch(ctx context.Context) (string, error) {
	return w.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// Fetch updates remote tracking refs from origin.
func (w *Workspace) Fetch(ctx context.Context) error {
	_, err := w.git(ctx, "fetch", "origin")
	return err
}

// HardReset resets the working tree to the given ref, discarding local
// changes.
func (w *Workspace) HardReset(ctx context.Context, ref string) error {
	_, err := w.git(ctx, "reset", "--hard", ref)
	return err
}

// RunPostRebaseHook executes the repo-local .shepherd/post-rebase hook if
// one exists and is executable. Repos use it to refresh generated files
// after the branch history is rewritten. A missing or non-executable hook
// is not an error.
func (w *Workspace) RunPostRebaseHook(ctx context.Context) error {
	dir := w.dir
	if dir == "" {
		dir = "."
	}
	hook := filepath.Join(dir, HookDir, "post-rebase")

	info, err := os.Stat(hook)
	if err != nil || info.IsDir() {
		return nil
	}
	if info.Mode().Perm()&0111 == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, hook)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("post-rebase hook: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

// OriginOwnerRepo parses the owner and repository name from the origin
// remote URL. Only github.com remotes are accepted.
func (w *Workspace) OriginOwnerRepo(ctx context.Context) (string, string, error) {
	remote, err := w.git(ctx, "remote", "get-url", "origin")
	if err != nil {
		return "", "", err
	}
	return splitOwnerRepo(remote)
}

// splitOwnerRepo extracts owner and repo from a normalized github.com
// remote URL.
func splitOwnerRepo(remote string) (string, string, error) {
	normalized := normalizeGitURL(remote)
	parts := strings.Split(normalized, "/")
	if len(parts) < 3 || parts[0] != "github.com" {
		return "", "", fmt.Errorf("origin remote %q is not a github.com repository", remote)
	}
	return parts[1], parts[2], nil
}

// normalizeGitURL normalizes a git URL for parsing.
// Strips the .git suffix and reduces SSH/HTTPS forms to host/owner/repo.
func normalizeGitURL(url string) string {
	url = strings.TrimSpace(url)
	url = strings.TrimSuffix(url, ".git")

	// Handle SSH URLs: git@host:owner/repo → host/owner/repo
	if strings.HasPrefix(url, "git@") {
		url = strings.TrimPrefix(url, "git@")
		url = strings.Replace(url, ":", "/", 1)
	}

	// Handle HTTPS URLs: https://host/owner/repo → host/owner/repo
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")

	// Normalize trailing slash
	url = strings.TrimSuffix(url, "/")

	return strings.ToLower(url)
}
