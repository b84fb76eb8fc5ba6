package monitor

import (
	"context"
	"log/slog"

	"github.com/alanmeadows/shepherd/internal/provider"
)

// LocalRepo is the local checkout the monitor keeps in sync after remote
// rebases. Implemented by repo.Workspace.
type LocalRepo interface {
	CurrentBranch(ctx context.Context) (string, error)
	Fetch(ctx context.Context) error
	HardReset(ctx context.Context, ref string) error
	RunPostRebaseHook(ctx context.Context) error
}

// rebase asks the platform to update the PR branch from its base and
// classifies the outcome. Conflicts are fatal to the watch; other failures
// are retried by the caller on the next poll. On success the local checkout
// is resynced when it is safe to do so.
func (m *Monitor) rebase(ctx context.Context, number int, branch string) RebaseResult {
	m.emit(TransitionEvent{Name: "rebase", PRNumber: number, Fields: map[string]string{
		"branch": branch,
	}})

	if err := m.backend.RequestRebase(ctx, number); err != nil {
		return RebaseResult{
			Conflict:     provider.ClassifyFailure(err) == provider.FailureConflict,
			ErrorMessage: err.Error(),
		}
	}

	m.syncLocal(ctx, number, branch)
	return RebaseResult{Success: true}
}

// syncLocal hard-resets the local checkout to the rebased remote branch,
// but only when that branch is the one actually checked out. Resetting any
// other branch would clobber unrelated local work, most likely the trunk.
// Every step is best effort: the remote rebase already succeeded, so local
// failures are logged and swallowed.
func (m *Monitor) syncLocal(ctx context.Context, number int, branch string) {
	if m.git == nil || !m.opts.LocalSync || branch == "" {
		return
	}

	current, err := m.git.CurrentBranch(ctx)
	if err != nil {
		slog.Warn("cannot determine local branch for post-rebase sync", "pr", number, "error", err)
		return
	}
	if current != branch {
		slog.Debug("local checkout is on a different branch, skipping sync",
			"pr", number, "local", current, "pr_branch", branch)
		return
	}

	if err := m.git.Fetch(ctx); err != nil {
		slog.Warn("post-rebase fetch failed", "pr", number, "error", err)
		return
	}
	if err := m.git.HardReset(ctx, "origin/"+branch); err != nil {
		slog.Warn("post-rebase reset failed", "pr", number, "error", err)
		return
	}
	if err := m.git.RunPostRebaseHook(ctx); err != nil {
		slog.Warn("post-rebase hook failed", "pr", number, "error", err)
		return
	}
	slog.Info("local checkout synced to rebased branch", "pr", number, "branch", branch)
}
