package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanmeadows/shepherd/internal/provider"
)

// reviewerErrored reports whether the automated reviewer's most recent
// comment says its review failed. Only the latest automated comment
// decides: a successful re-review supersedes earlier error notices.
func (m *Monitor) reviewerErrored(ctx context.Context, number int) bool {
	comments, err := m.backend.ReviewComments(ctx, number)
	if err != nil {
		slog.Debug("cannot fetch comments for reviewer error check", "pr", number, "error", err)
		return false
	}
	for i := len(comments) - 1; i >= 0; i-- {
		if !m.isAutomatedReviewer(comments[i].Author) {
			continue
		}
		return provider.MatchesReviewError(comments[i].Body)
	}
	return false
}

// retryReviewer re-requests the automated reviewer and waits a bounded
// number of short polls for it to re-engage. Returns true once the
// reviewer shows up in the pending list again.
func (m *Monitor) retryReviewer(ctx context.Context, number int) (bool, error) {
	if err := m.backend.RequestReviewer(ctx, number, m.opts.RetryReviewer); err != nil {
		return false, fmt.Errorf("re-requesting reviewer: %w", err)
	}

	for i := 0; i < m.opts.MaxRetryWaitPolls; i++ {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(m.opts.RetryWaitInterval):
		}

		reviewers, err := m.backend.RequestedReviewers(ctx, number)
		if err != nil {
			slog.Debug("reviewer re-engagement check failed", "pr", number, "error", err)
			continue
		}
		for _, r := range reviewers {
			if m.isAutomatedReviewer(r) {
				return true, nil
			}
		}
	}
	return false, nil
}
