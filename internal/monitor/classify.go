package monitor

import (
	"context"
	"fmt"
	"strings"
)

// CheckOnce fetches the PR's current state and classifies it against the
// previous pending-reviewer list, producing at most one event. A nil event
// with a non-nil state means nothing has settled yet; callers carry the
// returned state's pending reviewers into the next call.
func (m *Monitor) CheckOnce(ctx context.Context, number int, prevPending []string) (*Event, *PRState) {
	st, err := m.fetchState(ctx, number)
	if err != nil {
		return &Event{
			Type:     EventError,
			PRNumber: number,
			Message:  fmt.Sprintf("failed to fetch state for PR #%d: %v", number, err),
		}, nil
	}
	return m.classifyState(ctx, number, st, prevPending), st
}

// classifyState produces at most one event for a snapshot. Evaluation order
// is load-bearing: merge readiness is resolved before review completion,
// and both before CI results.
func (m *Monitor) classifyState(ctx context.Context, number int, st *PRState, prevPending []string) *Event {
	switch st.MergeState {
	case MergeBehind:
		return &Event{
			Type:            EventBehindDetected,
			PRNumber:        number,
			Message:         fmt.Sprintf("PR #%d is behind its base branch and needs a rebase", number),
			SuggestedAction: fmt.Sprintf("gh pr update-branch %d", number),
		}
	case MergeDirty:
		return &Event{
			Type:     EventDirtyDetected,
			PRNumber: number,
			Message:  fmt.Sprintf("PR #%d has merge conflicts that need manual resolution", number),
		}
	}

	if len(prevPending) > 0 && len(st.PendingReviewers) == 0 {
		count := m.reviewCommentCount(ctx, number, nil)
		return &Event{
			Type:     EventReviewCompleted,
			PRNumber: number,
			Message:  fmt.Sprintf("review completed on PR #%d with %d comments", number, count),
			Details:  map[string]any{"comment_count": count},
		}
	}

	switch st.CheckStatus {
	case StatusSuccess:
		return &Event{
			Type:     EventCIPassed,
			PRNumber: number,
			Message:  fmt.Sprintf("all checks passed on PR #%d", number),
		}
	case StatusFailure, StatusCancelled:
		failed := failedCheckNames(st.Checks)
		return &Event{
			Type:     EventCIFailed,
			PRNumber: number,
			Message:  fmt.Sprintf("checks failed on PR #%d: %s", number, strings.Join(failed, ", ")),
			Details:  map[string]any{"failed_checks": failed},
		}
	}

	return nil
}
