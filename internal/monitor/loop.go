package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// loopState carries the per-invocation mutable state of one watch. Every
// counter, timer and hash set lives here so concurrent watches never share
// mutable state.
type loopState struct {
	number          int
	branch          string
	prevPending     []string
	pendingSince    time.Time // zero while no reviewer is pending
	reviewerRetries int
	recreates       int
	rebaseCount     int
	asyncChecked    bool
	preRebaseKeys   map[string]bool
	duplicateKeys   map[string]bool
	fetchFailures   int
	lastCheckStatus string
	reviewCompleted bool
	details         map[string]any
}

// Run watches a single PR until it reaches a terminal state or the timeout
// elapses. The result always includes partial progress such as the rebase
// count and any recreated PR number, even on failure or timeout.
func (m *Monitor) Run(ctx context.Context, number int, timeout time.Duration) *MonitorResult {
	deadline := time.Now().Add(timeout)

	ls := &loopState{
		number:        number,
		asyncChecked:  true, // no rebase cycle yet
		duplicateKeys: make(map[string]bool),
		details:       make(map[string]any),
	}

	pr, err := m.backend.PullRequest(ctx, number)
	if err != nil {
		return m.finish(ls, false, fmt.Sprintf("failed to fetch PR #%d: %v", number, err))
	}
	ls.branch = pr.HeadRef

	m.emit(TransitionEvent{Name: "monitor_start", PRNumber: number, Fields: map[string]string{
		"title":   pr.Title,
		"branch":  pr.HeadRef,
		"timeout": timeout.String(),
	}})

	for {
		if err := ctx.Err(); err != nil {
			return m.finish(ls, false, fmt.Sprintf("watch cancelled for PR #%d: %v", ls.number, err))
		}
		if time.Now().After(deadline) {
			ls.details["timed_out"] = true
			return m.finish(ls, false, fmt.Sprintf("timed out after %s waiting on PR #%d", timeout, ls.number))
		}

		st, err := m.fetchState(ctx, ls.number)
		if err != nil {
			ls.fetchFailures++
			if ls.fetchFailures >= m.opts.MaxFetchFailures {
				return m.finish(ls, false, fmt.Sprintf("giving up on PR #%d after %d consecutive fetch failures: %v",
					ls.number, ls.fetchFailures, err))
			}
			slog.Warn("state fetch failed, backing off", "pr", ls.number, "attempt", ls.fetchFailures, "error", err)
			m.sleep(ctx, time.Duration(ls.fetchFailures)*m.opts.PollInterval)
			continue
		}
		ls.fetchFailures = 0

		if st.CheckStatus != ls.lastCheckStatus {
			m.emit(TransitionEvent{Name: "ci_state_change", PRNumber: ls.number, Fields: map[string]string{
				"from": ls.lastCheckStatus,
				"to":   st.CheckStatus,
			}})
			ls.lastCheckStatus = st.CheckStatus
		}

		prevPending := ls.prevPending
		ls.prevPending = st.PendingReviewers

		// A pending list going empty means the review finished. Duplicated
		// threads from an earlier rebase reappear once the reviewer is done,
		// so clean those up before counting comments.
		if len(prevPending) > 0 && len(st.PendingReviewers) == 0 {
			ls.reviewCompleted = true
			m.cleanupDuplicates(ctx, ls)
			count := m.reviewCommentCount(ctx, ls.number, ls.duplicateKeys)
			ls.details["review_comments"] = count
			slog.Info("review completed", "pr", ls.number, "reviewers", prevPending, "comments", count)
		}

		// Each pending episode is timed on its own: the timer clears when
		// the pending list empties and restarts on the next non-empty poll.
		if len(st.PendingReviewers) == 0 {
			ls.pendingSince = time.Time{}
		} else if ls.pendingSince.IsZero() {
			ls.pendingSince = time.Now()
		}

		switch st.MergeState {
		case MergeBehind:
			slog.Info("PR is behind its base, requesting rebase", "pr", ls.number, "rebases", ls.rebaseCount)
			keys, err := m.resolvedThreadKeys(ctx, ls.number)
			if err != nil {
				slog.Warn("cannot capture resolved threads before rebase", "pr", ls.number, "error", err)
				keys = make(map[string]bool)
			}
			res := m.rebase(ctx, ls.number, ls.branch)
			if res.Conflict {
				return m.finish(ls, false, fmt.Sprintf("rebase of PR #%d failed with merge conflicts: %s",
					ls.number, res.ErrorMessage))
			}
			if !res.Success {
				slog.Warn("rebase request failed, retrying next poll", "pr", ls.number, "error", res.ErrorMessage)
				m.sleep(ctx, m.opts.PollInterval)
				continue
			}
			ls.rebaseCount++
			ls.preRebaseKeys = keys
			ls.asyncChecked = false
			// Threads duplicated by the rebase itself can be resolved right
			// away; ones the reviewer recreates later are caught when the
			// review completes.
			m.cleanupDuplicates(ctx, ls)
			m.sleep(ctx, m.opts.PollInterval)
			continue

		case MergeDirty:
			return m.finish(ls, false, fmt.Sprintf("PR #%d has merge conflicts that need manual resolution", ls.number))
		}

		if reviewer, ok := m.automatedPending(st); ok && m.reviewerErrored(ctx, ls.number) {
			if ls.reviewerRetries >= m.opts.MaxReviewerRetries {
				return m.finish(ls, false, fmt.Sprintf("Copilot review failed after %d retries", ls.reviewerRetries))
			}
			ls.reviewerRetries++
			slog.Info("automated reviewer errored, re-requesting review",
				"pr", ls.number, "reviewer", reviewer, "attempt", ls.reviewerRetries, "max", m.opts.MaxReviewerRetries)
			engaged, err := m.retryReviewer(ctx, ls.number)
			switch {
			case err != nil:
				slog.Warn("reviewer retry request failed", "pr", ls.number, "error", err)
				m.sleep(ctx, m.opts.RetryWaitInterval)
			case !engaged:
				slog.Warn("reviewer did not re-engage within the wait budget", "pr", ls.number, "attempt", ls.reviewerRetries)
			}
			continue
		}

		// A review request stuck pending usually means the platform lost it;
		// recreating the PR re-triggers the reviewer.
		if _, ok := m.automatedPending(st); ok && !ls.pendingSince.IsZero() &&
			time.Since(ls.pendingSince) > m.opts.PendingTimeout {
			if ls.recreates < m.opts.MaxPRRecreates {
				ls.recreates++
				slog.Warn("automated reviewer stuck pending, recreating PR",
					"pr", ls.number, "pending_for", time.Since(ls.pendingSince).Round(time.Second))
				res, err := m.backend.RecreatePR(ctx, ls.number)
				if err != nil {
					slog.Error("PR recreation failed", "pr", ls.number, "error", err)
				} else {
					slog.Info("PR recreated", "old", ls.number, "new", res.NewNumber)
					ls.details["original_pr"] = ls.number
					ls.details["recreated_pr"] = res.NewNumber
					ls.number = res.NewNumber
					ls.prevPending = nil
					ls.pendingSince = time.Time{}
					m.sleep(ctx, m.opts.PollInterval)
					continue
				}
			}
		}

		if st.CheckStatus == StatusSuccess && len(st.PendingReviewers) == 0 {
			if !ls.asyncChecked {
				// Reviewers are sometimes re-requested a beat after a
				// rebase; hold once and confirm before declaring success.
				ls.asyncChecked = true
				slog.Debug("confirming no late reviewer re-request", "pr", ls.number, "delay", m.opts.AsyncReviewDelay)
				m.sleep(ctx, m.opts.AsyncReviewDelay)
				continue
			}
			return m.finish(ls, true, m.successMessage(ls))
		}

		if st.CheckStatus == StatusFailure || st.CheckStatus == StatusCancelled {
			failed := failedCheckNames(st.Checks)
			ls.details["failed_checks"] = failed
			return m.finish(ls, false, fmt.Sprintf("checks failed on PR #%d: %s", ls.number, strings.Join(failed, ", ")))
		}

		m.sleep(ctx, m.opts.PollInterval)
	}
}

// cleanupDuplicates resolves threads duplicated since the pre-rebase
// capture and folds their hashes into the loop's duplicate set.
func (m *Monitor) cleanupDuplicates(ctx context.Context, ls *loopState) {
	if len(ls.preRebaseKeys) == 0 {
		return
	}
	n, resolved, err := m.resolveDuplicateThreads(ctx, ls.number, ls.preRebaseKeys)
	if err != nil {
		slog.Warn("duplicate thread cleanup failed", "pr", ls.number, "error", err)
		return
	}
	if n > 0 {
		slog.Info("resolved duplicated review threads", "pr", ls.number, "count", n)
	}
	for k := range resolved {
		ls.duplicateKeys[k] = true
	}
}

func (m *Monitor) successMessage(ls *loopState) string {
	msg := fmt.Sprintf("PR #%d is ready: all checks passed", ls.number)
	if ls.reviewCompleted {
		msg += ", review completed"
	}
	return msg + formatRebaseSummary(ls.rebaseCount)
}

// formatRebaseSummary renders the rebase count for the final message. Two
// or more rebases in one watch points at a busy base branch where a merge
// queue would help.
func formatRebaseSummary(n int) string {
	switch {
	case n <= 0:
		return ""
	case n == 1:
		return " (rebased 1 time)"
	default:
		return fmt.Sprintf(" (rebased %d times; consider a merge queue for this repository)", n)
	}
}

func (m *Monitor) finish(ls *loopState, success bool, message string) *MonitorResult {
	res := &MonitorResult{
		Success:         success,
		Message:         message,
		CIPassed:        ls.lastCheckStatus == StatusSuccess,
		ReviewCompleted: ls.reviewCompleted,
		RebaseCount:     ls.rebaseCount,
		Details:         ls.details,
	}
	m.emit(TransitionEvent{Name: "monitor_complete", PRNumber: ls.number, Fields: map[string]string{
		"success": strconv.FormatBool(success),
		"rebases": strconv.Itoa(ls.rebaseCount),
		"message": message,
	}})
	return res
}
