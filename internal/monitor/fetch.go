package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/alanmeadows/shepherd/internal/provider"
)

// fetchState queries merge state, requested reviewers and check runs, and
// normalizes them into one PRState snapshot. The first failure aborts the
// fetch; a partial snapshot is never returned.
func (m *Monitor) fetchState(ctx context.Context, number int) (*PRState, error) {
	mergeState, err := m.backend.MergeState(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("fetching merge state: %w", err)
	}
	reviewers, err := m.backend.RequestedReviewers(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("fetching requested reviewers: %w", err)
	}
	checks, err := m.backend.CheckRuns(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("fetching check runs: %w", err)
	}

	return &PRState{
		MergeState:       normalizeMergeState(mergeState),
		PendingReviewers: reviewers,
		CheckStatus:      AggregateCheckStatus(checks),
		Checks:           checks,
	}, nil
}

// normalizeMergeState maps the platform's mergeable states onto the small
// set the loop acts on. States like blocked or unstable mean the branch
// itself is current, so they normalize to clean.
func normalizeMergeState(s string) string {
	switch strings.ToLower(s) {
	case "behind":
		return MergeBehind
	case "dirty":
		return MergeDirty
	case "clean", "blocked", "unstable", "has_hooks", "draft":
		return MergeClean
	default:
		return MergeUnknown
	}
}

// AggregateCheckStatus folds individual check runs into one status.
// Any failure wins, then cancelled, then pending. Skipped checks are
// conditional steps that did not apply and never block success.
func AggregateCheckStatus(checks []provider.CheckRun) string {
	var hasFailure, hasCancelled, hasPending bool
	for _, c := range checks {
		switch c.State {
		case provider.CheckFailure:
			hasFailure = true
		case provider.CheckCancelled:
			hasCancelled = true
		case provider.CheckPending, provider.CheckInProgress:
			hasPending = true
		}
	}
	switch {
	case hasFailure:
		return StatusFailure
	case hasCancelled:
		return StatusCancelled
	case hasPending:
		return StatusPending
	default:
		return StatusSuccess
	}
}

// failedCheckNames returns the names of checks that failed or were cancelled.
func failedCheckNames(checks []provider.CheckRun) []string {
	var names []string
	for _, c := range checks {
		if c.State == provider.CheckFailure || c.State == provider.CheckCancelled {
			names = append(names, c.Name)
		}
	}
	return names
}

// isAutomatedReviewer reports whether a login belongs to one of the
// configured automated reviewers. The substring match lets "Copilot" and
// "copilot-pull-request-reviewer[bot]" both match a configured "copilot".
func (m *Monitor) isAutomatedReviewer(login string) bool {
	l := strings.ToLower(login)
	for _, a := range m.opts.AutomatedReviewers {
		if a != "" && strings.Contains(l, strings.ToLower(a)) {
			return true
		}
	}
	return false
}

// automatedPending returns the first pending automated reviewer, if any.
func (m *Monitor) automatedPending(st *PRState) (string, bool) {
	for _, r := range st.PendingReviewers {
		if m.isAutomatedReviewer(r) {
			return r, true
		}
	}
	return "", false
}

// reviewThreads fetches review threads, rerouting to the flat comment
// listing when the thread query is rate limited. Fallback threads carry a
// single comment each and are reported unresolved; an error is surfaced
// only when the fallback fails too.
func (m *Monitor) reviewThreads(ctx context.Context, number int) ([]provider.ReviewThread, error) {
	threads, err := m.backend.ReviewThreads(ctx, number)
	if err == nil {
		return threads, nil
	}
	if provider.ClassifyFailure(err) != provider.FailureRateLimit {
		return nil, err
	}

	slog.Warn("review thread query rate limited, using flat comment fallback", "pr", number, "error", err)
	comments, ferr := m.backend.ReviewComments(ctx, number)
	if ferr != nil {
		return nil, fmt.Errorf("fallback comment fetch: %w", ferr)
	}
	threads = make([]provider.ReviewThread, 0, len(comments))
	for _, c := range comments {
		threads = append(threads, provider.ReviewThread{
			ID:       strconv.FormatInt(c.ID, 10),
			Path:     c.Path,
			Comments: []provider.ThreadComment{{Author: c.Author, Body: c.Body}},
		})
	}
	return threads, nil
}

// reviewCommentCount returns the number of review comments on the PR after
// dropping comments duplicated by a rebase.
func (m *Monitor) reviewCommentCount(ctx context.Context, number int, duplicates map[string]bool) int {
	comments, err := m.backend.ReviewComments(ctx, number)
	if err != nil {
		slog.Debug("cannot fetch review comments for count", "pr", number, "error", err)
		return 0
	}
	return len(m.filterDuplicateComments(comments, duplicates))
}
