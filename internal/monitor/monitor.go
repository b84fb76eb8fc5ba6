// Package monitor implements the pull request watch engine: a polling
// state machine that rebases PRs that fall behind their base, retries a
// stuck automated reviewer, deduplicates review threads recreated by a
// rebase, and recreates PRs whose review request has stalled. It supports
// watching a single PR to a terminal result or several PRs concurrently
// with first-event-wins semantics.
package monitor

import (
	"context"
	"time"

	"github.com/alanmeadows/shepherd/internal/provider"
)

// Options configure a Monitor. Zero values select the defaults.
type Options struct {
	// PollInterval is the sleep between poll iterations.
	PollInterval time.Duration
	// PendingTimeout is how long an automated reviewer may sit in the
	// pending list before the PR is recreated to re-trigger the review.
	PendingTimeout time.Duration
	// RetryWaitInterval is the sleep between re-engagement checks after a
	// reviewer retry request.
	RetryWaitInterval time.Duration
	// AsyncReviewDelay is the settle wait before declaring success on the
	// first clean poll after a rebase.
	AsyncReviewDelay time.Duration
	// MaxReviewerRetries bounds re-review requests to an erroring reviewer.
	MaxReviewerRetries int
	// MaxRetryWaitPolls bounds re-engagement checks per retry request.
	MaxRetryWaitPolls int
	// MaxPRRecreates bounds PR recreation attempts per watch.
	MaxPRRecreates int
	// MaxFetchFailures bounds consecutive state-fetch failures tolerated
	// before the watch gives up.
	MaxFetchFailures int
	// AutomatedReviewers are the identities treated as bot reviewers.
	// Matching is a case-insensitive substring test against logins.
	AutomatedReviewers []string
	// RetryReviewer is the login passed to the platform when re-requesting
	// a review.
	RetryReviewer string
	// LocalSync enables resetting the local checkout after a remote rebase.
	LocalSync bool
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 15 * time.Second
	}
	if o.PendingTimeout <= 0 {
		o.PendingTimeout = 5 * time.Minute
	}
	if o.RetryWaitInterval <= 0 {
		o.RetryWaitInterval = 5 * time.Second
	}
	if o.AsyncReviewDelay <= 0 {
		o.AsyncReviewDelay = 10 * time.Second
	}
	if o.MaxReviewerRetries <= 0 {
		o.MaxReviewerRetries = 3
	}
	if o.MaxRetryWaitPolls <= 0 {
		o.MaxRetryWaitPolls = 4
	}
	if o.MaxPRRecreates <= 0 {
		o.MaxPRRecreates = 1
	}
	if o.MaxFetchFailures <= 0 {
		o.MaxFetchFailures = 3
	}
	if len(o.AutomatedReviewers) == 0 {
		o.AutomatedReviewers = []string{"copilot"}
	}
	if o.RetryReviewer == "" {
		o.RetryReviewer = "copilot-pull-request-reviewer[bot]"
	}
	return o
}

// Monitor watches pull requests through a provider backend.
type Monitor struct {
	backend      provider.Backend
	opts         Options
	git          LocalRepo
	onTransition func(TransitionEvent)
}

// New creates a Monitor for the given backend.
func New(backend provider.Backend, opts Options) *Monitor {
	return &Monitor{backend: backend, opts: opts.withDefaults()}
}

// SetLocalRepo attaches a local checkout to sync after remote rebases.
func (m *Monitor) SetLocalRepo(r LocalRepo) {
	m.git = r
}

// SetTransitionHandler registers a callback invoked for every significant
// watch transition, after the transition has been logged.
func (m *Monitor) SetTransitionHandler(fn func(TransitionEvent)) {
	m.onTransition = fn
}

// sleep waits for d or until the context is done, whichever comes first.
func (m *Monitor) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
