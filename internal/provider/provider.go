// Package provider defines the hosting platform interface consumed by the
// monitor engine, plus the failure classification tables shared by all
// callers that need to interpret platform API errors.
package provider

import "context"

// Normalized check run states reported by CheckRuns.
const (
	CheckSuccess    = "success"
	CheckFailure    = "failure"
	CheckPending    = "pending"
	CheckInProgress = "in_progress"
	CheckCancelled  = "cancelled"
	CheckSkipped    = "skipped"
)

// Backend is the interface for pull request hosting platforms.
// Implementations handle platform-specific API calls for the monitor's
// read and corrective operations: merge state, requested reviewers,
// check runs, review threads, rebases, and PR recreation.
type Backend interface {
	// Name returns the short identifier for this backend (e.g., "github").
	Name() string

	// PullRequest retrieves metadata for a pull request by number.
	PullRequest(ctx context.Context, number int) (*PullRequest, error)

	// MergeState returns the platform's raw merge state string for a pull
	// request (e.g., "clean", "behind", "dirty", "blocked").
	MergeState(ctx context.Context, number int) (string, error)

	// RequestedReviewers returns the logins of reviewers whose review is
	// still pending on a pull request.
	RequestedReviewers(ctx context.Context, number int) ([]string, error)

	// CheckRuns returns the check runs for the head commit of a pull
	// request, with each state normalized to one of the Check* constants.
	CheckRuns(ctx context.Context, number int) ([]CheckRun, error)

	// ReviewThreads returns the review threads on a pull request, including
	// resolution state and the comments in each thread.
	ReviewThreads(ctx context.Context, number int) ([]ReviewThread, error)

	// ReviewComments returns the flat list of inline review comments on a
	// pull request. Serves as a degraded substitute for ReviewThreads when
	// the thread query is rate limited.
	ReviewComments(ctx context.Context, number int) ([]ReviewComment, error)

	// RequestRebase asks the platform to update the PR branch with the
	// latest commits from the base branch.
	RequestRebase(ctx context.Context, number int) error

	// ResolveThread marks a review thread as resolved.
	ResolveThread(ctx context.Context, threadID string) error

	// RequestReviewer re-requests a review from the given reviewer login.
	RequestReviewer(ctx context.Context, number int, reviewer string) error

	// RecreatePR closes a pull request and opens a replacement with the
	// same branches, title, and description.
	RecreatePR(ctx context.Context, number int) (*RecreateResult, error)
}

// PullRequest contains metadata about a pull request.
type PullRequest struct {
	// Number is the pull request number.
	Number int
	// Title is the pull request title.
	Title string
	// Body is the pull request description text.
	Body string
	// State is the current PR state (e.g., "open", "closed").
	State string
	// Merged indicates whether the pull request has been merged.
	Merged bool
	// HeadRef is the branch being merged from.
	HeadRef string
	// BaseRef is the branch being merged into.
	BaseRef string
	// HeadSHA is the commit SHA at the tip of the PR branch.
	HeadSHA string
	// Author is the login of the PR author.
	Author string
	// URL is the web URL to view the pull request.
	URL string
}

// CheckRun describes a single CI check attached to the PR head commit.
type CheckRun struct {
	// Name is the check name as shown in the PR checks tab.
	Name string
	// State is the normalized check state, one of the Check* constants.
	State string
}

// ReviewThread represents a review conversation anchored to a file in the diff.
type ReviewThread struct {
	// ID is the platform's opaque thread identifier, usable with ResolveThread.
	ID string
	// Path is the file path the thread is anchored to (empty for threads
	// whose anchor was lost, e.g. outdated diffs).
	Path string
	// IsResolved indicates whether the thread has been marked resolved.
	IsResolved bool
	// Comments are the comments in the thread, oldest first.
	Comments []ThreadComment
}

// ThreadComment is a single comment within a review thread.
type ThreadComment struct {
	// Author is the login of the comment author.
	Author string
	// Body is the comment text content.
	Body string
}

// ReviewComment is an inline review comment from the flat comment listing.
type ReviewComment struct {
	// ID is the comment identifier.
	ID int64
	// Author is the login of the comment author.
	Author string
	// Path is the file path the comment is anchored to.
	Path string
	// Body is the comment text content.
	Body string
}

// RecreateResult describes the outcome of a successful RecreatePR call.
type RecreateResult struct {
	// NewNumber is the number of the replacement pull request.
	NewNumber int
	// Message is a human-readable summary of what was done.
	Message string
}
