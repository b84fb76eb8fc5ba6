// Package github implements provider.Backend against the GitHub REST and
// GraphQL APIs.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"

	github_ratelimit "github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/alanmeadows/shepherd/internal/provider"
)

// Backend implements provider.Backend for GitHub.
type Backend struct {
	client    *gh.Client
	gqlOnce   sync.Once
	gqlClient *githubv4.Client
	owner     string
	repo      string
	token     string
}

// NewBackend creates a GitHub backend for the given owner/repo with the
// following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
func NewBackend(owner, repo, token string) *Backend {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimiter := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimiter).WithAuthToken(token)
	return &Backend{
		client: client,
		owner:  owner,
		repo:   repo,
		token:  token,
	}
}

// Name returns "github".
func (b *Backend) Name() string {
	return "github"
}

// PullRequest retrieves metadata for a pull request by number.
func (b *Backend) PullRequest(ctx context.Context, number int) (*provider.PullRequest, error) {
	pr, _, err := b.client.PullRequests.Get(ctx, b.owner, b.repo, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get PR #%d: %w", number, err)
	}
	return &provider.PullRequest{
		Number:  pr.GetNumber(),
		Title:   pr.GetTitle(),
		Body:    pr.GetBody(),
		State:   pr.GetState(),
		Merged:  pr.GetMerged(),
		HeadRef: pr.GetHead().GetRef(),
		BaseRef: pr.GetBase().GetRef(),
		HeadSHA: pr.GetHead().GetSHA(),
		Author:  pr.GetUser().GetLogin(),
		URL:     pr.GetHTMLURL(),
	}, nil
}

// MergeState returns GitHub's mergeable_state for the pull request
// ("clean", "behind", "dirty", "blocked", "unstable", "unknown", ...).
func (b *Backend) MergeState(ctx context.Context, number int) (string, error) {
	pr, _, err := b.client.PullRequests.Get(ctx, b.owner, b.repo, number)
	if err != nil {
		return "", fmt.Errorf("failed to get merge state for PR #%d: %w", number, err)
	}
	return pr.GetMergeableState(), nil
}

// RequestedReviewers returns the logins of users (and slugs of teams) whose
// review is still pending on the pull request.
func (b *Backend) RequestedReviewers(ctx context.Context, number int) ([]string, error) {
	reviewers, _, err := b.client.PullRequests.ListReviewers(ctx, b.owner, b.repo, number, &gh.ListOptions{PerPage: 100})
	if err != nil {
		return nil, fmt.Errorf("failed to list requested reviewers for PR #%d: %w", number, err)
	}
	logins := make([]string, 0, len(reviewers.Users)+len(reviewers.Teams))
	for _, u := range reviewers.Users {
		logins = append(logins, u.GetLogin())
	}
	for _, t := range reviewers.Teams {
		logins = append(logins, t.GetSlug())
	}
	return logins, nil
}

// CheckRuns returns the check runs for the PR head commit with states
// normalized to the provider.Check* constants.
func (b *Backend) CheckRuns(ctx context.Context, number int) ([]provider.CheckRun, error) {
	pr, _, err := b.client.PullRequests.Get(ctx, b.owner, b.repo, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get PR for head SHA: %w", err)
	}
	headSHA := pr.GetHead().GetSHA()
	if headSHA == "" {
		return nil, fmt.Errorf("PR #%d head SHA is empty", number)
	}

	var runs []provider.CheckRun
	checkOpts := &gh.ListCheckRunsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	for {
		checkResult, resp, err := b.client.Checks.ListCheckRunsForRef(ctx, b.owner, b.repo, headSHA, checkOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to list check runs: %w", err)
		}
		for _, cr := range checkResult.CheckRuns {
			runs = append(runs, provider.CheckRun{
				Name:  cr.GetName(),
				State: mapCheckState(cr.GetStatus(), cr.GetConclusion()),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		checkOpts.Page = resp.NextPage
	}
	return runs, nil
}

// mapCheckState normalizes a check run's status/conclusion pair to one of
// the provider.Check* states. Unknown completed conclusions map to skipped
// so they never block a PR.
func mapCheckState(status, conclusion string) string {
	if status != "completed" {
		if status == "in_progress" {
			return provider.CheckInProgress
		}
		// queued, waiting, requested, pending
		return provider.CheckPending
	}
	switch conclusion {
	case "success":
		return provider.CheckSuccess
	case "failure", "timed_out", "action_required":
		return provider.CheckFailure
	case "cancelled":
		return provider.CheckCancelled
	default:
		// neutral, skipped, stale
		return provider.CheckSkipped
	}
}

// ReviewThreads returns the review threads on a pull request via the
// GraphQL API. The REST API does not expose thread resolution state.
func (b *Backend) ReviewThreads(ctx context.Context, number int) ([]provider.ReviewThread, error) {
	gql := b.getGraphQLClient(ctx)

	var query struct {
		Repository struct {
			PullRequest struct {
				ReviewThreads struct {
					Nodes []struct {
						ID         string
						IsResolved bool
						Path       string
						Comments   struct {
							Nodes []struct {
								Body   string
								Author struct {
									Login string
								}
							}
						} `graphql:"comments(first: 50)"`
					}
					PageInfo struct {
						HasNextPage bool
						EndCursor   githubv4.String
					}
				} `graphql:"reviewThreads(first: 50, after: $cursor)"`
			} `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}

	vars := map[string]any{
		"owner":  githubv4.String(b.owner),
		"name":   githubv4.String(b.repo),
		"number": githubv4.Int(number),
		"cursor": (*githubv4.String)(nil),
	}

	var threads []provider.ReviewThread
	for {
		if err := gql.Query(ctx, &query, vars); err != nil {
			return nil, fmt.Errorf("failed to query review threads for PR #%d: %w", number, err)
		}
		for _, node := range query.Repository.PullRequest.ReviewThreads.Nodes {
			thread := provider.ReviewThread{
				ID:         node.ID,
				Path:       node.Path,
				IsResolved: node.IsResolved,
			}
			for _, c := range node.Comments.Nodes {
				thread.Comments = append(thread.Comments, provider.ThreadComment{
					Author: c.Author.Login,
					Body:   c.Body,
				})
			}
			threads = append(threads, thread)
		}
		if !query.Repository.PullRequest.ReviewThreads.PageInfo.HasNextPage {
			break
		}
		vars["cursor"] = githubv4.NewString(query.Repository.PullRequest.ReviewThreads.PageInfo.EndCursor)
	}
	return threads, nil
}

// ReviewComments returns the flat list of inline review comments in
// chronological order.
func (b *Backend) ReviewComments(ctx context.Context, number int) ([]provider.ReviewComment, error) {
	var comments []provider.ReviewComment
	opts := &gh.PullRequestListCommentsOptions{
		Sort:        "created",
		Direction:   "asc",
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	for {
		reviewComments, resp, err := b.client.PullRequests.ListComments(ctx, b.owner, b.repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list review comments for PR #%d: %w", number, err)
		}
		for _, c := range reviewComments {
			comments = append(comments, provider.ReviewComment{
				ID:     c.GetID(),
				Author: c.GetUser().GetLogin(),
				Path:   c.GetPath(),
				Body:   c.GetBody(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return comments, nil
}

// RequestRebase updates the PR branch with the latest base commits via the
// update-branch API. GitHub performs the update asynchronously and responds
// 202 Accepted, which go-github surfaces as AcceptedError.
func (b *Backend) RequestRebase(ctx context.Context, number int) error {
	_, _, err := b.client.PullRequests.UpdateBranch(ctx, b.owner, b.repo, number, nil)
	if err != nil {
		var accepted *gh.AcceptedError
		if errors.As(err, &accepted) {
			return nil
		}
		return fmt.Errorf("failed to update branch for PR #%d: %w", number, err)
	}
	return nil
}

// ResolveThread resolves a review thread using the GitHub GraphQL API.
// threadID must be the thread's node ID (e.g., "PRRT_...").
// REST API cannot resolve threads — GraphQL is required.
func (b *Backend) ResolveThread(ctx context.Context, threadID string) error {
	gql := b.getGraphQLClient(ctx)

	var mutation struct {
		ResolveReviewThread struct {
			Thread struct {
				IsResolved bool
			}
		} `graphql:"resolveReviewThread(input: $input)"`
	}

	input := githubv4.ResolveReviewThreadInput{
		ThreadID: githubv4.ID(threadID),
	}

	if err := gql.Mutate(ctx, &mutation, input, nil); err != nil {
		return fmt.Errorf("failed to resolve review thread: %w", err)
	}

	return nil
}

// RequestReviewer re-requests a review from the given reviewer login.
func (b *Backend) RequestReviewer(ctx context.Context, number int, reviewer string) error {
	_, _, err := b.client.PullRequests.RequestReviewers(ctx, b.owner, b.repo, number, gh.ReviewersRequest{
		Reviewers: []string{reviewer},
	})
	if err != nil {
		return fmt.Errorf("failed to request review from %s on PR #%d: %w", reviewer, number, err)
	}
	return nil
}

// RecreatePR closes a pull request and opens a replacement with the same
// branches, title, and description. Reviewers still pending on the original
// are re-requested on the replacement.
func (b *Backend) RecreatePR(ctx context.Context, number int) (*provider.RecreateResult, error) {
	pr, _, err := b.client.PullRequests.Get(ctx, b.owner, b.repo, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get PR #%d: %w", number, err)
	}

	// Capture pending reviewers before closing the original.
	var pending []string
	reviewers, _, err := b.client.PullRequests.ListReviewers(ctx, b.owner, b.repo, number, &gh.ListOptions{PerPage: 100})
	if err != nil {
		slog.Warn("failed to list reviewers before recreate", "pr", number, "error", err)
	} else {
		for _, u := range reviewers.Users {
			pending = append(pending, u.GetLogin())
		}
	}

	// Close first: GitHub rejects a second open PR for the same head/base pair.
	if _, _, err := b.client.PullRequests.Edit(ctx, b.owner, b.repo, number, &gh.PullRequest{
		State: gh.Ptr("closed"),
	}); err != nil {
		return nil, fmt.Errorf("failed to close PR #%d before recreate: %w", number, err)
	}

	newPR, _, err := b.client.PullRequests.Create(ctx, b.owner, b.repo, &gh.NewPullRequest{
		Title: gh.Ptr(pr.GetTitle()),
		Body:  gh.Ptr(pr.GetBody()),
		Head:  gh.Ptr(pr.GetHead().GetRef()),
		Base:  gh.Ptr(pr.GetBase().GetRef()),
	})
	if err != nil {
		// Try to restore the original so the PR is not lost.
		if _, _, reopenErr := b.client.PullRequests.Edit(ctx, b.owner, b.repo, number, &gh.PullRequest{
			State: gh.Ptr("open"),
		}); reopenErr != nil {
			slog.Warn("failed to reopen original PR after create failure", "pr", number, "error", reopenErr)
		}
		return nil, fmt.Errorf("failed to create replacement for PR #%d: %w", number, err)
	}

	if len(pending) > 0 {
		if _, _, err := b.client.PullRequests.RequestReviewers(ctx, b.owner, b.repo, newPR.GetNumber(), gh.ReviewersRequest{
			Reviewers: pending,
		}); err != nil {
			slog.Warn("failed to re-request reviewers on replacement PR", "pr", newPR.GetNumber(), "error", err)
		}
	}

	return &provider.RecreateResult{
		NewNumber: newPR.GetNumber(),
		Message:   fmt.Sprintf("closed #%d and recreated as #%d", number, newPR.GetNumber()),
	}, nil
}

// getGraphQLClient returns (and lazily creates) the GitHub GraphQL client.
// Thread-safe via sync.Once.
func (b *Backend) getGraphQLClient(ctx context.Context) *githubv4.Client {
	b.gqlOnce.Do(func() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: b.token})
		httpClient := oauth2.NewClient(ctx, ts)
		b.gqlClient = githubv4.NewClient(httpClient)
	})
	return b.gqlClient
}

// PRRef identifies a pull request by repository and number.
type PRRef struct {
	Owner  string
	Repo   string
	Number int
}

// ParsePRRef extracts owner, repo, and PR number from an identifier string.
// Accepts bare numbers (resolved against the given defaults),
// "owner/repo#number", or full GitHub URLs.
func ParsePRRef(id, defaultOwner, defaultRepo string) (*PRRef, error) {
	// Bare number — use the defaults.
	if num, err := strconv.Atoi(id); err == nil {
		return &PRRef{Owner: defaultOwner, Repo: defaultRepo, Number: num}, nil
	}

	// Try "owner/repo#number" format.
	if parts := strings.SplitN(id, "#", 2); len(parts) == 2 {
		ownerRepo := strings.SplitN(parts[0], "/", 2)
		if len(ownerRepo) == 2 {
			num, err := strconv.Atoi(parts[1])
			if err == nil {
				return &PRRef{Owner: ownerRepo[0], Repo: ownerRepo[1], Number: num}, nil
			}
		}
	}

	// Try URL: https://github.com/{owner}/{repo}/pull/{number}
	u, err := url.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid PR identifier: %s", id)
	}

	pathParts := strings.Split(strings.Trim(u.Path, "/"), "/")
	// Pattern: {owner}/{repo}/pull/{number}
	if len(pathParts) >= 4 && pathParts[2] == "pull" {
		num, err := strconv.Atoi(pathParts[3])
		if err != nil {
			return nil, fmt.Errorf("invalid PR number in URL: %s", pathParts[3])
		}
		return &PRRef{Owner: pathParts[0], Repo: pathParts[1], Number: num}, nil
	}

	return nil, fmt.Errorf("could not parse PR identifier: %s", id)
}

// Verify Backend implements provider.Backend at compile time.
var _ provider.Backend = (*Backend)(nil)
