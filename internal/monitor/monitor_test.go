package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanmeadows/shepherd/internal/provider"
)

// fakeBackend is a scriptable provider.Backend. Slice fields are consumed
// one entry per call with the last entry repeating; the Fn fields override
// scripted behavior per PR number when set. All access is serialized so
// supervisor tests can share one fake across workers.
type fakeBackend struct {
	mu sync.Mutex

	pr    *provider.PullRequest
	prErr error

	mergeStates   []string
	mergeFailures int
	mergeCalls    int
	mergeFn       func(number int) (string, error)

	reviewerLists  [][]string
	reviewersCalls int
	reviewersFn    func(number int) ([]string, error)

	checkLists  [][]provider.CheckRun
	checksCalls int
	checksFn    func(number int) ([]provider.CheckRun, error)

	threads    []provider.ReviewThread
	threadsErr error

	comments    []provider.ReviewComment
	commentsErr error

	rebaseErr      error
	rebaseFailures int
	rebaseCalls    int

	resolveErr  error
	resolvedIDs []string

	reviewerReqErr   error
	reviewerRequests int

	recreateRes   *provider.RecreateResult
	recreateErr   error
	recreateCalls int
}

var _ provider.Backend = (*fakeBackend)(nil)

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) PullRequest(ctx context.Context, number int) (*provider.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prErr != nil {
		return nil, f.prErr
	}
	if f.pr != nil {
		return f.pr, nil
	}
	return &provider.PullRequest{Number: number, Title: "test PR", HeadRef: "feature/x", BaseRef: "main"}, nil
}

func (f *fakeBackend) MergeState(ctx context.Context, number int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mergeFn != nil {
		return f.mergeFn(number)
	}
	if f.mergeFailures > 0 {
		f.mergeFailures--
		return "", errors.New("temporary read failure")
	}
	i := f.mergeCalls
	f.mergeCalls++
	if len(f.mergeStates) == 0 {
		return "clean", nil
	}
	if i >= len(f.mergeStates) {
		i = len(f.mergeStates) - 1
	}
	return f.mergeStates[i], nil
}

func (f *fakeBackend) RequestedReviewers(ctx context.Context, number int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviewersCalls++
	if f.reviewersFn != nil {
		return f.reviewersFn(number)
	}
	if len(f.reviewerLists) == 0 {
		return nil, nil
	}
	i := f.reviewersCalls - 1
	if i >= len(f.reviewerLists) {
		i = len(f.reviewerLists) - 1
	}
	return f.reviewerLists[i], nil
}

func (f *fakeBackend) CheckRuns(ctx context.Context, number int) ([]provider.CheckRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checksFn != nil {
		return f.checksFn(number)
	}
	if len(f.checkLists) == 0 {
		return nil, nil
	}
	i := f.checksCalls
	f.checksCalls++
	if i >= len(f.checkLists) {
		i = len(f.checkLists) - 1
	}
	return f.checkLists[i], nil
}

func (f *fakeBackend) ReviewThreads(ctx context.Context, number int) ([]provider.ReviewThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threads, f.threadsErr
}

func (f *fakeBackend) ReviewComments(ctx context.Context, number int) ([]provider.ReviewComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.comments, f.commentsErr
}

func (f *fakeBackend) RequestRebase(ctx context.Context, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebaseCalls++
	if f.rebaseFailures > 0 {
		f.rebaseFailures--
		return errors.New("502 bad gateway")
	}
	return f.rebaseErr
}

func (f *fakeBackend) ResolveThread(ctx context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return f.resolveErr
	}
	f.resolvedIDs = append(f.resolvedIDs, threadID)
	return nil
}

func (f *fakeBackend) RequestReviewer(ctx context.Context, number int, reviewer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviewerRequests++
	return f.reviewerReqErr
}

func (f *fakeBackend) RecreatePR(ctx context.Context, number int) (*provider.RecreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recreateCalls++
	if f.recreateErr != nil {
		return nil, f.recreateErr
	}
	if f.recreateRes != nil {
		return f.recreateRes, nil
	}
	return &provider.RecreateResult{NewNumber: number + 1}, nil
}

// fakeRepo records local sync calls.
type fakeRepo struct {
	branch    string
	branchErr error
	fetchErr  error
	resetErr  error
	hookErr   error

	fetchCalls int
	resetRefs  []string
	hookCalls  int
}

var _ LocalRepo = (*fakeRepo)(nil)

func (r *fakeRepo) CurrentBranch(ctx context.Context) (string, error) { return r.branch, r.branchErr }

func (r *fakeRepo) Fetch(ctx context.Context) error {
	r.fetchCalls++
	return r.fetchErr
}

func (r *fakeRepo) HardReset(ctx context.Context, ref string) error {
	r.resetRefs = append(r.resetRefs, ref)
	return r.resetErr
}

func (r *fakeRepo) RunPostRebaseHook(ctx context.Context) error {
	r.hookCalls++
	return r.hookErr
}

// fastOptions keeps the loop tests at millisecond scale.
func fastOptions() Options {
	return Options{
		PollInterval:       time.Millisecond,
		PendingTimeout:     time.Hour,
		RetryWaitInterval:  time.Millisecond,
		AsyncReviewDelay:   time.Millisecond,
		MaxReviewerRetries: 3,
		MaxRetryWaitPolls:  2,
		MaxPRRecreates:     1,
		MaxFetchFailures:   3,
		AutomatedReviewers: []string{"copilot"},
		RetryReviewer:      "copilot-pull-request-reviewer[bot]",
	}
}

func successChecks() [][]provider.CheckRun {
	return [][]provider.CheckRun{{{Name: "build", State: provider.CheckSuccess}}}
}

func pendingChecks() [][]provider.CheckRun {
	return [][]provider.CheckRun{{{Name: "build", State: provider.CheckPending}}}
}

func TestRunRebasesWhenBehind(t *testing.T) {
	f := &fakeBackend{
		mergeStates: []string{"behind", "clean"},
		checkLists:  successChecks(),
	}

	var transitions []string
	m := New(f, fastOptions())
	m.SetTransitionHandler(func(ev TransitionEvent) { transitions = append(transitions, ev.Name) })

	res := m.Run(t.Context(), 42, 5*time.Second)

	require.True(t, res.Success, "message: %s", res.Message)
	assert.Equal(t, 1, res.RebaseCount)
	assert.True(t, res.CIPassed)
	assert.False(t, res.ReviewCompleted)
	assert.Equal(t, 1, f.rebaseCalls)
	assert.Contains(t, res.Message, "rebased 1 time")
	assert.NotContains(t, res.Message, "merge queue")

	assert.Contains(t, transitions, "monitor_start")
	assert.Contains(t, transitions, "rebase")
	assert.Contains(t, transitions, "ci_state_change")
	assert.Contains(t, transitions, "monitor_complete")
}

func TestRunCopilotRetryBound(t *testing.T) {
	f := &fakeBackend{
		reviewerLists: [][]string{{"Copilot"}},
		checkLists:    pendingChecks(),
		comments: []provider.ReviewComment{
			{ID: 1, Author: "copilot-pull-request-reviewer[bot]", Path: "main.go",
				Body: "Copilot wasn't able to review any files in this pull request."},
		},
	}

	m := New(f, fastOptions())
	res := m.Run(t.Context(), 42, 5*time.Second)

	require.False(t, res.Success)
	assert.Contains(t, res.Message, "Copilot review failed")
	assert.Equal(t, 3, f.reviewerRequests)
	assert.Zero(t, f.recreateCalls)
}

func TestRunRecreatesStalledPR(t *testing.T) {
	f := &fakeBackend{
		reviewerLists: [][]string{{"copilot"}},
		checkLists:    pendingChecks(),
		recreateRes:   &provider.RecreateResult{NewNumber: 43, Message: "recreated as #43"},
	}

	opts := fastOptions()
	opts.PollInterval = 5 * time.Millisecond
	opts.PendingTimeout = 20 * time.Millisecond

	m := New(f, opts)
	res := m.Run(t.Context(), 42, 250*time.Millisecond)

	require.False(t, res.Success)
	assert.Equal(t, 1, f.recreateCalls, "recreate must happen exactly once")
	assert.Equal(t, 42, res.Details["original_pr"])
	assert.Equal(t, 43, res.Details["recreated_pr"])
	assert.Equal(t, true, res.Details["timed_out"])
}

func TestRunPendingTimerResets(t *testing.T) {
	f := &fakeBackend{checkLists: pendingChecks()}
	calls := 0
	f.reviewersFn = func(number int) ([]string, error) {
		calls++
		if calls%2 == 1 {
			return []string{"copilot"}, nil
		}
		return nil, nil
	}

	// Each pending episode lasts one 20ms poll, far below the 150ms
	// timeout. Cumulative pending time crosses 150ms many times over, so a
	// recreate here would mean the timer failed to reset.
	opts := fastOptions()
	opts.PollInterval = 20 * time.Millisecond
	opts.PendingTimeout = 150 * time.Millisecond

	m := New(f, opts)
	res := m.Run(t.Context(), 42, 600*time.Millisecond)

	require.False(t, res.Success)
	assert.Zero(t, f.recreateCalls)
	assert.True(t, res.ReviewCompleted)
}

func TestRunDirtyFailsImmediately(t *testing.T) {
	f := &fakeBackend{mergeStates: []string{"dirty"}}

	m := New(f, fastOptions())
	res := m.Run(t.Context(), 42, 5*time.Second)

	require.False(t, res.Success)
	assert.Contains(t, res.Message, "manual resolution")
	assert.Zero(t, f.rebaseCalls)
}

func TestRunRebaseConflictFails(t *testing.T) {
	f := &fakeBackend{
		mergeStates: []string{"behind"},
		rebaseErr:   errors.New("405 rebase cannot be performed because of merge conflicts"),
	}

	m := New(f, fastOptions())
	res := m.Run(t.Context(), 42, 5*time.Second)

	require.False(t, res.Success)
	assert.Contains(t, res.Message, "merge conflicts")
	assert.Zero(t, res.RebaseCount)
	assert.Equal(t, 1, f.rebaseCalls)
}

func TestRunTransientRebaseFailureRetries(t *testing.T) {
	f := &fakeBackend{
		mergeStates:    []string{"behind", "behind", "clean"},
		rebaseFailures: 1,
		checkLists:     successChecks(),
	}

	m := New(f, fastOptions())
	res := m.Run(t.Context(), 42, 5*time.Second)

	require.True(t, res.Success, "message: %s", res.Message)
	assert.Equal(t, 2, f.rebaseCalls)
	assert.Equal(t, 1, res.RebaseCount)
}

func TestRunCIFailureReportsChecks(t *testing.T) {
	f := &fakeBackend{
		checkLists: [][]provider.CheckRun{{
			{Name: "lint", State: provider.CheckFailure},
			{Name: "test", State: provider.CheckSuccess},
			{Name: "deploy", State: provider.CheckCancelled},
		}},
	}

	m := New(f, fastOptions())
	res := m.Run(t.Context(), 42, 5*time.Second)

	require.False(t, res.Success)
	assert.False(t, res.CIPassed)
	assert.Contains(t, res.Message, "lint")
	assert.Contains(t, res.Message, "deploy")
	assert.NotContains(t, res.Message, "test")
	assert.Equal(t, []string{"lint", "deploy"}, res.Details["failed_checks"])
}

func TestRunTimeout(t *testing.T) {
	f := &fakeBackend{checkLists: pendingChecks()}

	opts := fastOptions()
	opts.PollInterval = 5 * time.Millisecond

	m := New(f, opts)
	res := m.Run(t.Context(), 42, 30*time.Millisecond)

	require.False(t, res.Success)
	assert.Contains(t, res.Message, "timed out")
	assert.Equal(t, true, res.Details["timed_out"])
}

func TestRunCancelled(t *testing.T) {
	f := &fakeBackend{checkLists: pendingChecks()}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	m := New(f, fastOptions())
	res := m.Run(ctx, 42, 5*time.Second)

	require.False(t, res.Success)
	assert.Contains(t, res.Message, "cancelled")
}

func TestRunToleratesTransientFetchFailures(t *testing.T) {
	f := &fakeBackend{
		mergeFailures: 2,
		checkLists:    successChecks(),
	}

	m := New(f, fastOptions())
	res := m.Run(t.Context(), 42, 5*time.Second)

	require.True(t, res.Success, "message: %s", res.Message)
}

func TestRunGivesUpAfterRepeatedFetchFailures(t *testing.T) {
	f := &fakeBackend{mergeFailures: 10}

	m := New(f, fastOptions())
	res := m.Run(t.Context(), 42, 5*time.Second)

	require.False(t, res.Success)
	assert.Contains(t, res.Message, "consecutive fetch failures")
}

func TestRunResolvesDuplicatesAfterRebase(t *testing.T) {
	body := "Consider handling the nil case here."
	f := &fakeBackend{
		mergeStates: []string{"behind", "clean"},
		checkLists:  successChecks(),
		threads: []provider.ReviewThread{
			{ID: "orig-1", Path: "parser.go", IsResolved: true,
				Comments: []provider.ThreadComment{{Author: "copilot-pull-request-reviewer[bot]", Body: body}}},
			{ID: "copy-1", Path: "parser.go", IsResolved: false,
				Comments: []provider.ThreadComment{{Author: "copilot-pull-request-reviewer[bot]", Body: body}}},
			{ID: "human-1", Path: "parser.go", IsResolved: false,
				Comments: []provider.ThreadComment{{Author: "alice", Body: body}}},
		},
	}

	m := New(f, fastOptions())
	res := m.Run(t.Context(), 42, 5*time.Second)

	require.True(t, res.Success, "message: %s", res.Message)
	assert.Equal(t, []string{"copy-1"}, f.resolvedIDs, "only the automated duplicate may be resolved")
}

func TestRunSuccessAfterReviewCompleted(t *testing.T) {
	f := &fakeBackend{
		checkLists: successChecks(),
		comments: []provider.ReviewComment{
			{ID: 1, Author: "copilot-pull-request-reviewer[bot]", Path: "a.go", Body: "Nit: rename this."},
			{ID: 2, Author: "copilot-pull-request-reviewer[bot]", Path: "b.go", Body: "Possible off-by-one."},
		},
	}
	calls := 0
	f.reviewersFn = func(number int) ([]string, error) {
		calls++
		if calls == 1 {
			return []string{"copilot"}, nil
		}
		return nil, nil
	}

	m := New(f, fastOptions())
	res := m.Run(t.Context(), 42, 5*time.Second)

	require.True(t, res.Success, "message: %s", res.Message)
	assert.True(t, res.ReviewCompleted)
	assert.Equal(t, 2, res.Details["review_comments"])
	assert.Contains(t, res.Message, "review completed")
}

func TestFormatRebaseSummary(t *testing.T) {
	assert.Empty(t, formatRebaseSummary(0))

	one := formatRebaseSummary(1)
	assert.Contains(t, one, "rebased 1 time")
	assert.NotContains(t, one, "merge queue")

	two := formatRebaseSummary(2)
	assert.Contains(t, two, "merge queue")

	five := formatRebaseSummary(5)
	assert.Contains(t, five, "rebased 5 times")
	assert.Contains(t, five, "merge queue")
}

func TestEmitSanitizesFields(t *testing.T) {
	var got TransitionEvent
	m := New(&fakeBackend{}, fastOptions())
	m.SetTransitionHandler(func(ev TransitionEvent) { got = ev })

	m.emit(TransitionEvent{Name: "monitor_start", PRNumber: 7, Fields: map[string]string{
		"title": "\x1b[31mRed\x1b[0m title\r",
	}})

	assert.Equal(t, "monitor_start", got.Name)
	assert.Equal(t, 7, got.PRNumber)
	assert.Equal(t, "Red title", got.Fields["title"])
}
