package monitor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanmeadows/shepherd/internal/provider"
)

func TestReviewerErrored(t *testing.T) {
	errBody := "Copilot wasn't able to review any files in this pull request."

	tests := []struct {
		name     string
		comments []provider.ReviewComment
		want     bool
	}{
		{
			name: "latest automated comment is an error",
			comments: []provider.ReviewComment{
				{Author: "alice", Body: "lgtm"},
				{Author: "copilot-pull-request-reviewer[bot]", Body: errBody},
			},
			want: true,
		},
		{
			name: "successful re-review supersedes earlier error",
			comments: []provider.ReviewComment{
				{Author: "copilot-pull-request-reviewer[bot]", Body: errBody},
				{Author: "copilot-pull-request-reviewer[bot]", Body: "Consider extracting this helper."},
			},
			want: false,
		},
		{
			name: "human comment after the error does not clear it",
			comments: []provider.ReviewComment{
				{Author: "copilot-pull-request-reviewer[bot]", Body: errBody},
				{Author: "alice", Body: "thanks, retrying"},
			},
			want: true,
		},
		{
			name:     "no comments",
			comments: nil,
			want:     false,
		},
		{
			name: "no automated comments",
			comments: []provider.ReviewComment{
				{Author: "alice", Body: errBody},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeBackend{comments: tt.comments}
			m := New(f, fastOptions())
			assert.Equal(t, tt.want, m.reviewerErrored(t.Context(), 42))
		})
	}
}

func TestReviewerErroredFetchFailure(t *testing.T) {
	f := &fakeBackend{commentsErr: errors.New("boom")}

	m := New(f, fastOptions())

	// An unreadable comment list is treated as no error rather than
	// triggering retries on guesswork.
	assert.False(t, m.reviewerErrored(t.Context(), 42))
}

func TestRetryReviewerReengages(t *testing.T) {
	f := &fakeBackend{}
	f.reviewersFn = func(number int) ([]string, error) {
		if f.reviewersCalls >= 2 {
			return []string{"Copilot"}, nil
		}
		return nil, nil
	}

	m := New(f, fastOptions())
	engaged, err := m.retryReviewer(t.Context(), 42)

	require.NoError(t, err)
	assert.True(t, engaged)
	assert.Equal(t, 1, f.reviewerRequests)
}

func TestRetryReviewerGivesUp(t *testing.T) {
	f := &fakeBackend{}

	m := New(f, fastOptions())
	engaged, err := m.retryReviewer(t.Context(), 42)

	require.NoError(t, err)
	assert.False(t, engaged)
	// One re-engagement poll per wait slot, then stop.
	assert.Equal(t, fastOptions().MaxRetryWaitPolls, f.reviewersCalls)
}

func TestRetryReviewerRequestError(t *testing.T) {
	f := &fakeBackend{reviewerReqErr: errors.New("422 reviewer not found")}

	m := New(f, fastOptions())
	engaged, err := m.retryReviewer(t.Context(), 42)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "re-requesting")
	assert.False(t, engaged)
	assert.Zero(t, f.reviewersCalls)
}
