package monitor

import "github.com/alanmeadows/shepherd/internal/provider"

// Normalized merge states the loop acts on.
const (
	MergeClean   = "clean"
	MergeBehind  = "behind"
	MergeDirty   = "dirty"
	MergeUnknown = "unknown"
)

// Aggregated check status for one snapshot.
const (
	StatusPending   = "pending"
	StatusSuccess   = "success"
	StatusFailure   = "failure"
	StatusCancelled = "cancelled"
)

// Event types produced by classification and by multi-PR watch workers.
const (
	EventBehindDetected  = "BEHIND_DETECTED"
	EventDirtyDetected   = "DIRTY_DETECTED"
	EventReviewCompleted = "REVIEW_COMPLETED"
	EventCIPassed        = "CI_PASSED"
	EventCIFailed        = "CI_FAILED"
	EventError           = "ERROR"
	EventTimeout         = "TIMEOUT"
)

// PRState is one snapshot of a pull request's remote state. A snapshot is
// fetched fresh on every poll; the only state carried between polls is the
// previous pending-reviewer list used for diffing.
type PRState struct {
	MergeState       string
	PendingReviewers []string
	CheckStatus      string
	Checks           []provider.CheckRun
}

// Event is a single discrete observation about a watched pull request.
type Event struct {
	Type            string
	PRNumber        int
	Message         string
	Details         map[string]any
	SuggestedAction string
}

// RebaseResult reports the outcome of one rebase request.
type RebaseResult struct {
	Success      bool
	Conflict     bool
	ErrorMessage string
}

// MonitorResult is the terminal outcome of watching a single pull request.
// Partial progress such as the rebase count is populated even on failure
// or timeout.
type MonitorResult struct {
	Success         bool
	Message         string
	CIPassed        bool
	ReviewCompleted bool
	RebaseCount     int
	Details         map[string]any
}

// PREvent pairs a watched PR with the first event its worker produced.
type PREvent struct {
	PRNumber int
	Event    *Event
	State    *PRState
}
