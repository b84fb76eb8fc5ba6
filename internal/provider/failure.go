package provider

import "strings"

// FailureKind classifies platform API failures by how callers should react.
type FailureKind int

const (
	// FailureTransient covers failures safe to retry on the next poll.
	FailureTransient FailureKind = iota
	// FailureRateLimit indicates the platform refused the call due to rate
	// limiting. Thread reads degrade to the flat comment API on this kind.
	FailureRateLimit
	// FailureConflict indicates a rebase cannot be performed because the
	// branch conflicts with its base.
	FailureConflict
)

// String returns the kind as a short lowercase label for logging.
func (k FailureKind) String() string {
	switch k {
	case FailureRateLimit:
		return "rate_limit"
	case FailureConflict:
		return "conflict"
	default:
		return "transient"
	}
}

// failurePatterns maps lowercase substrings of platform error text to
// failure kinds. Scanned in order; first match wins. Conflict phrasings
// come first so a conflict inside a longer message is not misread.
var failurePatterns = []struct {
	substr string
	kind   FailureKind
}{
	{"merge conflict", FailureConflict},
	{"not mergeable", FailureConflict},
	{"rebase cannot be performed", FailureConflict},
	{"rate limit", FailureRateLimit},
	{"too many requests", FailureRateLimit},
	{"abuse detection", FailureRateLimit},
}

// ClassifyFailure classifies an error returned by a Backend operation.
// Wrapped errors are matched on their full text, so classification
// survives fmt.Errorf("%w") chains.
func ClassifyFailure(err error) FailureKind {
	if err == nil {
		return FailureTransient
	}
	return ClassifyText(err.Error())
}

// ClassifyText classifies raw platform error text.
func ClassifyText(msg string) FailureKind {
	lower := strings.ToLower(msg)
	for _, p := range failurePatterns {
		if strings.Contains(lower, p.substr) {
			return p.kind
		}
	}
	return FailureTransient
}

// reviewErrorPatterns are lowercase substrings that identify an automated
// reviewer comment announcing a failed review run rather than actual
// review feedback.
var reviewErrorPatterns = []string{
	"wasn't able to review",
	"unable to review",
	"encountered an error",
	"failed to generate a review",
	"review could not be completed",
}

// MatchesReviewError reports whether a comment body announces a failed
// automated review.
func MatchesReviewError(body string) bool {
	lower := strings.ToLower(body)
	for _, p := range reviewErrorPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
