package monitor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/alanmeadows/shepherd/internal/provider"
)

// threadKey returns the content hash identifying a review thread by its
// file path and comment body. Threads with an empty path or body are not
// hashable and get an empty key, which callers must skip; hashing blanks
// would make every anchorless thread collide with every other.
func threadKey(path, body string) string {
	if path == "" || body == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(path + ":" + body))
	return hex.EncodeToString(sum[:])
}

// resolvedThreadKeys returns the content hashes of all currently resolved
// review threads. Captured just before a rebase so that threads the rebase
// recreates can be recognized afterwards.
func (m *Monitor) resolvedThreadKeys(ctx context.Context, number int) (map[string]bool, error) {
	threads, err := m.reviewThreads(ctx, number)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]bool)
	for _, th := range threads {
		if !th.IsResolved || len(th.Comments) == 0 {
			continue
		}
		if key := threadKey(th.Path, th.Comments[0].Body); key != "" {
			keys[key] = true
		}
	}
	return keys, nil
}

// resolveDuplicateThreads re-resolves review threads that a rebase brought
// back as unresolved copies. A thread is a duplicate when its content hash
// was resolved before the rebase and its first comment was authored by an
// automated reviewer. Human threads are never auto-resolved, hash match or
// not. Returns how many threads were resolved and their hashes.
func (m *Monitor) resolveDuplicateThreads(ctx context.Context, number int, preRebase map[string]bool) (int, map[string]bool, error) {
	resolved := make(map[string]bool)
	if len(preRebase) == 0 {
		return 0, resolved, nil
	}

	threads, err := m.reviewThreads(ctx, number)
	if err != nil {
		return 0, resolved, err
	}

	count := 0
	for _, th := range threads {
		if th.IsResolved || len(th.Comments) == 0 {
			continue
		}
		first := th.Comments[0]
		key := threadKey(th.Path, first.Body)
		if key == "" || !preRebase[key] {
			continue
		}
		if !m.isAutomatedReviewer(first.Author) {
			continue
		}
		if err := m.backend.ResolveThread(ctx, th.ID); err != nil {
			slog.Warn("failed to resolve duplicate review thread", "pr", number, "thread", th.ID, "error", err)
			continue
		}
		slog.Debug("resolved duplicate review thread", "pr", number, "thread", th.ID, "path", th.Path)
		resolved[key] = true
		count++
	}
	return count, resolved, nil
}

// filterDuplicateComments drops automated-reviewer comments whose content
// hash is in duplicates. Human comments and comments without a path or
// body always pass through.
func (m *Monitor) filterDuplicateComments(comments []provider.ReviewComment, duplicates map[string]bool) []provider.ReviewComment {
	if len(duplicates) == 0 {
		return comments
	}

	kept := make([]provider.ReviewComment, 0, len(comments))
	for _, c := range comments {
		key := threadKey(c.Path, c.Body)
		if key != "" && duplicates[key] && m.isAutomatedReviewer(c.Author) {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}
