package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// TrackedPR is a pull request registered for watching. Each tracked PR is
// persisted as a markdown document with YAML frontmatter; the body holds a
// human-readable watch history.
type TrackedPR struct {
	Number      int
	Owner       string
	Repo        string
	Branch      string
	Target      string
	Title       string
	URL         string
	Added       time.Time
	LastChecked time.Time
	LastResult  string // ci_passed, ci_failed, review_completed, timeout, error
	Body        string // markdown body (watch history)
}

// AppendHistory appends a timestamped watch outcome to the document body.
func (pr *TrackedPR) AppendHistory(event, message string) {
	if pr.Body == "" {
		pr.Body = "## Watch History\n\n"
	}
	line := fmt.Sprintf("- %s %s", FormatTime(time.Now()), event)
	if message != "" {
		line += ": " + message
	}
	pr.Body += line + "\n"
}

// PRDir returns the global tracked-PR storage directory.
func PRDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			slog.Error("cannot determine home directory; set $HOME or $XDG_DATA_HOME", "error", err)
			os.Exit(1)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "shepherd", "prs")
}

// prFilename generates a filename for a tracked PR document.
func prFilename(owner, repo string, number int) string {
	return fmt.Sprintf("%s__%s__%d.md", owner, repo, number)
}

// prPath returns the full path for a tracked PR document.
func prPath(owner, repo string, number int) string {
	return filepath.Join(PRDir(), prFilename(owner, repo, number))
}

// LoadPR loads a tracked PR document from disk.
func LoadPR(owner, repo string, number int) (*TrackedPR, error) {
	path := prPath(owner, repo, number)
	doc, err := ReadDocument(path)
	if err != nil {
		return nil, fmt.Errorf("reading PR document: %w", err)
	}

	pr := &TrackedPR{}
	pr.Body = doc.Body

	// Map frontmatter fields
	pr.Number = GetInt(doc.Frontmatter, "number")
	pr.Owner = GetString(doc.Frontmatter, "owner")
	pr.Repo = GetString(doc.Frontmatter, "repo")
	pr.Branch = GetString(doc.Frontmatter, "branch")
	pr.Target = GetString(doc.Frontmatter, "target")
	pr.Title = GetString(doc.Frontmatter, "title")
	pr.URL = GetString(doc.Frontmatter, "url")
	pr.Added = GetTime(doc.Frontmatter, "added")
	pr.LastChecked = GetTime(doc.Frontmatter, "last_checked")
	pr.LastResult = GetString(doc.Frontmatter, "last_result")

	return pr, nil
}

// SavePR saves a tracked PR document to disk.
func SavePR(pr *TrackedPR) error {
	fm := map[string]any{
		"number":      pr.Number,
		"owner":       pr.Owner,
		"repo":        pr.Repo,
		"branch":      pr.Branch,
		"target":      pr.Target,
		"title":       pr.Title,
		"url":         pr.URL,
		"added":       FormatTime(pr.Added),
		"last_result": pr.LastResult,
	}
	if !pr.LastChecked.IsZero() {
		fm["last_checked"] = FormatTime(pr.LastChecked)
	}

	doc := &Document{
		Frontmatter: fm,
		Body:        pr.Body,
	}

	path := prPath(pr.Owner, pr.Repo, pr.Number)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating PR directory: %w", err)
	}
	return WithLock(path, DefaultLockTimeout, func() error {
		return WriteDocument(path, doc)
	})
}

// ListPRs returns all tracked PR documents from the global PR directory.
func ListPRs() ([]*TrackedPR, error) {
	dir := PRDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading PR directory: %w", err)
	}

	var prs []*TrackedPR
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		// Parse owner, repo and number from filename: {owner}__{repo}__{number}.md
		name := strings.TrimSuffix(entry.Name(), ".md")
		parts := strings.SplitN(name, "__", 3)
		if len(parts) != 3 {
			continue
		}
		number, err := strconv.Atoi(parts[2])
		if err != nil {
			continue
		}
		pr, err := LoadPR(parts[0], parts[1], number)
		if err != nil {
			slog.Warn("failed to load PR document", "file", entry.Name(), "error", err)
			continue
		}
		prs = append(prs, pr)
	}
	return prs, nil
}

// DeletePR removes a tracked PR document from disk.
func DeletePR(owner, repo string, number int) error {
	path := prPath(owner, repo, number)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing PR document: %w", err)
	}
	return nil
}

// FindPR finds a single tracked PR by number across all repositories.
// If multiple PRs match, returns an error.
func FindPR(number int) (*TrackedPR, error) {
	prs, err := ListPRs()
	if err != nil {
		return nil, err
	}

	var matches []*TrackedPR
	for _, pr := range prs {
		if pr.Number == number {
			matches = append(matches, pr)
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("PR %d is not tracked; add it with: shepherd pr add %d", number, number)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("PR %d is tracked in multiple repositories; specify owner/repo#%d", number, number)
	}
}

// IsTracked reports whether a PR document exists for the given coordinates.
func IsTracked(owner, repo string, number int) bool {
	return Exists(prPath(owner, repo, number))
}
