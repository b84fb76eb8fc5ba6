package config

import "time"

// Config is the top-level shepherd configuration.
type Config struct {
	GitHub        GitHubConfig        `json:"github"`
	Monitor       MonitorConfig       `json:"monitor"`
	Notifications NotificationsConfig `json:"notifications"`
	Bridge        BridgeConfig        `json:"bridge"`
}

// GitHubConfig holds API credentials and the default repository.
// Owner and repo are optional; when empty they are detected from the
// origin remote of the current working directory.
type GitHubConfig struct {
	Token string `json:"token"`
	Owner string `json:"owner,omitempty"`
	Repo  string `json:"repo,omitempty"`
}

// MonitorConfig tunes the PR monitor loop.
type MonitorConfig struct {
	PollInterval       string   `json:"poll_interval"`
	Timeout            string   `json:"timeout"`
	PendingTimeout     string   `json:"pending_timeout"`
	RetryWaitInterval  string   `json:"retry_wait_interval"`
	AsyncReviewerDelay string   `json:"async_reviewer_delay"`
	MaxReviewerRetries int      `json:"max_reviewer_retries"`
	MaxRetryWaitPolls  int      `json:"max_retry_wait_polls"`
	MaxPRRecreates     int      `json:"max_pr_recreates"`
	MaxFetchFailures   int      `json:"max_fetch_failures"`
	AutomatedReviewers []string `json:"automated_reviewers"`
	RetryReviewer      string   `json:"retry_reviewer"`
	LocalSync          *bool    `json:"local_sync"`
}

// ParsePollInterval returns the poll interval as a time.Duration.
func (m MonitorConfig) ParsePollInterval() time.Duration {
	d, err := time.ParseDuration(m.PollInterval)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// ParseTimeout returns the overall monitor timeout as a time.Duration.
func (m MonitorConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(m.Timeout)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// ParsePendingTimeout returns how long a reviewer may stay pending
// before the PR is recreated.
func (m MonitorConfig) ParsePendingTimeout() time.Duration {
	d, err := time.ParseDuration(m.PendingTimeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// ParseRetryWaitInterval returns the sub-poll interval used while
// waiting for a retried reviewer to re-engage.
func (m MonitorConfig) ParseRetryWaitInterval() time.Duration {
	d, err := time.ParseDuration(m.RetryWaitInterval)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// ParseAsyncReviewerDelay returns the settle delay applied before the
// final post-rebase success check.
func (m MonitorConfig) ParseAsyncReviewerDelay() time.Duration {
	d, err := time.ParseDuration(m.AsyncReviewerDelay)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// IsLocalSyncEnabled returns whether the local checkout is synced after
// a remote rebase. Defaults to true when not explicitly set.
func (m MonitorConfig) IsLocalSyncEnabled() bool {
	if m.LocalSync == nil {
		return true
	}
	return *m.LocalSync
}

// boolPtr returns a pointer to the given bool value.
func boolPtr(b bool) *bool {
	return &b
}

// NotificationsConfig holds webhook notification settings.
type NotificationsConfig struct {
	WebhookURL string   `json:"webhook_url"`
	Events     []string `json:"events"`
}

// BridgeConfig holds the websocket event bridge settings.
type BridgeConfig struct {
	Listen string `json:"listen"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Monitor: MonitorConfig{
			PollInterval:       "15s",
			Timeout:            "30m",
			PendingTimeout:     "5m",
			RetryWaitInterval:  "5s",
			AsyncReviewerDelay: "10s",
			MaxReviewerRetries: 3,
			MaxRetryWaitPolls:  4,
			MaxPRRecreates:     1,
			MaxFetchFailures:   3,
			AutomatedReviewers: []string{"copilot"},
			RetryReviewer:      "copilot-pull-request-reviewer[bot]",
			LocalSync:          boolPtr(true),
		},
	}
}
