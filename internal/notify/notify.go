// Package notify posts watch events to a configured webhook as Adaptive
// Cards. Notification failures are the caller's to log; nothing here is
// load-bearing for the watch itself.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanmeadows/shepherd/internal/config"
	"github.com/alanmeadows/shepherd/internal/logging"
)

// notifyHTTPClient is a dedicated HTTP client for notifications,
// isolated from http.DefaultClient to avoid global state mutation.
var notifyHTTPClient = &http.Client{Timeout: 15 * time.Second}

// Event names match the monitor's transition records, so the allow-list
// in config filters on the same vocabulary the logs use.
const (
	EventWatchStarted  = "monitor_start"
	EventRebase        = "rebase"
	EventCIStateChange = "ci_state_change"
	EventWatchComplete = "monitor_complete"
)

// Payload carries details about a watch event.
type Payload struct {
	Event   string
	PR      int
	Title   string            // PR title
	URL     string            // link to the PR
	Status  string            // "success", "failure", CI state, etc.
	Rebases int               // rebase count (for completion events)
	Error   string            // error summary for failures
	Extra   map[string]string // additional context
}

// Notify sends a notification to the configured webhook.
// Returns nil immediately if no webhook is configured or if the event is
// filtered out.
func Notify(ctx context.Context, cfg *config.NotificationsConfig, payload Payload) error {
	if cfg.WebhookURL == "" {
		return nil
	}

	// Event filtering: if Events is non-empty, only notify for listed events.
	if len(cfg.Events) > 0 {
		allowed := false
		for _, e := range cfg.Events {
			if e == payload.Event {
				allowed = true
				break
			}
		}
		if !allowed {
			slog.Debug("notification event filtered out", "event", payload.Event)
			return nil
		}
	}

	card := buildCard(payload)

	body, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("marshaling notification payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("sending notification", "event", payload.Event, "pr", payload.PR)

	resp, err := notifyHTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	defer resp.Body.Close()

	// Drain the body so the connection can be reused.
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}

	slog.Debug("notification sent successfully", "event", payload.Event)
	return nil
}

// buildCard constructs an Adaptive Card wrapped in the Power Automate
// envelope. PR titles and check output can carry terminal escapes; they
// are stripped before reaching the webhook.
func buildCard(payload Payload) map[string]any {
	headerText := payload.Event
	switch payload.Event {
	case EventWatchStarted:
		headerText = "👀 Watch Started"
	case EventRebase:
		headerText = "🔁 Branch Rebased"
	case EventCIStateChange:
		headerText = "🚦 CI State Changed"
	case EventWatchComplete:
		if payload.Status == "success" {
			headerText = "✅ PR Ready"
		} else {
			headerText = "❌ Watch Failed"
		}
	}

	// Build facts.
	facts := []map[string]any{}
	if payload.PR > 0 {
		facts = append(facts, map[string]any{"title": "PR", "value": fmt.Sprintf("#%d", payload.PR)})
	}
	if payload.Title != "" {
		facts = append(facts, map[string]any{"title": "Title", "value": logging.Sanitize(payload.Title)})
	}
	if payload.Status != "" {
		facts = append(facts, map[string]any{"title": "Status", "value": logging.Sanitize(payload.Status)})
	}
	if payload.Rebases > 0 {
		facts = append(facts, map[string]any{"title": "Rebases", "value": fmt.Sprintf("%d", payload.Rebases)})
	}
	for k, v := range payload.Extra {
		facts = append(facts, map[string]any{"title": k, "value": logging.Sanitize(v)})
	}

	// Build card body.
	cardBody := []map[string]any{
		{
			"type":   "TextBlock",
			"size":   "Medium",
			"weight": "Bolder",
			"text":   headerText,
		},
	}

	if len(facts) > 0 {
		cardBody = append(cardBody, map[string]any{
			"type":  "FactSet",
			"facts": facts,
		})
	}

	if payload.Error != "" {
		cardBody = append(cardBody, map[string]any{
			"type":   "TextBlock",
			"text":   fmt.Sprintf("⚠️ %s", logging.Sanitize(payload.Error)),
			"color":  "Attention",
			"wrap":   true,
			"weight": "Bolder",
		})
	}

	// Build actions.
	var actions []map[string]any
	if payload.URL != "" {
		actions = append(actions, map[string]any{
			"type":  "Action.OpenUrl",
			"title": "Open",
			"url":   payload.URL,
		})
	}

	card := map[string]any{
		"$schema": "http://adaptivecards.io/schemas/adaptive-card.json",
		"type":    "AdaptiveCard",
		"version": "1.4",
		"body":    cardBody,
	}
	if len(actions) > 0 {
		card["actions"] = actions
	}

	// Wrap in the Power Automate envelope.
	return map[string]any{
		"type": "message",
		"attachments": []map[string]any{
			{
				"contentType": "application/vnd.microsoft.card.adaptive",
				"content":     card,
			},
		},
	}
}
