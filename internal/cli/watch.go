package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/alanmeadows/shepherd/internal/bridge"
	"github.com/alanmeadows/shepherd/internal/monitor"
	"github.com/alanmeadows/shepherd/internal/notify"
	ghbackend "github.com/alanmeadows/shepherd/internal/provider/github"
	"github.com/alanmeadows/shepherd/internal/repo"
	"github.com/alanmeadows/shepherd/internal/store"
)

var (
	watchTimeoutMin int
	watchMulti      bool
	watchListen     string
)

var watchCmd = &cobra.Command{
	Use:   "watch [pr ...]",
	Short: "Watch pull requests until they are ready",
	Long: `Watch one or more pull requests until they reach a terminal state.

A single PR gets the full treatment: shepherd rebases it whenever it
falls behind its base branch, retries the Copilot reviewer when its
review errors out, resolves review threads a rebase duplicated, and
recreates the PR when a review request stays pending too long. The
command exits 0 when the PR ends up green.

With several PRs (or --multi) shepherd watches them all concurrently
and returns as soon as the first one produces an event. No corrective
actions are taken in this mode; it answers "which of these moved
first?". With no arguments every tracked PR is watched this way.

PR identifiers accept bare numbers, owner/repo#number, and full GitHub
URLs. Bare numbers resolve against github.owner/github.repo from the
config, or the origin remote of the current directory.`,
	Example: `  shepherd watch 42
  shepherd watch 42 --timeout 60
  shepherd watch 12 34 56
  shepherd watch --multi
  shepherd watch acme/widgets#42
  shepherd watch https://github.com/acme/widgets/pull/42 --listen :8090`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		timeout := appConfig.Monitor.ParseTimeout()
		if cmd.Flags().Changed("timeout") {
			timeout = time.Duration(watchTimeoutMin) * time.Minute
		}

		refs, err := resolveWatchTargets(ctx, args)
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			return fmt.Errorf("no PRs to watch; add one with: shepherd pr add <url>")
		}

		// One backend per invocation, so every target must live in the
		// same repository.
		owner, repoName := refs[0].Owner, refs[0].Repo
		for _, ref := range refs[1:] {
			if ref.Owner != owner || ref.Repo != repoName {
				return fmt.Errorf("cannot watch PRs across repositories in one run (%s/%s vs %s/%s)",
					owner, repoName, ref.Owner, ref.Repo)
			}
		}

		backend := ghbackend.NewBackend(owner, repoName, appConfig.GitHub.Token)

		listen := watchListen
		if listen == "" {
			listen = appConfig.Bridge.Listen
		}
		var br *bridge.Bridge
		if listen != "" {
			br = bridge.New()
			go func() {
				if err := bridge.Serve(ctx, listen, br); err != nil {
					slog.Warn("event bridge stopped", "error", err)
				}
			}()
		}

		numbers := make([]int, len(refs))
		for i, ref := range refs {
			numbers[i] = ref.Number
		}

		if useMultiWatch(len(args), len(numbers), watchMulti) {
			return watchManyPRs(ctx, cmd, backend, owner, repoName, numbers, timeout, br)
		}
		return watchOnePR(ctx, cmd, backend, owner, repoName, numbers[0], timeout, br)
	},
}

// useMultiWatch picks between the corrective single-PR watch and the
// concurrent first-event watch. The no-argument registry form is always
// concurrent, even when only one PR is tracked: its question is "which
// tracked PR moved first", not "shepherd this PR home".
func useMultiWatch(argCount, targets int, multiFlag bool) bool {
	return multiFlag || argCount == 0 || targets > 1
}

func init() {
	watchCmd.Flags().IntVar(&watchTimeoutMin, "timeout", 30, "Overall watch timeout in minutes")
	watchCmd.Flags().BoolVar(&watchMulti, "multi", false, "Watch concurrently and return on the first event")
	watchCmd.Flags().StringVar(&watchListen, "listen", "", "Serve watch events over WebSocket on this address (e.g. :8090); overrides bridge.listen")
	rootCmd.AddCommand(watchCmd)
}

// resolveWatchTargets turns command arguments into PR references. With no
// arguments, every tracked PR in the registry is a target.
func resolveWatchTargets(ctx context.Context, args []string) ([]ghbackend.PRRef, error) {
	if len(args) == 0 {
		tracked, err := store.ListPRs()
		if err != nil {
			return nil, fmt.Errorf("listing tracked PRs: %w", err)
		}
		refs := make([]ghbackend.PRRef, 0, len(tracked))
		for _, pr := range tracked {
			refs = append(refs, ghbackend.PRRef{Owner: pr.Owner, Repo: pr.Repo, Number: pr.Number})
		}
		return refs, nil
	}

	defOwner, defRepo := defaultOwnerRepo(ctx)
	refs := make([]ghbackend.PRRef, 0, len(args))
	for _, arg := range args {
		ref, err := ghbackend.ParsePRRef(arg, defOwner, defRepo)
		if err != nil {
			return nil, err
		}
		if ref.Owner == "" || ref.Repo == "" {
			return nil, fmt.Errorf("cannot resolve a repository for %q; run inside a checkout, set github.owner and github.repo, or use owner/repo#%d", arg, ref.Number)
		}
		refs = append(refs, *ref)
	}
	return refs, nil
}

// defaultOwnerRepo resolves the repository bare PR numbers count against:
// explicit config first, then the origin remote of the current directory.
func defaultOwnerRepo(ctx context.Context) (string, string) {
	if appConfig.GitHub.Owner != "" && appConfig.GitHub.Repo != "" {
		return appConfig.GitHub.Owner, appConfig.GitHub.Repo
	}
	owner, name, err := repo.NewWorkspace("").OriginOwnerRepo(ctx)
	if err != nil {
		slog.Debug("could not detect repository from origin remote", "error", err)
		return "", ""
	}
	return owner, name
}

// monitorOptions maps the merged config onto the monitor's knobs.
func monitorOptions() monitor.Options {
	mc := appConfig.Monitor
	return monitor.Options{
		PollInterval:       mc.ParsePollInterval(),
		PendingTimeout:     mc.ParsePendingTimeout(),
		RetryWaitInterval:  mc.ParseRetryWaitInterval(),
		AsyncReviewDelay:   mc.ParseAsyncReviewerDelay(),
		MaxReviewerRetries: mc.MaxReviewerRetries,
		MaxRetryWaitPolls:  mc.MaxRetryWaitPolls,
		MaxPRRecreates:     mc.MaxPRRecreates,
		MaxFetchFailures:   mc.MaxFetchFailures,
		AutomatedReviewers: mc.AutomatedReviewers,
		RetryReviewer:      mc.RetryReviewer,
		LocalSync:          mc.IsLocalSyncEnabled(),
	}
}

func watchOnePR(ctx context.Context, cmd *cobra.Command, backend *ghbackend.Backend, owner, repoName string, number int, timeout time.Duration, br *bridge.Bridge) error {
	pr, err := backend.PullRequest(ctx, number)
	if err != nil {
		return fmt.Errorf("fetching PR %s/%s#%d: %w", owner, repoName, number, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s/%s#%d: %s (%s → %s)\n",
		owner, repoName, number, pr.Title, pr.HeadRef, pr.BaseRef)

	m := monitor.New(backend, monitorOptions())
	m.SetLocalRepo(repo.NewWorkspace(""))
	m.SetTransitionHandler(func(ev monitor.TransitionEvent) {
		if br != nil {
			br.Broadcast(bridge.MsgTransition, bridge.TransitionPayload{
				PR:     ev.PRNumber,
				Name:   ev.Name,
				Fields: ev.Fields,
			})
		}
		forwardTransition(ev)
	})

	res := m.Run(ctx, number, timeout)

	if br != nil {
		br.Broadcast(bridge.MsgResult, bridge.ResultPayload{
			PR:              number,
			Success:         res.Success,
			Message:         res.Message,
			Rebases:         res.RebaseCount,
			CIPassed:        res.CIPassed,
			ReviewCompleted: res.ReviewCompleted,
		})
	}

	notifyCompletion(pr.Title, pr.URL, number, res)
	recordOutcome(owner, repoName, number, resultKind(res), res.Message, res)
	printResult(cmd, res)

	if !res.Success {
		return fmt.Errorf("watch failed: %s", res.Message)
	}
	return nil
}

func watchManyPRs(ctx context.Context, cmd *cobra.Command, backend *ghbackend.Backend, owner, repoName string, numbers []int, timeout time.Duration, br *bridge.Bridge) error {
	fmt.Fprintf(cmd.OutOrStdout(), "Watching %d PRs in %s/%s until the first event (timeout %s)\n",
		len(numbers), owner, repoName, timeout)

	events := monitor.WatchMany(ctx, backend, numbers, timeout, monitorOptions())
	if len(events) == 0 {
		return fmt.Errorf("watch ended without an event")
	}

	ok := true
	for _, ev := range events {
		printEvent(cmd, ev)
		if br != nil {
			br.Broadcast(bridge.MsgEvent, bridge.EventPayload{
				PR:      ev.PRNumber,
				Type:    ev.Event.Type,
				Message: ev.Event.Message,
			})
		}
		recordOutcome(owner, repoName, ev.PRNumber, eventKind(ev.Event.Type), ev.Event.Message, nil)
		if ev.Event.Type != monitor.EventCIPassed && ev.Event.Type != monitor.EventReviewCompleted {
			ok = false
		}
	}
	if !ok {
		return fmt.Errorf("watch ended on a non-passing event")
	}
	return nil
}

// forwardTransition relays an intermediate transition to the configured
// webhook, fire and forget. The terminal notification is sent
// synchronously by notifyCompletion so it survives process exit.
func forwardTransition(ev monitor.TransitionEvent) {
	if appConfig.Notifications.WebhookURL == "" || ev.Name == notify.EventWatchComplete {
		return
	}
	payload := notify.Payload{
		Event: ev.Name,
		PR:    ev.PRNumber,
		Extra: ev.Fields,
	}
	go func() {
		if err := notify.Notify(context.Background(), &appConfig.Notifications, payload); err != nil {
			slog.Warn("notification failed", "event", payload.Event, "error", err)
		}
	}()
}

func notifyCompletion(title, url string, number int, res *monitor.MonitorResult) {
	if appConfig.Notifications.WebhookURL == "" {
		return
	}
	status := "failure"
	if res.Success {
		status = "success"
	}
	p := notify.Payload{
		Event:   notify.EventWatchComplete,
		PR:      number,
		Title:   title,
		URL:     url,
		Status:  status,
		Rebases: res.RebaseCount,
	}
	if !res.Success {
		p.Error = res.Message
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := notify.Notify(ctx, &appConfig.Notifications, p); err != nil {
		slog.Warn("completion notification failed", "pr", number, "error", err)
	}
}

// resultKind maps a watch result onto the registry's last_result vocabulary.
func resultKind(res *monitor.MonitorResult) string {
	switch {
	case res.Success:
		return "ci_passed"
	case res.Details["timed_out"] == true:
		return "timeout"
	case res.Details["failed_checks"] != nil:
		return "ci_failed"
	default:
		return "error"
	}
}

// eventKind lowercases a PR event type for the registry ("CI_PASSED" →
// "ci_passed").
func eventKind(eventType string) string {
	return strings.ToLower(eventType)
}

// recordOutcome stamps the registry entry for a tracked PR. PRs watched
// without being tracked are left alone. When the watch recreated the PR,
// the registry entry follows the replacement number.
func recordOutcome(owner, repoName string, number int, kind, message string, res *monitor.MonitorResult) {
	if !store.IsTracked(owner, repoName, number) {
		return
	}
	pr, err := store.LoadPR(owner, repoName, number)
	if err != nil {
		slog.Warn("failed to load tracked PR for update", "pr", number, "error", err)
		return
	}

	if res != nil {
		if newNumber, ok := res.Details["recreated_pr"].(int); ok && newNumber != pr.Number {
			if err := store.DeletePR(pr.Owner, pr.Repo, pr.Number); err != nil {
				slog.Warn("failed to drop superseded PR document", "pr", pr.Number, "error", err)
			}
			pr.AppendHistory("recreated", fmt.Sprintf("PR #%d recreated as #%d", pr.Number, newNumber))
			pr.Number = newNumber
		}
	}

	pr.LastChecked = time.Now().UTC()
	pr.LastResult = kind
	pr.AppendHistory(kind, message)
	if err := store.SavePR(pr); err != nil {
		slog.Warn("failed to update tracked PR", "pr", pr.Number, "error", err)
	}
}

func printResult(cmd *cobra.Command, res *monitor.MonitorResult) {
	w := cmd.OutOrStdout()
	label := lipgloss.NewStyle().Bold(true)

	if res.Success {
		mark := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
		fmt.Fprintf(w, "%s %s\n", mark.Render("✓"), res.Message)
	} else {
		mark := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
		fmt.Fprintf(w, "%s %s\n", mark.Render("✗"), res.Message)
	}

	fmt.Fprintf(w, "%s %d\n", label.Render("Rebases:"), res.RebaseCount)
	fmt.Fprintf(w, "%s %t\n", label.Render("CI passed:"), res.CIPassed)
	fmt.Fprintf(w, "%s %t\n", label.Render("Review completed:"), res.ReviewCompleted)
	if n, ok := res.Details["recreated_pr"].(int); ok {
		fmt.Fprintf(w, "%s #%v → #%d\n", label.Render("Recreated:"), res.Details["original_pr"], n)
	}
}

func printEvent(cmd *cobra.Command, ev monitor.PREvent) {
	style := lipgloss.NewStyle().Bold(true)
	switch ev.Event.Type {
	case monitor.EventCIPassed, monitor.EventReviewCompleted:
		style = style.Foreground(lipgloss.Color("10"))
	case monitor.EventCIFailed, monitor.EventError, monitor.EventTimeout:
		style = style.Foreground(lipgloss.Color("9"))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", style.Render(ev.Event.Type), ev.Event.Message)
	if ev.Event.SuggestedAction != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "  next step: %s\n", ev.Event.SuggestedAction)
	}
}
