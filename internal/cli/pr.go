package cli

import (
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	ghbackend "github.com/alanmeadows/shepherd/internal/provider/github"
	"github.com/alanmeadows/shepherd/internal/store"
)

var prCmd = &cobra.Command{
	Use:   "pr",
	Short: "Manage tracked pull requests",
	Long: `Add, list, and remove pull requests from the local registry.

Tracked PRs are what "shepherd watch" runs against when invoked without
arguments. Each one is stored as a markdown document whose body keeps a
history of watch outcomes.`,
	Example: `  shepherd pr add https://github.com/org/repo/pull/42
  shepherd pr add 42
  shepherd pr list
  shepherd pr remove 42`,
}

func init() {
	prCmd.AddCommand(prAddCmd)
	prCmd.AddCommand(prListCmd)
	prCmd.AddCommand(prRemoveCmd)
	rootCmd.AddCommand(prCmd)
}

var prAddCmd = &cobra.Command{
	Use:   "add <pr>",
	Short: "Track a pull request",
	Long: `Add a pull request to the local registry.

Accepts a full GitHub URL, owner/repo#number, or a bare number. Bare
numbers resolve against github.owner/github.repo from the config, or
the origin remote of the current directory. Metadata is fetched once
at add time; the watch refreshes it on every run.`,
	Example: `  shepherd pr add https://github.com/org/repo/pull/42
  shepherd pr add acme/widgets#42
  shepherd pr add 42`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		defOwner, defRepo := defaultOwnerRepo(ctx)
		ref, err := ghbackend.ParsePRRef(args[0], defOwner, defRepo)
		if err != nil {
			return err
		}
		if ref.Owner == "" || ref.Repo == "" {
			return fmt.Errorf("cannot resolve a repository for %q; run inside a checkout, set github.owner and github.repo, or use owner/repo#%d", args[0], ref.Number)
		}

		if store.IsTracked(ref.Owner, ref.Repo, ref.Number) {
			fmt.Fprintf(cmd.OutOrStdout(), "Already tracking %s/%s#%d\n", ref.Owner, ref.Repo, ref.Number)
			return nil
		}

		backend := ghbackend.NewBackend(ref.Owner, ref.Repo, appConfig.GitHub.Token)
		prInfo, err := backend.PullRequest(ctx, ref.Number)
		if err != nil {
			return fmt.Errorf("fetching PR: %w", err)
		}

		pr := &store.TrackedPR{
			Number: ref.Number,
			Owner:  ref.Owner,
			Repo:   ref.Repo,
			Branch: prInfo.HeadRef,
			Target: prInfo.BaseRef,
			Title:  prInfo.Title,
			URL:    prInfo.URL,
			Added:  time.Now().UTC(),
		}
		pr.AppendHistory("added", prInfo.Title)

		if err := store.SavePR(pr); err != nil {
			return fmt.Errorf("saving PR document: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Added %s/%s#%d — %s\n", pr.Owner, pr.Repo, pr.Number, pr.Title)
		return nil
	},
}

var prListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked PRs",
	Long: `Display all tracked pull requests in a table.

Shows the PR number, repository, title, branches, and the outcome of
the most recent watch.`,
	Example: `  shepherd pr list`,
	RunE: func(cmd *cobra.Command, args []string) error {
		prs, err := store.ListPRs()
		if err != nil {
			return fmt.Errorf("listing PRs: %w", err)
		}

		if len(prs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tracked PRs. Add one with: shepherd pr add <url>")
			return nil
		}

		headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
		cellStyle := lipgloss.NewStyle().Padding(0, 1)

		rows := make([][]string, 0, len(prs))
		for _, pr := range prs {
			checked := "never"
			if !pr.LastChecked.IsZero() {
				checked = pr.LastChecked.Local().Format("2006-01-02 15:04")
			}
			rows = append(rows, []string{
				fmt.Sprintf("#%d", pr.Number),
				pr.Owner + "/" + pr.Repo,
				truncateStr(pr.Title, 40),
				pr.Branch + " → " + pr.Target,
				pr.LastResult,
				checked,
			})
		}

		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("NUMBER", "REPOSITORY", "TITLE", "BRANCH", "LAST RESULT", "CHECKED").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			})

		fmt.Fprintln(cmd.OutOrStdout(), t)
		return nil
	},
}

var prRemoveCmd = &cobra.Command{
	Use:   "remove [pr ...]",
	Short: "Stop tracking PRs",
	Long: `Remove pull requests from the local registry.

With arguments, removes each named PR. Without arguments, presents an
interactive picker over everything currently tracked. This never
touches the PR on GitHub.`,
	Example: `  shepherd pr remove 42
  shepherd pr remove acme/widgets#42 acme/widgets#43
  shepherd pr remove`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			for _, arg := range args {
				pr, err := resolveTrackedPR(arg)
				if err != nil {
					return err
				}
				if err := store.DeletePR(pr.Owner, pr.Repo, pr.Number); err != nil {
					return fmt.Errorf("removing PR: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s/%s#%d\n", pr.Owner, pr.Repo, pr.Number)
			}
			return nil
		}

		prs, err := store.ListPRs()
		if err != nil {
			return fmt.Errorf("listing PRs: %w", err)
		}
		if len(prs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tracked PRs.")
			return nil
		}

		options := make([]huh.Option[int], 0, len(prs))
		for i, pr := range prs {
			label := fmt.Sprintf("%s/%s#%d — %s", pr.Owner, pr.Repo, pr.Number, truncateStr(pr.Title, 60))
			options = append(options, huh.NewOption(label, i))
		}

		var selected []int
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewMultiSelect[int]().
					Title("Select PRs to remove").
					Options(options...).
					Value(&selected),
			),
		)

		if err := form.Run(); err != nil {
			return fmt.Errorf("selection cancelled: %w", err)
		}

		if len(selected) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No PRs selected — skipping.")
			return nil
		}

		for _, idx := range selected {
			pr := prs[idx]
			if err := store.DeletePR(pr.Owner, pr.Repo, pr.Number); err != nil {
				return fmt.Errorf("removing PR: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s/%s#%d\n", pr.Owner, pr.Repo, pr.Number)
		}
		return nil
	},
}

// resolveTrackedPR maps a PR identifier onto a registry entry. Bare numbers
// are looked up across all tracked repositories.
func resolveTrackedPR(arg string) (*store.TrackedPR, error) {
	ref, err := ghbackend.ParsePRRef(arg, "", "")
	if err != nil {
		return nil, err
	}
	if ref.Owner == "" || ref.Repo == "" {
		return store.FindPR(ref.Number)
	}
	if !store.IsTracked(ref.Owner, ref.Repo, ref.Number) {
		return nil, fmt.Errorf("%s/%s#%d is not tracked", ref.Owner, ref.Repo, ref.Number)
	}
	return store.LoadPR(ref.Owner, ref.Repo, ref.Number)
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
