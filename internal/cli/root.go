package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/alanmeadows/shepherd/internal/config"
	"github.com/alanmeadows/shepherd/internal/logging"
)

var (
	verbose   bool
	appConfig *config.Config

	rootCmd = &cobra.Command{
		Use:   "shepherd",
		Short: "Watch pull requests through to green",
		Long: `Shepherd watches pull requests until they are ready to merge.

It rebases a PR that falls behind its base branch, retries the automated
reviewer when its review errors out, resolves duplicate review threads a
rebase brings back, and recreates PRs whose review request has stalled.`,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logging.Setup(verbose)

		cfg, err := config.Load()
		if err != nil {
			slog.Warn("failed to load config, using defaults", "error", err)
			def := config.DefaultConfig()
			cfg = &def
		}
		appConfig = cfg
	}
}

func Execute() error {
	return rootCmd.Execute()
}
