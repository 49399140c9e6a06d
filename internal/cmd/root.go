package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"slack-digest/internal/config"
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "slack-digest",
		Short:         "Slack digest - channel summaries delivered by direct message",
		Long:          "Summarizes a Slack channel with Gemini and sends daily, weekly and monthly digests to a list of recipients.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewStartCmd())
	rootCmd.AddCommand(NewDaemonCmd())
	rootCmd.AddCommand(NewStatusCmd())
	rootCmd.AddCommand(NewWindowCmd())
	rootCmd.AddCommand(NewHistoryCmd())
	rootCmd.AddCommand(NewCleanupCmd())
	rootCmd.AddCommand(NewConfigCmd())

	return rootCmd
}

// loadConfig loads, optionally overrides recipients, and validates. The
// logger is initialized only once the configuration is usable.
func loadConfig(path string, recipients []string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if ids := config.SplitIDs(recipients...); len(ids) > 0 {
		cfg.Slack.RecipientIDs = ids
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.InitLogger(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}
