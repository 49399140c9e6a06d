package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"slack-digest/internal/config"
	"slack-digest/internal/period"
)

var configConfigPath string

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		Long:  "Prints the effective configuration with secrets masked, followed by the validation result.",
		RunE:  runConfig,
	}
	cmd.Flags().StringVarP(&configConfigPath, "config", "c", "", "Path to config file")
	return cmd
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	printConfig(cmd.OutOrStdout(), cfg)
	return nil
}

func printConfig(out io.Writer, cfg *config.Config) {
	fmt.Fprintf(out, "Configuration\n")
	fmt.Fprintf(out, "=============\n\n")
	fmt.Fprintf(out, "Slack:\n")
	fmt.Fprintf(out, "  Bot Token: %s\n", config.MaskSecret(cfg.Slack.BotToken))
	fmt.Fprintf(out, "  Channel: %s\n", orUnset(cfg.Slack.ChannelID))
	fmt.Fprintf(out, "  Recipients: %s\n", orUnset(strings.Join(cfg.Slack.RecipientIDs, ", ")))
	fmt.Fprintf(out, "  Page Size: %d (max %d pages)\n", cfg.Slack.PageSize, cfg.Slack.MaxPages)
	fmt.Fprintf(out, "  Delivery Concurrency: %d\n", cfg.Slack.DeliveryConcurrency)
	fmt.Fprintf(out, "\nGemini:\n")
	fmt.Fprintf(out, "  API Key: %s\n", config.MaskSecret(cfg.Gemini.APIKey))
	fmt.Fprintf(out, "  Base URL: %s\n", cfg.Gemini.BaseURL)
	fmt.Fprintf(out, "  Model: %s\n", cfg.Gemini.Model)
	fmt.Fprintf(out, "  Max Tokens: %d\n", cfg.Gemini.MaxTokens)
	fmt.Fprintf(out, "  Max Input Chars: %d\n", cfg.Gemini.MaxInputChars)
	fmt.Fprintf(out, "  Timeout: %s\n", cfg.Gemini.Timeout)
	fmt.Fprintf(out, "\nSchedule (%s):\n", cfg.Schedule.Timezone)
	for _, kind := range period.Kinds() {
		fmt.Fprintf(out, "  %s: %s\n", kind, orValue(cfg.Schedule.Spec(kind), "(disabled)"))
	}
	th := cfg.Diagnostics.Thresholds()
	fmt.Fprintf(out, "\nDiagnostics:\n")
	fmt.Fprintf(out, "  Thresholds: slack %s, gemini %s, database %s, other %s\n", th.Chat, th.AI, th.Persistence, th.Default)
	fmt.Fprintf(out, "  Budget: %s (enforced: %v)\n", th.Budget(), cfg.Diagnostics.EnforceBudget)
	fmt.Fprintf(out, "\nStorage:\n")
	fmt.Fprintf(out, "  DB Path: %s\n", orValue(cfg.Storage.DBPath, "(history disabled)"))
	fmt.Fprintf(out, "  Retention Days: %d\n", cfg.Storage.RetentionDays)
	fmt.Fprintf(out, "  Log Path: %s\n", orValue(cfg.Storage.LogPath, "(stdout only)"))
	fmt.Fprintf(out, "  Log Level: %s\n", cfg.Storage.Log.Level)

	fmt.Fprintln(out)
	var verr *config.ValidationError
	switch err := cfg.Validate(); {
	case err == nil:
		fmt.Fprintln(out, "Validation: OK")
	case errors.As(err, &verr):
		fmt.Fprintln(out, "Validation: FAILED")
		for _, m := range verr.Missing {
			fmt.Fprintf(out, "  missing: %s\n", m)
		}
		for _, m := range verr.Invalid {
			fmt.Fprintf(out, "  invalid: %s\n", m)
		}
	default:
		fmt.Fprintf(out, "Validation: FAILED (%v)\n", err)
	}
}

func orUnset(s string) string {
	return orValue(s, "(not set)")
}

func orValue(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
