package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"slack-digest/internal/diagnostics"
	"slack-digest/internal/logger"
	"slack-digest/internal/period"
	"slack-digest/internal/task"
)

var runConfigPath string
var runKind string
var runRecipients []string
var runDiagnostics bool

func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate and deliver one report now",
		Long:  "Fetches the channel history for the report window, summarizes it and sends the digest to every recipient. Exits non-zero on configuration or fetch errors, or when no recipient received the report.",
		RunE:  runRun,
	}

	cmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVarP(&runKind, "kind", "k", "daily", "Report kind (daily, weekly, monthly)")
	cmd.Flags().StringSliceVarP(&runRecipients, "recipients", "r", nil, "Slack user IDs to send to, overriding slack.recipient_ids")
	cmd.Flags().BoolVar(&runDiagnostics, "diagnostics", false, "Print the diagnostics report after the run")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	kind, err := period.ParseKind(runKind)
	if err != nil {
		fmt.Fprintf(out, "FAILURE: %v\n", err)
		return err
	}

	cfg, err := loadConfig(runConfigPath, runRecipients)
	if err != nil {
		fmt.Fprintf(out, "FAILURE: %v\n", err)
		return err
	}
	defer logger.Close()

	executor, err := task.NewExecutor(cfg)
	if err != nil {
		fmt.Fprintf(out, "FAILURE: %v\n", err)
		return err
	}
	defer executor.Close()

	tracker := executor.NewTracker()
	if cfg.Diagnostics.EnforceBudget {
		guard := diagnostics.NewGuard(tracker, os.Exit, os.Stderr)
		guard.Start()
		defer guard.Stop()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := executor.RunReport(ctx, kind, nil, tracker)
	if runDiagnostics {
		fmt.Fprintln(out, tracker.Report())
	}
	if err != nil {
		fmt.Fprintf(out, "FAILURE: %s report: %v\n", kind, err)
		return err
	}

	if len(res.Delivered()) == 0 {
		err := fmt.Errorf("%s report was not delivered: %w", kind, res.Err())
		fmt.Fprintf(out, "FAILURE: %v\n", err)
		return err
	}
	if res.Fallback {
		fmt.Fprintf(out, "WARNING: analysis failed, sent counts only\n")
	}
	for _, d := range res.Failed() {
		fmt.Fprintf(out, "WARNING: not delivered to %s: %v\n", d.Recipient, d.Err)
	}
	fmt.Fprintf(out, "SUCCESS: %s\n", task.Summary(res))
	return nil
}
