package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var cleanupConfigPath string
var cleanupDays int

func NewCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old reports from the history database",
		RunE:  runCleanup,
	}
	cmd.Flags().StringVarP(&cleanupConfigPath, "config", "c", "", "Path to config file")
	cmd.Flags().IntVar(&cleanupDays, "days", 0, "Retention in days, overriding storage.retention_days")
	return cmd
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, st, err := openHistory(cleanupConfigPath)
	if err != nil {
		return err
	}
	defer st.Close()

	days := cfg.Storage.RetentionDays
	if cleanupDays > 0 {
		days = cleanupDays
	}
	if days <= 0 {
		return fmt.Errorf("retention is not set: use --days or storage.retention_days")
	}

	n, err := st.PruneReports(cmd.Context(), time.Now().AddDate(0, 0, -days))
	if err != nil {
		return fmt.Errorf("failed to cleanup old reports: %w", err)
	}

	fmt.Fprintf(os.Stdout, "Cleanup completed. %d reports older than %d days have been removed.\n", n, days)
	return nil
}
