package cmd

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"slack-digest/internal/config"
	"slack-digest/internal/period"
	"slack-digest/internal/storage"
)

var statusConfigPath string

func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon state, upcoming runs and the last report per kind",
		RunE:  runStatus,
	}
	cmd.Flags().StringVarP(&statusConfigPath, "config", "c", "", "Path to config file")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(statusConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Slack Digest Status\n")
	fmt.Fprintf(out, "===================\n\n")

	if pid, err := readPid(); err == nil && isProcessRunning(pid) {
		fmt.Fprintf(out, "Daemon: running (PID: %d)\n\n", pid)
	} else {
		fmt.Fprintf(out, "Daemon: not running\n\n")
	}

	now := time.Now().In(loc)
	fmt.Fprintf(out, "Upcoming runs:\n")
	for _, kind := range period.Kinds() {
		spec := cfg.Schedule.Spec(kind)
		if spec == "" {
			fmt.Fprintf(out, "  %-8s disabled\n", kind)
			continue
		}
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			fmt.Fprintf(out, "  %-8s invalid cron %q: %v\n", kind, spec, err)
			continue
		}
		next := sched.Next(now)
		w, _ := period.For(kind, next)
		fmt.Fprintf(out, "  %-8s %s  covering %s\n", kind, next.Format("Mon 2006-01-02 15:04"), period.Label(kind, w))
	}

	if cfg.Storage.DBPath == "" {
		fmt.Fprintf(out, "\nReport history: disabled\n")
		return nil
	}
	st, err := storage.NewSQLite(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer st.Close()

	fmt.Fprintf(out, "\nLast reports:\n")
	for _, kind := range period.Kinds() {
		records, err := st.ListReports(cmd.Context(), kind.String(), 1)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintf(out, "  %-8s none\n", kind)
			continue
		}
		r := records[0]
		fmt.Fprintf(out, "  %-8s %s  %d messages, delivered %d/%d\n",
			kind, r.CreatedAt.In(loc).Format("2006-01-02 15:04"), r.MessageCount, r.Delivered, r.Delivered+r.Failed)
	}
	return nil
}
