package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"slack-digest/internal/config"
	"slack-digest/internal/period"
	"slack-digest/internal/storage"
)

var historyConfigPath string
var historyKind string
var historyLimit int
var historyVerbose bool

func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List previously delivered reports",
		Long:  "Lists reports saved in the history database. Requires storage.db_path (or DB_PATH).",
		RunE:  runHistory,
	}

	cmd.Flags().StringVarP(&historyConfigPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVarP(&historyKind, "kind", "k", "", "Only show this report kind (daily, weekly, monthly)")
	cmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of reports to show (0 for all)")
	cmd.Flags().BoolVarP(&historyVerbose, "verbose", "v", false, "Print the full report text")

	return cmd
}

func openHistory(path string) (*config.Config, *storage.SQLite, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Storage.DBPath == "" {
		return nil, nil, fmt.Errorf("report history is disabled: set storage.db_path or DB_PATH")
	}
	st, err := storage.NewSQLite(cfg.Storage.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return cfg, st, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	kind := ""
	if historyKind != "" {
		k, err := period.ParseKind(historyKind)
		if err != nil {
			return err
		}
		kind = k.String()
	}

	cfg, st, err := openHistory(historyConfigPath)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.ListReports(cmd.Context(), kind, historyLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "No reports found.")
		return nil
	}

	loc, err := cfg.Schedule.Location()
	if err != nil {
		return err
	}

	if historyVerbose {
		for _, r := range records {
			fmt.Fprintf(os.Stdout, "=== %s %s (%s) ===\n%s\n\n", r.CreatedAt.In(loc).Format("2006-01-02 15:04"), r.Kind, r.ID, r.Summary)
		}
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tKIND\tWINDOW\tMESSAGES\tUSERS\tDELIVERED\tNOTE")
	for _, r := range records {
		var notes []string
		if r.Fallback {
			notes = append(notes, "counts only")
		}
		if r.Failed > 0 {
			notes = append(notes, fmt.Sprintf("%d failed", r.Failed))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s - %s\t%d\t%d\t%d\t%s\n",
			r.CreatedAt.In(loc).Format("2006-01-02 15:04"),
			r.Kind,
			r.WindowStart.In(loc).Format("Jan 2"),
			r.WindowEnd.In(loc).Format("Jan 2"),
			r.MessageCount,
			r.ActiveUsers,
			r.Delivered,
			strings.Join(notes, ", "),
		)
	}
	return tw.Flush()
}
