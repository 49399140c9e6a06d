package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"slack-digest/internal/config"
	"slack-digest/internal/period"
)

var windowConfigPath string
var windowKind string
var windowAt string

func NewWindowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "window",
		Short: "Show the time window a report would cover",
		Long:  "Prints the window for a report kind as of now, or as of the date given with --at. Useful to check which week a weekly report covers.",
		RunE:  runWindow,
	}

	cmd.Flags().StringVarP(&windowConfigPath, "config", "c", "", "Path to config file (for schedule.timezone)")
	cmd.Flags().StringVarP(&windowKind, "kind", "k", "", "Report kind (daily, weekly, monthly); all kinds when empty")
	cmd.Flags().StringVar(&windowAt, "at", "", "Reference date (YYYY-MM-DD or RFC3339), defaults to now")

	return cmd
}

func runWindow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(windowConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return err
	}

	ref, err := parseReference(windowAt, loc, time.Now())
	if err != nil {
		return err
	}

	kinds := period.Kinds()
	if windowKind != "" {
		kind, err := period.ParseKind(windowKind)
		if err != nil {
			return err
		}
		kinds = []period.Kind{kind}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Reference: %s\n", ref.Format("Mon 2006-01-02 15:04 MST"))
	for _, kind := range kinds {
		w, err := period.For(kind, ref)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  %-8s %s  (%s)\n", kind, w, period.Label(kind, w))
	}
	return nil
}

// parseReference accepts a date, which means noon that day, or a full timestamp.
func parseReference(s string, loc *time.Location, now time.Time) (time.Time, error) {
	if s == "" {
		return now.In(loc), nil
	}
	if d, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return d.Add(12 * time.Hour), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q: use YYYY-MM-DD or RFC3339", s)
	}
	return t.In(loc), nil
}
