package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"slack-digest/internal/analyzer"
	"slack-digest/internal/config"
	"slack-digest/internal/diagnostics"
	"slack-digest/internal/logger"
	"slack-digest/internal/period"
	"slack-digest/internal/report"
	"slack-digest/internal/scheduler"
	"slack-digest/internal/slack"
	"slack-digest/internal/storage"
)

// Executor binds configuration to the report pipeline. The CLI and the
// scheduler both go through it.
type Executor struct {
	config       *config.Config
	orchestrator *report.Orchestrator
	store        *storage.SQLite
	loc          *time.Location
	now          func() time.Time
	log          *logrus.Entry
}

// NewExecutor builds the Slack, Gemini and (when storage.db_path is set)
// SQLite collaborators. cfg must already be validated.
func NewExecutor(cfg *config.Config) (*Executor, error) {
	chat := slack.New(cfg.Slack.BotToken, slack.Options{
		PageSize: cfg.Slack.PageSize,
		MaxPages: cfg.Slack.MaxPages,
	})
	gemini := analyzer.NewGemini(cfg.Gemini.APIKey, analyzer.Options{
		BaseURL:       cfg.Gemini.BaseURL,
		Model:         cfg.Gemini.Model,
		MaxTokens:     cfg.Gemini.MaxTokens,
		Temperature:   cfg.Gemini.Temperature,
		MaxInputChars: cfg.Gemini.MaxInputChars,
		Timeout:       cfg.Gemini.Timeout,
	})

	var st *storage.SQLite
	if cfg.Storage.DBPath != "" {
		var err error
		st, err = storage.NewSQLite(cfg.Storage.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
	}
	return newExecutor(cfg, chat, chat, gemini, st)
}

func newExecutor(cfg *config.Config, f report.Fetcher, d report.Deliverer, a report.Analyzer, st *storage.SQLite) (*Executor, error) {
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return nil, err
	}

	opts := []report.Option{
		report.WithLocation(loc),
		report.WithDeliveryConcurrency(cfg.Slack.DeliveryConcurrency),
	}
	if st != nil {
		opts = append(opts, report.WithStore(st))
	}

	return &Executor{
		config:       cfg,
		orchestrator: report.New(f, d, a, opts...),
		store:        st,
		loc:          loc,
		now:          time.Now,
		log:          logger.WithComponent("executor"),
	}, nil
}

// Location is the zone used for windows and cadences.
func (e *Executor) Location() *time.Location {
	return e.loc
}

// Store returns the history store, or nil when persistence is disabled.
func (e *Executor) Store() *storage.SQLite {
	return e.store
}

// NewTracker returns a tracker using the configured thresholds.
func (e *Executor) NewTracker() *diagnostics.Tracker {
	return diagnostics.New(
		diagnostics.WithThresholds(e.config.Diagnostics.Thresholds()),
		diagnostics.WithLogger(logger.WithComponent("diagnostics")),
	)
}

// RunReport generates and delivers one report. Empty recipients fall back to
// slack.recipient_ids.
func (e *Executor) RunReport(ctx context.Context, kind period.Kind, recipients []string, tracker *diagnostics.Tracker) (*report.Result, error) {
	if len(recipients) == 0 {
		recipients = e.config.Slack.RecipientIDs
	}
	return e.orchestrator.Run(ctx, report.Request{
		Kind:       kind,
		ChannelID:  e.config.Slack.ChannelID,
		Recipients: recipients,
	}, tracker)
}

// ScheduledJob adapts RunReport to a scheduler callback. A run counts as
// failed only when nothing was delivered.
func (e *Executor) ScheduledJob(kind period.Kind) scheduler.Job {
	return func() error {
		tracker := e.NewTracker()
		res, err := e.RunReport(context.Background(), kind, nil, tracker)

		if tracker.Exceeded() || err != nil {
			e.log.Warnf("%s run needs attention:\n%s", kind, tracker.Report())
		} else {
			e.log.Debugf("%s run diagnostics:\n%s", kind, tracker.Report())
		}
		if err != nil {
			return err
		}
		if len(res.Delivered()) == 0 {
			return fmt.Errorf("%s report was not delivered: %w", kind, res.Err())
		}
		if e.store != nil && e.config.Storage.RetentionDays > 0 {
			if _, err := e.PruneHistory(context.Background()); err != nil {
				e.log.WithError(err).Warn("Failed to prune report history")
			}
		}
		return nil
	}
}

// RegisterCadences adds one cron entry per configured report kind and returns
// the kinds that were scheduled.
func (e *Executor) RegisterCadences(s *scheduler.Scheduler) ([]period.Kind, error) {
	var kinds []period.Kind
	for _, kind := range period.Kinds() {
		spec := e.config.Schedule.Spec(kind)
		if spec == "" {
			e.log.Infof("No cadence configured for %s reports", kind)
			continue
		}
		if err := s.Register(kind.String(), spec, e.ScheduledJob(kind)); err != nil {
			return nil, fmt.Errorf("failed to schedule %s reports: %w", kind, err)
		}
		kinds = append(kinds, kind)
	}
	if len(kinds) == 0 {
		return nil, fmt.Errorf("no report cadences configured (schedule.daily, schedule.weekly, schedule.monthly)")
	}
	return kinds, nil
}

// PruneHistory removes reports older than storage.retention_days.
func (e *Executor) PruneHistory(ctx context.Context) (int64, error) {
	if e.store == nil {
		return 0, fmt.Errorf("report history is disabled (storage.db_path is empty)")
	}
	if e.config.Storage.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := e.now().AddDate(0, 0, -e.config.Storage.RetentionDays)
	n, err := e.store.PruneReports(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.log.Infof("Pruned %d reports older than %s", n, cutoff.Format("2006-01-02"))
	}
	return n, nil
}

func (e *Executor) Close() error {
	if e.store != nil {
		return e.store.Close()
	}
	return nil
}

// Summary renders a one-line outcome for CLI output.
func Summary(res *report.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s report for %s: %d messages", res.Kind, res.Window, res.MessageCount)
	switch {
	case res.NoActivity:
		b.WriteString(", no activity")
	case res.Fallback:
		b.WriteString(", counts only (analysis unavailable)")
	}
	fmt.Fprintf(&b, ", delivered %d/%d", len(res.Delivered()), len(res.Deliveries))
	return b.String()
}
