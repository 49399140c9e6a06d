package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"slack-digest/internal/diagnostics"
	"slack-digest/internal/logger"
	"slack-digest/internal/period"
)

// Phase names. Their keywords select the diagnostics threshold category.
const (
	PhaseFetch    = "slack-fetch"
	PhaseAnalyze  = "gemini-analysis"
	PhaseFormat   = "format"
	PhaseDeliver  = "slack-delivery"
	PhasePersist  = "database-save"
	defaultFanOut = 4
)

// Orchestrator runs fetch, analyze, format, deliver and persist in order.
type Orchestrator struct {
	fetcher   Fetcher
	deliverer Deliverer
	analyzer  Analyzer
	store     Store
	now       func() time.Time
	loc       *time.Location
	fanOut    int
	log       *logrus.Entry
}

type Option func(*Orchestrator)

// WithStore enables report persistence. A nil store leaves it disabled.
func WithStore(s Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLocation fixes the zone used for every window boundary.
func WithLocation(loc *time.Location) Option {
	return func(o *Orchestrator) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// WithDeliveryConcurrency bounds parallel direct messages.
func WithDeliveryConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.fanOut = n
		}
	}
}

func New(fetcher Fetcher, deliverer Deliverer, analyzer Analyzer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		fetcher:   fetcher,
		deliverer: deliverer,
		analyzer:  analyzer,
		now:       time.Now,
		loc:       time.Local,
		fanOut:    defaultFanOut,
		log:       logger.WithComponent("report"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run produces and delivers one report. A nil tracker gets a private one.
//
// The returned error covers failures that leave nothing to deliver: an invalid
// request or a failed fetch. Analysis failures degrade to a counts-only report,
// and delivery or persistence failures are recorded on the Result.
func (o *Orchestrator) Run(ctx context.Context, req Request, tracker *diagnostics.Tracker) (*Result, error) {
	if tracker == nil {
		tracker = diagnostics.New()
	}
	req.Recipients = normalizeRecipients(req.Recipients)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	w, err := period.For(req.Kind, o.now().In(o.loc))
	if err != nil {
		return nil, err
	}

	res := &Result{RunID: uuid.NewString(), Kind: req.Kind, Window: w}
	log := o.log.WithFields(logrus.Fields{"run_id": res.RunID, "kind": req.Kind.String()})
	log.Infof("Generating %s report for %s", req.Kind, w)

	var messages []Message
	err = tracker.Phase(PhaseFetch, map[string]any{"channel": req.ChannelID, "since": w.Start}, func() error {
		fetched, err := o.fetcher.GetChannelMessages(ctx, req.ChannelID, w.Start)
		if err != nil {
			return err
		}
		messages = inWindow(fetched, w)
		return nil
	})
	if err != nil {
		tracker.CaptureError(err, map[string]any{"phase": PhaseFetch, "channel": req.ChannelID})
		return res, fmt.Errorf("failed to fetch channel messages: %w", err)
	}
	res.MessageCount = len(messages)
	tracker.AddCheckpoint("messages-fetched", map[string]any{"count": len(messages)})
	log.Infof("Fetched %d messages", len(messages))

	if len(messages) == 0 {
		res.NoActivity = true
		res.Text = NoActivityMessage(req.Kind, w)
	} else {
		analysis := o.analyze(ctx, tracker, log, messages, req.Kind)
		res.Fallback = analysis.Fallback
		res.ActiveUsers = analysis.ActiveUsers
		_ = tracker.Phase(PhaseFormat, nil, func() error {
			res.Text = Format(req.Kind, w, analysis)
			return nil
		})
	}

	_ = tracker.Phase(PhaseDeliver, map[string]any{"recipients": len(req.Recipients)}, func() error {
		res.Deliveries = o.deliver(ctx, req.Recipients, res.Text)
		return res.Err()
	})
	for _, d := range res.Failed() {
		tracker.CaptureError(d.Err, map[string]any{"phase": PhaseDeliver, "recipient": d.Recipient})
		log.WithError(d.Err).Warnf("Failed to deliver report to %s", d.Recipient)
	}
	log.Infof("Delivered to %d of %d recipients", len(res.Delivered()), len(res.Deliveries))

	if o.store != nil {
		err := tracker.Phase(PhasePersist, nil, func() error {
			return o.store.SaveReport(ctx, newHistoryRecord(res, o.now()))
		})
		if err != nil {
			tracker.CaptureError(err, map[string]any{"phase": PhasePersist})
			log.WithError(err).Warn("Failed to save report history")
		}
	}

	return res, nil
}

func (o *Orchestrator) analyze(ctx context.Context, tracker *diagnostics.Tracker, log *logrus.Entry, messages []Message, kind period.Kind) *Analysis {
	var analysis *Analysis
	err := tracker.Phase(PhaseAnalyze, map[string]any{"messages": len(messages)}, func() error {
		a, err := o.analyzer.AnalyzeMessages(ctx, messages, kind)
		if err == nil {
			err = a.Validate()
		}
		if err != nil {
			return err
		}
		analysis = a
		return nil
	})
	if err != nil {
		tracker.CaptureError(err, map[string]any{"phase": PhaseAnalyze})
		log.WithError(err).Warn("Analysis failed, falling back to a counts-only report")
		return FallbackAnalysis(messages, err.Error())
	}

	if analysis.TotalMessages == 0 {
		analysis.TotalMessages = len(messages)
	}
	if analysis.ActiveUsers == 0 {
		analysis.ActiveUsers = CountActiveUsers(messages)
	}
	return analysis
}

// deliver fans out to every recipient and waits for all of them.
func (o *Orchestrator) deliver(ctx context.Context, recipients []string, text string) []Delivery {
	out := make([]Delivery, len(recipients))
	var g errgroup.Group
	g.SetLimit(o.fanOut)
	for i, r := range recipients {
		i, r := i, r
		g.Go(func() error {
			out[i] = Delivery{Recipient: r, Err: o.deliverer.SendDirectMessage(ctx, r, text)}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func inWindow(messages []Message, w period.Window) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if w.Contains(m.Timestamp) {
			out = append(out, m)
		}
	}
	return out
}

func normalizeRecipients(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
