// Package diagnostics times the phases of a report run against per-category
// thresholds and renders a bottleneck report. A Tracker never fails on misuse:
// ending without an open phase is ignored, and opening a phase while another
// is open closes the earlier one first.
package diagnostics

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"slack-digest/internal/logger"
)

// Category groups phases that share a threshold.
type Category int

const (
	CategoryOther Category = iota
	CategoryChat
	CategoryAI
	CategoryPersistence
)

func (c Category) String() string {
	switch c {
	case CategoryChat:
		return "chat"
	case CategoryAI:
		return "ai"
	case CategoryPersistence:
		return "persistence"
	default:
		return "other"
	}
}

var persistenceKeywords = []string{"database", "supabase", "storage", "sqlite"}

// Categorize matches a phase name against category keywords, case-insensitively.
// Chat wins over AI, and AI over persistence, when a name carries several.
func Categorize(name string) Category {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "slack"):
		return CategoryChat
	case strings.Contains(n, "gemini"), strings.Contains(n, "ai"):
		return CategoryAI
	}
	for _, kw := range persistenceKeywords {
		if strings.Contains(n, kw) {
			return CategoryPersistence
		}
	}
	return CategoryOther
}

// Thresholds bounds phase durations per category and the whole run.
type Thresholds struct {
	Chat        time.Duration
	AI          time.Duration
	Persistence time.Duration
	Default     time.Duration
	Total       time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Chat:        10 * time.Second,
		AI:          20 * time.Second,
		Persistence: 5 * time.Second,
		Default:     30 * time.Second,
		Total:       50 * time.Second,
	}
}

// For resolves the threshold for a category. Zero fields fall back to defaults.
func (t Thresholds) For(c Category) time.Duration {
	d := DefaultThresholds()
	pick := func(v, def time.Duration) time.Duration {
		if v > 0 {
			return v
		}
		return def
	}
	switch c {
	case CategoryChat:
		return pick(t.Chat, d.Chat)
	case CategoryAI:
		return pick(t.AI, d.AI)
	case CategoryPersistence:
		return pick(t.Persistence, d.Persistence)
	default:
		return pick(t.Default, d.Default)
	}
}

func (t Thresholds) Budget() time.Duration {
	if t.Total > 0 {
		return t.Total
	}
	return DefaultThresholds().Total
}

// CloseKind tells a clean EndPhase apart from an automatic close.
type CloseKind int

const (
	CloseExplicit CloseKind = iota
	CloseImplicit
)

func (k CloseKind) String() string {
	if k == CloseImplicit {
		return "implicit"
	}
	return "explicit"
}

// PhaseRecord is one timed segment. Start and End are offsets from tracker creation.
type PhaseRecord struct {
	Name      string
	Category  Category
	Start     time.Duration
	End       time.Duration
	Duration  time.Duration
	Threshold time.Duration
	TimedOut  bool
	Err       error
	Close     CloseKind
	Metadata  map[string]any
}

type Checkpoint struct {
	Name    string
	Elapsed time.Duration
	Data    map[string]any
}

type CapturedError struct {
	Err     error
	Elapsed time.Duration
	Context map[string]any
}

// Tracker records phases for a single run.
type Tracker struct {
	mu          sync.Mutex
	now         func() time.Time
	started     time.Time
	thresholds  Thresholds
	log         *logrus.Entry
	open        *PhaseRecord
	phases      []PhaseRecord
	checkpoints []Checkpoint
	errors      []CapturedError
}

type Option func(*Tracker)

func WithThresholds(t Thresholds) Option {
	return func(tr *Tracker) { tr.thresholds = t }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(tr *Tracker) { tr.now = now }
}

func WithLogger(entry *logrus.Entry) Option {
	return func(tr *Tracker) { tr.log = entry }
}

func New(opts ...Option) *Tracker {
	t := &Tracker{
		now:        time.Now,
		thresholds: DefaultThresholds(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logger.WithComponent("diagnostics")
	}
	t.started = t.now()
	return t
}

func (t *Tracker) Thresholds() Thresholds {
	return t.thresholds
}

// Elapsed returns the time since the tracker was created.
func (t *Tracker) Elapsed() time.Duration {
	return t.now().Sub(t.started)
}

// StartPhase opens a phase, closing any phase still open.
func (t *Tracker) StartPhase(name string, metadata map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.open != nil {
		t.log.WithField("phase", t.open.Name).Warnf("phase %q still open when %q started, closing it", t.open.Name, name)
		t.closeLocked(nil, CloseImplicit)
	}

	category := Categorize(name)
	t.open = &PhaseRecord{
		Name:      name,
		Category:  category,
		Start:     t.Elapsed(),
		Threshold: t.thresholds.For(category),
		Metadata:  metadata,
	}
	t.log.WithField("phase", name).Debug("phase started")
}

// EndPhase closes the open phase. Without one it does nothing.
func (t *Tracker) EndPhase(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.open == nil {
		return
	}
	t.closeLocked(err, CloseExplicit)
}

func (t *Tracker) closeLocked(err error, kind CloseKind) {
	p := *t.open
	t.open = nil

	p.End = t.Elapsed()
	p.Duration = p.End - p.Start
	p.Err = err
	p.Close = kind
	p.TimedOut = p.Duration > p.Threshold
	t.phases = append(t.phases, p)

	entry := t.log.WithFields(logrus.Fields{
		"phase":    p.Name,
		"duration": p.Duration.String(),
		"close":    kind.String(),
	})
	switch {
	case p.TimedOut:
		entry.Warnf("phase exceeded its %s threshold", p.Threshold)
	case err != nil:
		entry.WithError(err).Info("phase finished with error")
	default:
		entry.Debug("phase finished")
	}
}

// Phase runs fn as a named phase and returns its error.
func (t *Tracker) Phase(name string, metadata map[string]any, fn func() error) error {
	t.StartPhase(name, metadata)
	err := fn()
	t.EndPhase(err)
	return err
}

// AddCheckpoint records a marker and warns once the run has used 80% of its budget.
func (t *Tracker) AddCheckpoint(name string, data map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := t.Elapsed()
	t.checkpoints = append(t.checkpoints, Checkpoint{Name: name, Elapsed: elapsed, Data: data})

	budget := t.thresholds.Budget()
	if elapsed > budget*8/10 {
		t.log.WithField("checkpoint", name).Warnf("%s elapsed, %.0f%% of the %s budget", elapsed.Round(time.Millisecond), percent(elapsed, budget), budget)
	}
}

// CaptureError stores err for the report. A nil err is ignored.
func (t *Tracker) CaptureError(err error, context map[string]any) {
	if err == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.errors = append(t.errors, CapturedError{Err: err, Elapsed: t.Elapsed(), Context: context})
	t.log.WithFields(logrus.Fields(context)).WithError(err).Debug("error captured")
}

// Open returns the name of the open phase, if any.
func (t *Tracker) Open() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open == nil {
		return "", false
	}
	return t.open.Name, true
}

func (t *Tracker) Phases() []PhaseRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]PhaseRecord(nil), t.phases...)
}

func (t *Tracker) Checkpoints() []Checkpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Checkpoint(nil), t.checkpoints...)
}

func (t *Tracker) Errors() []CapturedError {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]CapturedError(nil), t.errors...)
}

// Exceeded reports whether the run or any finished phase went over its limit.
func (t *Tracker) Exceeded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Elapsed() > t.thresholds.Budget() {
		return true
	}
	for _, p := range t.phases {
		if p.TimedOut {
			return true
		}
	}
	return false
}

func percent(part, whole time.Duration) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
