package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"slack-digest/internal/logger"
)

// Job is the work run on each tick. Its error is logged, never propagated.
type Job func() error

type cadence struct {
	name string
	spec string
	job  Job
}

// Scheduler fires registered cadences on their cron expressions. A cadence
// never overlaps itself: a tick that arrives while the previous run is still
// executing is skipped with a warning.
type Scheduler struct {
	mu       sync.Mutex
	loc      *time.Location
	log      *logrus.Entry
	cadences map[string]cadence
	cron     *cron.Cron
	entries  map[string]cron.EntryID
}

func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		loc:      loc,
		log:      logger.WithComponent("scheduler"),
		cadences: make(map[string]cadence),
	}
}

// Register adds or replaces the cadence for name. The expression uses the standard
// five-field cron syntax, or descriptors such as "@daily".
func (s *Scheduler) Register(name, spec string, job Job) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron spec %q for %s: %w", spec, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cadences[name] = cadence{name: name, spec: spec, job: job}
	return nil
}

// Start arms every registered cadence. Starting a running scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		s.log.Info("Scheduler already running, ignoring start")
		return nil
	}

	c := cron.New(cron.WithLocation(s.loc), cron.WithLogger(cronLogger{s.log}))
	entries := make(map[string]cron.EntryID, len(s.cadences))
	for _, cd := range s.cadences {
		id, err := c.AddJob(cd.spec, s.wrap(cd))
		if err != nil {
			return fmt.Errorf("failed to schedule %s: %w", cd.name, err)
		}
		entries[cd.name] = id
	}

	c.Start()
	s.cron = c
	s.entries = entries
	s.log.Infof("Scheduler started with %d cadence(s)", len(entries))
	return nil
}

// Stop cancels pending ticks and waits for in-flight runs to finish.
// It is safe to call before Start and more than once.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.entries = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	<-c.Stop().Done()
	s.log.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// Next returns the next fire time per cadence while running.
func (s *Scheduler) Next() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]time.Time, len(s.entries))
	if s.cron == nil {
		return out
	}
	for name, id := range s.entries {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}

// Names lists registered cadences in sorted order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.cadences))
	for name := range s.cadences {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// wrap guards a cadence so a failure or panic never stops future ticks and
// overlapping ticks are dropped.
func (s *Scheduler) wrap(cd cadence) cron.Job {
	l := cronLogger{s.log.WithField("cadence", cd.name)}
	run := cron.FuncJob(func() {
		start := time.Now()
		if err := cd.job(); err != nil {
			l.entry.WithError(err).Errorf("Scheduled %s run failed after %s", cd.name, time.Since(start).Round(time.Millisecond))
			return
		}
		l.entry.Infof("Scheduled %s run completed in %s", cd.name, time.Since(start).Round(time.Millisecond))
	})
	return cron.NewChain(cron.Recover(l), cron.SkipIfStillRunning(l)).Then(run)
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	entry *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	e := l.entry.WithFields(toFields(keysAndValues))
	if msg == "skip" {
		e.Warn("Previous run still in progress, skipping this tick")
		return
	}
	e.Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(toFields(keysAndValues)).WithError(err).Error(msg)
}

func toFields(kv []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
