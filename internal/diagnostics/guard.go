package diagnostics

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Guard terminates the process once a run outlives its budget. It writes the
// tracker's report first so the overrun can be diagnosed from the logs.
type Guard struct {
	tracker *Tracker
	exit    func(code int)
	out     io.Writer

	mu    sync.Mutex
	timer *time.Timer
	fired bool
}

// NewGuard builds a guard. exit is os.Exit in production.
func NewGuard(tracker *Tracker, exit func(code int), out io.Writer) *Guard {
	return &Guard{tracker: tracker, exit: exit, out: out}
}

// Start arms the guard for whatever remains of the tracker's budget.
// Calling Start on an armed guard is a no-op.
func (g *Guard) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.timer != nil {
		return
	}
	remaining := g.tracker.Thresholds().Budget() - g.tracker.Elapsed()
	if remaining < 0 {
		remaining = 0
	}
	g.timer = time.AfterFunc(remaining, g.fire)
}

// Stop disarms the guard. Safe to call repeatedly or before Start.
func (g *Guard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

// Fired reports whether the guard has triggered.
func (g *Guard) Fired() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fired
}

func (g *Guard) fire() {
	g.mu.Lock()
	if g.timer == nil || g.fired {
		g.mu.Unlock()
		return
	}
	g.fired = true
	g.mu.Unlock()

	g.tracker.log.Errorf("run exceeded its %s budget, terminating", g.tracker.Thresholds().Budget())
	fmt.Fprintln(g.out, g.tracker.Report())
	g.exit(1)
}
