package diagnostics

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 8, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		want Category
	}{
		{"slack-fetch", CategoryChat},
		{"SLACK-delivery", CategoryChat},
		{"gemini-analysis", CategoryAI},
		{"ai-summary", CategoryAI},
		{"database-save", CategoryPersistence},
		{"Supabase-insert", CategoryPersistence},
		{"format", CategoryOther},
		{"feedback", CategoryOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Categorize(tt.name), tt.name)
	}
}

func TestThresholds_ZeroFieldsFallBack(t *testing.T) {
	th := Thresholds{Chat: 3 * time.Second}
	assert.Equal(t, 3*time.Second, th.For(CategoryChat))
	assert.Equal(t, 20*time.Second, th.For(CategoryAI))
	assert.Equal(t, 5*time.Second, th.For(CategoryPersistence))
	assert.Equal(t, 30*time.Second, th.For(CategoryOther))
	assert.Equal(t, 50*time.Second, th.Budget())
}

func TestTracker_EndPhaseComputesDuration(t *testing.T) {
	clock := newFakeClock()
	tr := New(WithClock(clock.Now))

	clock.Advance(time.Second)
	tr.StartPhase("slack-fetch", map[string]any{"channel": "C1"})
	clock.Advance(2 * time.Second)
	boom := errors.New("rate limited")
	tr.EndPhase(boom)

	phases := tr.Phases()
	require.Len(t, phases, 1)
	p := phases[0]
	assert.Equal(t, "slack-fetch", p.Name)
	assert.Equal(t, time.Second, p.Start)
	assert.Equal(t, 3*time.Second, p.End)
	assert.Equal(t, 2*time.Second, p.Duration)
	assert.Equal(t, 10*time.Second, p.Threshold)
	assert.False(t, p.TimedOut)
	assert.Equal(t, CloseExplicit, p.Close)
	assert.ErrorIs(t, p.Err, boom)
	assert.Equal(t, "C1", p.Metadata["channel"])

	_, open := tr.Open()
	assert.False(t, open)
}

func TestTracker_StartPhaseClosesOpenPhase(t *testing.T) {
	clock := newFakeClock()
	tr := New(WithClock(clock.Now))

	tr.StartPhase("slack-fetch", nil)
	clock.Advance(1500 * time.Millisecond)
	tr.StartPhase("gemini-analysis", nil)

	phases := tr.Phases()
	require.Len(t, phases, 1)
	assert.Equal(t, "slack-fetch", phases[0].Name)
	assert.Equal(t, CloseImplicit, phases[0].Close)
	assert.Greater(t, phases[0].Duration, time.Duration(0))

	name, open := tr.Open()
	require.True(t, open)
	assert.Equal(t, "gemini-analysis", name)

	clock.Advance(time.Second)
	tr.EndPhase(nil)
	phases = tr.Phases()
	require.Len(t, phases, 2)
	assert.Equal(t, phases[0].End, phases[1].Start)
	assert.Equal(t, CloseExplicit, phases[1].Close)
}

func TestTracker_EndPhaseWithoutOpenPhaseIsNoop(t *testing.T) {
	clock := newFakeClock()
	tr := New(WithClock(clock.Now))

	assert.NotPanics(t, func() { tr.EndPhase(nil) })
	assert.Empty(t, tr.Phases())

	tr.Phase("format", nil, func() error { return nil })
	before := tr.Phases()
	assert.NotPanics(t, func() {
		tr.EndPhase(errors.New("late"))
		tr.EndPhase(nil)
	})
	assert.Equal(t, before, tr.Phases())
}

func TestTracker_PhaseReturnsError(t *testing.T) {
	tr := New(WithClock(newFakeClock().Now))
	boom := errors.New("boom")
	err := tr.Phase("database-save", nil, func() error { return boom })
	assert.ErrorIs(t, err, boom)
	require.Len(t, tr.Phases(), 1)
	assert.Equal(t, CategoryPersistence, tr.Phases()[0].Category)
}

func TestTracker_TimeoutFlagged(t *testing.T) {
	clock := newFakeClock()
	tr := New(WithClock(clock.Now))

	tr.StartPhase("gemini-analysis", nil)
	clock.Advance(21 * time.Second)
	tr.EndPhase(nil)

	p := tr.Phases()[0]
	assert.True(t, p.TimedOut)
	assert.Equal(t, 20*time.Second, p.Threshold)
	assert.True(t, tr.Exceeded())
}

func TestTracker_CheckpointsAndErrors(t *testing.T) {
	clock := newFakeClock()
	tr := New(WithClock(clock.Now))

	clock.Advance(41 * time.Second)
	tr.AddCheckpoint("before-delivery", map[string]any{"recipients": 3})
	tr.CaptureError(errors.New("channel_not_found"), map[string]any{"recipient": "U1"})
	tr.CaptureError(nil, nil)

	cps := tr.Checkpoints()
	require.Len(t, cps, 1)
	assert.Equal(t, 41*time.Second, cps[0].Elapsed)

	errs := tr.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "U1", errs[0].Context["recipient"])
}

func TestReport_ExceededGeminiPhase(t *testing.T) {
	clock := newFakeClock()
	tr := New(WithClock(clock.Now))

	tr.Phase("slack-fetch", nil, func() error { clock.Advance(time.Second); return nil })
	tr.Phase("gemini-analysis", nil, func() error { clock.Advance(25 * time.Second); return nil })
	tr.Phase("format", nil, func() error { clock.Advance(10 * time.Millisecond); return nil })

	report := tr.Report()

	var geminiLine string
	for _, line := range strings.Split(report, "\n") {
		if strings.Contains(line, "gemini-analysis") {
			geminiLine = line
			break
		}
	}
	require.NotEmpty(t, geminiLine)
	assert.Contains(t, geminiLine, "EXCEEDED")
	assert.Contains(t, report, "[PASS]")
	assert.Contains(t, report, "Gemini analysis is slow")
	assert.NotContains(t, report, "Slack calls are slow")

	bottlenecks := report[strings.Index(report, "Bottlenecks"):]
	assert.Contains(t, bottlenecks, "gemini-analysis")
	assert.NotContains(t, bottlenecks[:strings.Index(bottlenecks, "Recommendations")], "slack-fetch")
}

func TestReport_BottlenecksSortedDescending(t *testing.T) {
	clock := newFakeClock()
	tr := New(WithClock(clock.Now))

	tr.Phase("slack-fetch", nil, func() error { clock.Advance(3 * time.Second); return nil })
	tr.Phase("gemini-analysis", nil, func() error { clock.Advance(5 * time.Second); return nil })
	tr.Phase("slack-delivery", nil, func() error { clock.Advance(2 * time.Second); return nil })

	report := tr.Report()
	section := report[strings.Index(report, "Bottlenecks"):strings.Index(report, "Recommendations")]
	gemini := strings.Index(section, "gemini-analysis")
	fetch := strings.Index(section, "slack-fetch")
	require.NotEqual(t, -1, gemini)
	require.NotEqual(t, -1, fetch)
	assert.Less(t, gemini, fetch)
	// 2s of 10s is exactly 20%, which is not more than 20%.
	assert.NotContains(t, section, "slack-delivery")
}

func TestReport_BudgetOverrun(t *testing.T) {
	clock := newFakeClock()
	tr := New(WithClock(clock.Now), WithThresholds(Thresholds{Total: 10 * time.Second}))

	tr.Phase("slack-fetch", nil, func() error { clock.Advance(9 * time.Second); return nil })
	clock.Advance(2 * time.Second)

	report := tr.Report()
	assert.Contains(t, report, "[FAIL]")
	assert.Contains(t, report, "Slack calls are slow")
	assert.Contains(t, report, "upgrade the hosting plan")
	assert.Len(t, tr.Recommendations(), 2)
}

func TestReport_MarksImplicitAndOpenPhases(t *testing.T) {
	clock := newFakeClock()
	tr := New(WithClock(clock.Now))

	tr.StartPhase("slack-fetch", nil)
	clock.Advance(time.Second)
	tr.StartPhase("gemini-analysis", nil)
	clock.Advance(time.Second)

	report := tr.Report()
	assert.Contains(t, report, "closed implicitly")
	assert.Contains(t, report, "still open")
}

func TestGuard_FiresAfterBudget(t *testing.T) {
	tr := New(WithThresholds(Thresholds{Total: 20 * time.Millisecond}))
	tr.StartPhase("gemini-analysis", nil)

	var out bytes.Buffer
	codes := make(chan int, 1)
	g := NewGuard(tr, func(code int) { codes <- code }, &out)
	g.Start()
	g.Start()

	select {
	case code := <-codes:
		assert.Equal(t, 1, code)
	case <-time.After(2 * time.Second):
		t.Fatal("guard did not fire")
	}
	assert.True(t, g.Fired())
	assert.Contains(t, out.String(), "Diagnostics Report")
	assert.Contains(t, out.String(), "gemini-analysis")
}

func TestGuard_StopPreventsFiring(t *testing.T) {
	tr := New(WithThresholds(Thresholds{Total: 30 * time.Millisecond}))
	fired := make(chan struct{}, 1)
	g := NewGuard(tr, func(int) { fired <- struct{}{} }, &bytes.Buffer{})

	g.Stop()
	g.Start()
	g.Stop()
	g.Stop()

	select {
	case <-fired:
		t.Fatal("guard fired after Stop")
	case <-time.After(100 * time.Millisecond):
	}
	assert.False(t, g.Fired())
}
