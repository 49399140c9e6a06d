package diagnostics

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// bottleneckShare is the fraction of total elapsed time above which a phase
// is listed as a bottleneck.
const bottleneckShare = 0.20

type recommendation struct {
	category Category
	// cutoff as a fraction of the category threshold
	factor float64
	advice string
}

var recommendations = []recommendation{
	{CategoryChat, 0.8, "Slack calls are slow: lower the fetch page size or max pages, and paginate across runs instead of fetching the whole window at once."},
	{CategoryAI, 1.0, "Gemini analysis is slow: reduce the prompt size (max_input_chars), batch messages into smaller requests, or switch to a faster model."},
	{CategoryPersistence, 0.6, "Database writes are slow: cache report history locally or batch writes after delivery."},
}

// Report renders the run summary, phase breakdown, bottlenecks, captured
// errors and recommendations as plain text.
func (t *Tracker) Report() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := t.Elapsed()
	budget := t.thresholds.Budget()
	phases := append([]PhaseRecord(nil), t.phases...)
	if t.open != nil {
		p := *t.open
		p.Duration = total - p.Start
		p.TimedOut = p.Duration > p.Threshold
		phases = append(phases, p)
	}

	var b strings.Builder
	b.WriteString("=== Diagnostics Report ===\n")

	verdict := "PASS"
	if total > budget {
		verdict = "FAIL"
	}
	fmt.Fprintf(&b, "Total elapsed: %s / budget %s (%.1f%%) [%s]\n", round(total), budget, percent(total, budget), verdict)

	b.WriteString("\nPhases:\n")
	if len(phases) == 0 {
		b.WriteString("  (none)\n")
	}
	for i, p := range phases {
		status := "OK"
		if p.TimedOut {
			status = "EXCEEDED"
		}
		var notes []string
		if t.open != nil && i == len(phases)-1 {
			notes = append(notes, "still open")
		} else if p.Close == CloseImplicit {
			notes = append(notes, "closed implicitly")
		}
		if p.Err != nil {
			notes = append(notes, "error: "+p.Err.Error())
		}
		line := fmt.Sprintf("  %-24s %10s  threshold %-6s %s", p.Name, round(p.Duration), p.Threshold, status)
		if len(notes) > 0 {
			line += " (" + strings.Join(notes, "; ") + ")"
		}
		b.WriteString(line + "\n")
	}

	bottlenecks := findBottlenecks(phases, total)
	b.WriteString("\nBottlenecks (>20% of total):\n")
	if len(bottlenecks) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, p := range bottlenecks {
		fmt.Fprintf(&b, "  %-24s %10s  %.1f%%\n", p.Name, round(p.Duration), percent(p.Duration, total))
	}

	if len(t.checkpoints) > 0 {
		b.WriteString("\nCheckpoints:\n")
		for _, c := range t.checkpoints {
			fmt.Fprintf(&b, "  %-24s at %s\n", c.Name, round(c.Elapsed))
		}
	}

	if len(t.errors) > 0 {
		b.WriteString("\nErrors:\n")
		for _, e := range t.errors {
			fmt.Fprintf(&b, "  [%s] %v", round(e.Elapsed), e.Err)
			if len(e.Context) > 0 {
				fmt.Fprintf(&b, " %s", formatContext(e.Context))
			}
			b.WriteString("\n")
		}
	}

	advice := t.recommendationsLocked(phases, total)
	b.WriteString("\nRecommendations:\n")
	if len(advice) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, a := range advice {
		b.WriteString("  - " + a + "\n")
	}

	return b.String()
}

// Recommendations returns the advice lines the report would print.
func (t *Tracker) Recommendations() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recommendationsLocked(t.phases, t.Elapsed())
}

func (t *Tracker) recommendationsLocked(phases []PhaseRecord, total time.Duration) []string {
	spent := make(map[Category]time.Duration)
	for _, p := range phases {
		spent[p.Category] += p.Duration
	}

	var out []string
	for _, r := range recommendations {
		cutoff := time.Duration(float64(t.thresholds.For(r.category)) * r.factor)
		if spent[r.category] > cutoff {
			out = append(out, r.advice)
		}
	}
	if total > t.thresholds.Budget() {
		out = append(out, fmt.Sprintf("The run took %s against a %s budget: upgrade the hosting plan's execution limit or split the report into smaller runs.", round(total), t.thresholds.Budget()))
	}
	return out
}

func findBottlenecks(phases []PhaseRecord, total time.Duration) []PhaseRecord {
	if total <= 0 {
		return nil
	}
	var out []PhaseRecord
	for _, p := range phases {
		if float64(p.Duration) > float64(total)*bottleneckShare {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Duration > out[j].Duration })
	return out
}

func formatContext(ctx map[string]any) string {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, ctx[k]))
	}
	return strings.Join(parts, " ")
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Millisecond)
}
