package period

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind selects the reporting cadence and the window rule applied to it.
type Kind int

const (
	Daily Kind = iota
	Weekly
	Monthly
)

var ErrUnknownKind = errors.New("unknown report kind")

// Kinds lists every report kind in cadence order.
func Kinds() []Kind {
	return []Kind{Daily, Weekly, Monthly}
}

func (k Kind) String() string {
	switch k {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts "daily", "weekly" or "monthly" in any case.
// An empty string yields Daily.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "daily":
		return Daily, nil
	case "weekly":
		return Weekly, nil
	case "monthly":
		return Monthly, nil
	default:
		return Daily, fmt.Errorf("%w: %q (must be daily, weekly or monthly)", ErrUnknownKind, s)
	}
}

// Window is the time range a report covers. Start never follows End.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window, both ends inclusive.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

func (w Window) String() string {
	return fmt.Sprintf("%s to %s", w.Start.Format("2006-01-02 15:04:05.000"), w.End.Format("2006-01-02 15:04:05.000"))
}

// StartOfDay truncates t to midnight in t's own location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EndOfDay returns 23:59:59.999 on t's calendar day in t's own location.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(999*time.Millisecond), t.Location())
}

// DailyWindow covers local midnight up to ref itself.
func DailyWindow(ref time.Time) Window {
	return Window{Start: StartOfDay(ref), End: ref}
}

// WeeklyWindow covers the full Monday-Sunday week before the week containing ref.
// Sunday counts as the seventh day of its week, so a Sunday reference and the
// Saturday before it resolve to the same window.
func WeeklyWindow(ref time.Time) Window {
	dow := int(ref.Weekday())
	mondayOffset := 1 - dow
	if dow == 0 {
		mondayOffset = -6
	}

	thisMonday := StartOfDay(ref).AddDate(0, 0, mondayOffset)
	start := thisMonday.AddDate(0, 0, -7)
	return Window{Start: start, End: EndOfDay(start.AddDate(0, 0, 6))}
}

// MonthlyWindow covers the whole calendar month before the month containing ref.
func MonthlyWindow(ref time.Time) Window {
	loc := ref.Location()
	start := time.Date(ref.Year(), ref.Month()-1, 1, 0, 0, 0, 0, loc)
	// Day 0 of the current month normalizes to the last day of the previous one.
	lastDay := time.Date(ref.Year(), ref.Month(), 0, 0, 0, 0, 0, loc)
	return Window{Start: start, End: EndOfDay(lastDay)}
}

// For dispatches to the window rule for kind.
func For(kind Kind, ref time.Time) (Window, error) {
	switch kind {
	case Daily:
		return DailyWindow(ref), nil
	case Weekly:
		return WeeklyWindow(ref), nil
	case Monthly:
		return MonthlyWindow(ref), nil
	default:
		return Window{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

// Label renders a human readable name for the period a window covers,
// e.g. "Mon, Jul 21" for daily or "Jul 21 - Jul 27, 2025" for weekly.
func Label(kind Kind, w Window) string {
	switch kind {
	case Daily:
		return w.Start.Format("Mon, Jan 2")
	case Weekly:
		return fmt.Sprintf("%s - %s", w.Start.Format("Jan 2"), w.End.Format("Jan 2, 2006"))
	case Monthly:
		return w.Start.Format("January 2006")
	default:
		return w.String()
	}
}
