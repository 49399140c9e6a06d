package report

import (
	"fmt"
	"strings"

	"slack-digest/internal/period"
)

// dailyActionItems caps the action items listed in the terse daily digest.
const dailyActionItems = 3

// NoActivityMessage is sent instead of a digest when the window had no messages.
func NoActivityMessage(kind period.Kind, w period.Window) string {
	switch kind {
	case period.Daily:
		return fmt.Sprintf("No activity in the channel today (%s).", period.Label(kind, w))
	case period.Weekly:
		return fmt.Sprintf("No activity in the channel for the week of %s.", period.Label(kind, w))
	default:
		return fmt.Sprintf("No activity in the channel for %s.", period.Label(kind, w))
	}
}

// Format renders an analysis as Slack mrkdwn. Daily digests are terse; weekly
// and monthly digests carry counts, topics and every action item.
func Format(kind period.Kind, w period.Window, a *Analysis) string {
	if a.Fallback {
		return formatFallback(kind, w, a)
	}
	if kind == period.Daily {
		return formatDaily(w, a)
	}
	return formatPeriodic(kind, w, a)
}

func formatDaily(w period.Window, a *Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Daily digest* - %s\n", period.Label(period.Daily, w))
	if s := strings.TrimSpace(a.Insights.Summary); s != "" {
		b.WriteString(s + "\n")
	}

	items := a.Insights.ActionItems
	if len(items) == 0 {
		return strings.TrimRight(b.String(), "\n")
	}
	b.WriteString("\n*Action items*\n")
	for i, item := range items {
		if i == dailyActionItems {
			fmt.Fprintf(&b, "_...and %d more_\n", len(items)-dailyActionItems)
			break
		}
		b.WriteString("• " + formatItem(item) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatPeriodic(kind period.Kind, w period.Window, a *Analysis) string {
	var b strings.Builder
	title := "Weekly"
	if kind == period.Monthly {
		title = "Monthly"
	}
	fmt.Fprintf(&b, "*%s digest* - %s\n", title, period.Label(kind, w))
	fmt.Fprintf(&b, "Messages: %d | Active users: %d\n", a.TotalMessages, a.ActiveUsers)

	if s := strings.TrimSpace(a.Insights.Summary); s != "" {
		b.WriteString("\n*Summary*\n" + s + "\n")
	}

	if len(a.Insights.KeyTopics) > 0 {
		b.WriteString("\n*Key topics*\n")
		for _, topic := range a.Insights.KeyTopics {
			b.WriteString("• " + topic + "\n")
		}
	}

	fmt.Fprintf(&b, "\n*Action items* (%d)\n", len(a.Insights.ActionItems))
	if len(a.Insights.ActionItems) == 0 {
		b.WriteString("None recorded.\n")
	}
	for i, item := range a.Insights.ActionItems {
		fmt.Fprintf(&b, "%d. %s\n", i+1, formatItem(item))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatFallback(kind period.Kind, w period.Window, a *Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s digest* - %s\n", titleCase(kind.String()), period.Label(kind, w))
	fmt.Fprintf(&b, "Messages: %d | Active users: %d\n", a.TotalMessages, a.ActiveUsers)
	b.WriteString("_A detailed summary is unavailable for this period._")
	return b.String()
}

func formatItem(item ActionItem) string {
	s := strings.TrimSpace(item.Task)
	var meta []string
	if item.Owner != "" {
		meta = append(meta, item.Owner)
	}
	if item.Due != "" {
		meta = append(meta, "due "+item.Due)
	}
	if len(meta) > 0 {
		s += " (" + strings.Join(meta, ", ") + ")"
	}
	return s
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
