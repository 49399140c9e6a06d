package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"slack-digest/internal/period"
)

// Message is one channel message inside a report window.
type Message struct {
	User      string
	Text      string
	Timestamp time.Time
}

// Fetcher retrieves channel messages posted at or after since. It returns an
// empty slice, not an error, when the channel was quiet.
type Fetcher interface {
	GetChannelMessages(ctx context.Context, channelID string, since time.Time) ([]Message, error)
}

// Deliverer sends text to a single user as a direct message.
type Deliverer interface {
	SendDirectMessage(ctx context.Context, userID, text string) error
}

// Analyzer summarizes messages for a report kind.
type Analyzer interface {
	AnalyzeMessages(ctx context.Context, messages []Message, kind period.Kind) (*Analysis, error)
}

// Store persists report history. It is optional.
type Store interface {
	SaveReport(ctx context.Context, record *HistoryRecord) error
}

type ActionItem struct {
	Task  string `json:"task"`
	Owner string `json:"owner,omitempty"`
	Due   string `json:"due,omitempty"`
}

type Insights struct {
	Summary     string       `json:"summary"`
	KeyTopics   []string     `json:"keyTopics,omitempty"`
	ActionItems []ActionItem `json:"actionItems"`
}

// Analysis is the summarizer's output. When Fallback is set the summarizer
// failed and only the counts are meaningful.
type Analysis struct {
	Insights       Insights `json:"insights"`
	TotalMessages  int      `json:"totalMessages"`
	ActiveUsers    int      `json:"activeUsers"`
	Fallback       bool     `json:"-"`
	FallbackReason string   `json:"-"`
}

var ErrMalformedAnalysis = errors.New("malformed analysis")

// Validate rejects analyses the formatter cannot trust.
func (a *Analysis) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: empty result", ErrMalformedAnalysis)
	}
	if a.TotalMessages < 0 || a.ActiveUsers < 0 {
		return fmt.Errorf("%w: negative counts", ErrMalformedAnalysis)
	}
	if a.Fallback {
		return nil
	}
	if strings.TrimSpace(a.Insights.Summary) == "" && len(a.Insights.ActionItems) == 0 {
		return fmt.Errorf("%w: no summary and no action items", ErrMalformedAnalysis)
	}
	for i, item := range a.Insights.ActionItems {
		if strings.TrimSpace(item.Task) == "" {
			return fmt.Errorf("%w: action item %d has no task", ErrMalformedAnalysis, i)
		}
	}
	return nil
}

// FallbackAnalysis builds a counts-only analysis from raw messages.
func FallbackAnalysis(messages []Message, reason string) *Analysis {
	return &Analysis{
		TotalMessages:  len(messages),
		ActiveUsers:    CountActiveUsers(messages),
		Fallback:       true,
		FallbackReason: reason,
	}
}

func CountActiveUsers(messages []Message) int {
	users := make(map[string]struct{}, len(messages))
	for _, m := range messages {
		if m.User != "" {
			users[m.User] = struct{}{}
		}
	}
	return len(users)
}

// Request selects what a run reports on and who receives it.
type Request struct {
	Kind       period.Kind
	ChannelID  string
	Recipients []string
}

var ErrNoRecipients = errors.New("no recipients")

func (r Request) Validate() error {
	if r.ChannelID == "" {
		return errors.New("channel id is required")
	}
	if len(r.Recipients) == 0 {
		return ErrNoRecipients
	}
	return nil
}

// Delivery is the outcome for one recipient.
type Delivery struct {
	Recipient string
	Err       error
}

// Result describes a finished run.
type Result struct {
	RunID        string
	Kind         period.Kind
	Window       period.Window
	MessageCount int
	ActiveUsers  int
	NoActivity   bool
	Fallback     bool
	Text         string
	Deliveries   []Delivery
}

func (r *Result) Delivered() []string {
	var out []string
	for _, d := range r.Deliveries {
		if d.Err == nil {
			out = append(out, d.Recipient)
		}
	}
	return out
}

func (r *Result) Failed() []Delivery {
	var out []Delivery
	for _, d := range r.Deliveries {
		if d.Err != nil {
			out = append(out, d)
		}
	}
	return out
}

// Err joins every delivery failure, or returns nil when all succeeded.
func (r *Result) Err() error {
	var errs []error
	for _, d := range r.Failed() {
		errs = append(errs, fmt.Errorf("deliver to %s: %w", d.Recipient, d.Err))
	}
	return errors.Join(errs...)
}

// HistoryRecord is the persisted form of a run.
type HistoryRecord struct {
	ID           string
	Kind         string
	WindowStart  time.Time
	WindowEnd    time.Time
	MessageCount int
	ActiveUsers  int
	Summary      string
	Fallback     bool
	Delivered    int
	Failed       int
	CreatedAt    time.Time
}

func newHistoryRecord(res *Result, createdAt time.Time) *HistoryRecord {
	return &HistoryRecord{
		ID:           res.RunID,
		Kind:         res.Kind.String(),
		WindowStart:  res.Window.Start,
		WindowEnd:    res.Window.End,
		MessageCount: res.MessageCount,
		ActiveUsers:  res.ActiveUsers,
		Summary:      res.Text,
		Fallback:     res.Fallback,
		Delivered:    len(res.Delivered()),
		Failed:       len(res.Failed()),
		CreatedAt:    createdAt,
	}
}
