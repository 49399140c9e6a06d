// Package slack adapts the Slack Web API to the report fetch and delivery
// interfaces.
package slack

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"slack-digest/internal/logger"
	"slack-digest/internal/report"
)

// api is the subset of *slack.Client used here.
type api interface {
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

type Options struct {
	PageSize int // messages per conversations.history call
	MaxPages int // upper bound on pages per fetch
}

// Client fetches channel history and sends direct messages.
type Client struct {
	api      api
	pageSize int
	maxPages int
	log      *logrus.Entry

	mu    sync.Mutex
	names map[string]string
}

func New(token string, opts Options) *Client {
	return newClient(slack.New(token), opts)
}

func newClient(a api, opts Options) *Client {
	if opts.PageSize <= 0 {
		opts.PageSize = 200
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 10
	}
	return &Client{
		api:      a,
		pageSize: opts.PageSize,
		maxPages: opts.MaxPages,
		log:      logger.WithComponent("slack"),
		names:    make(map[string]string),
	}
}

// GetChannelMessages pages through the channel history since the given
// instant and returns human messages oldest first.
func (c *Client) GetChannelMessages(ctx context.Context, channelID string, since time.Time) ([]report.Message, error) {
	params := &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Oldest:    formatTimestamp(since),
		Limit:     c.pageSize,
	}

	messages := make([]report.Message, 0)
	for page := 1; ; page++ {
		resp, err := c.api.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("conversations.history for %s: %w", channelID, err)
		}

		for _, m := range resp.Messages {
			if skipMessage(m) {
				continue
			}
			ts, err := parseTimestamp(m.Timestamp)
			if err != nil {
				c.log.WithError(err).Debugf("Skipping message with bad timestamp %q", m.Timestamp)
				continue
			}
			messages = append(messages, report.Message{
				User:      c.displayName(ctx, m.User),
				Text:      m.Text,
				Timestamp: ts,
			})
		}

		next := resp.ResponseMetaData.NextCursor
		if !resp.HasMore || next == "" {
			break
		}
		if page >= c.maxPages {
			c.log.Warnf("Stopped after %d pages of %s history, older messages are not included", page, channelID)
			break
		}
		params.Cursor = next
	}

	sort.SliceStable(messages, func(i, j int) bool { return messages[i].Timestamp.Before(messages[j].Timestamp) })
	return messages, nil
}

// SendDirectMessage opens (or reuses) the DM channel with userID and posts text.
func (c *Client) SendDirectMessage(ctx context.Context, userID, text string) error {
	ch, _, _, err := c.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{Users: []string{userID}})
	if err != nil {
		return fmt.Errorf("conversations.open for %s: %w", userID, err)
	}
	if _, _, err := c.api.PostMessageContext(ctx, ch.ID, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("chat.postMessage to %s: %w", userID, err)
	}
	return nil
}

// displayName resolves a user ID once per client. Lookup failures fall back to the ID.
func (c *Client) displayName(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	c.mu.Lock()
	name, ok := c.names[userID]
	c.mu.Unlock()
	if ok {
		return name
	}

	name = userID
	if u, err := c.api.GetUserInfoContext(ctx, userID); err != nil {
		c.log.WithError(err).Debugf("users.info failed for %s", userID)
	} else if u.Profile.DisplayName != "" {
		name = u.Profile.DisplayName
	} else if u.RealName != "" {
		name = u.RealName
	}

	c.mu.Lock()
	c.names[userID] = name
	c.mu.Unlock()
	return name
}

// skipMessage drops bot posts and channel events such as joins.
func skipMessage(m slack.Message) bool {
	if m.BotID != "" {
		return true
	}
	switch m.SubType {
	case "", "thread_broadcast", "file_share":
		return strings.TrimSpace(m.Text) == ""
	default:
		return true
	}
}

func formatTimestamp(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}

// parseTimestamp converts a Slack "seconds.micros" timestamp.
func parseTimestamp(ts string) (time.Time, error) {
	secPart, microPart, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid slack timestamp %q: %w", ts, err)
	}
	var micros int64
	if microPart != "" {
		micros, err = strconv.ParseInt(microPart, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid slack timestamp %q: %w", ts, err)
		}
	}
	return time.Unix(sec, micros*1000), nil
}
