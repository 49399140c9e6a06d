package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"slack-digest/internal/logger"
	"slack-digest/internal/period"
	"slack-digest/internal/report"
)

const (
	DefaultBaseURL       = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultModel         = "gemini-2.0-flash"
	DefaultMaxTokens     = 2048
	DefaultMaxInputChars = 60000
	DefaultTimeout       = 30 * time.Second
)

// completer is the part of *openai.Client the analyzer calls.
type completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type Options struct {
	BaseURL       string
	Model         string
	MaxTokens     int
	Temperature   float32
	MaxInputChars int // transcript is cut to this many characters, newest kept
	Timeout       time.Duration
}

// Gemini summarizes channel messages through Gemini's OpenAI-compatible API.
type Gemini struct {
	client        completer
	model         string
	maxTokens     int
	temperature   float32
	maxInputChars int
	timeout       time.Duration
	log           *logrus.Entry
}

func NewGemini(apiKey string, opts Options) *Gemini {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = opts.BaseURL
	return newGemini(openai.NewClientWithConfig(cfg), opts)
}

func newGemini(c completer, opts Options) *Gemini {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.MaxInputChars <= 0 {
		opts.MaxInputChars = DefaultMaxInputChars
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Gemini{
		client:        c,
		model:         opts.Model,
		maxTokens:     opts.MaxTokens,
		temperature:   opts.Temperature,
		maxInputChars: opts.MaxInputChars,
		timeout:       opts.Timeout,
		log:           logger.WithComponent("analyzer"),
	}
}

var errEmptyResponse = errors.New("empty response from model")

// AnalyzeMessages asks the model for a summary, key topics and action items.
// Counts are always computed from messages, never taken from the model.
func (g *Gemini) AnalyzeMessages(ctx context.Context, messages []report.Message, kind period.Kind) (*report.Analysis, error) {
	transcript, truncated := buildTranscript(messages, g.maxInputChars)
	if truncated {
		g.log.Warnf("Transcript truncated to %d characters for %s analysis", g.maxInputChars, kind)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: promptFor(kind) + "\n\nMessages:\n" + transcript},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call model %s: %w", g.model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, errEmptyResponse
	}

	insights, err := parseInsights(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	g.log.WithFields(logrus.Fields{
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
	}).Debugf("Analyzed %d messages", len(messages))

	return &report.Analysis{
		Insights:      *insights,
		TotalMessages: len(messages),
		ActiveUsers:   report.CountActiveUsers(messages),
	}, nil
}

// buildTranscript renders one "[15:04] user: text" line per message. When the
// result exceeds limit the oldest lines are dropped.
func buildTranscript(messages []report.Message, limit int) (string, bool) {
	lines := make([]string, len(messages))
	size := 0
	for i, m := range messages {
		user := m.User
		if user == "" {
			user = "unknown"
		}
		lines[i] = fmt.Sprintf("[%s] %s: %s", m.Timestamp.Format("Jan 2 15:04"), user, strings.TrimSpace(m.Text))
		size += len(lines[i]) + 1
	}

	start := 0
	for size > limit && start < len(lines) {
		size -= len(lines[start]) + 1
		start++
	}
	return strings.Join(lines[start:], "\n"), start > 0
}

// parseInsights accepts bare JSON, fenced JSON, or JSON surrounded by prose.
func parseInsights(content string) (*report.Insights, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", report.ErrMalformedAnalysis)
	}
	var insights report.Insights
	if err := json.Unmarshal([]byte(raw), &insights); err != nil {
		return nil, fmt.Errorf("%w: %v", report.ErrMalformedAnalysis, err)
	}
	return &insights, nil
}

func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	first := strings.Index(s, "{")
	last := strings.LastIndex(s, "}")
	if first < 0 || last < first {
		return ""
	}
	return s[first : last+1]
}
