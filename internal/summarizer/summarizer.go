// Package summarizer condenses a long conversation into a short digest
// that is carried in the conversation state and fed back to the model
// through the system prompt.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/nugget/azaman/internal/llm"
	"github.com/nugget/azaman/internal/prompts"
)

// DefaultThreshold is the history length above which a finished turn is
// summarized.
const DefaultThreshold = 10

// maxTranscriptBytes bounds the conversation text sent to the model.
// The oldest content is dropped first.
const maxTranscriptBytes = 16000

// ErrEmptySummary is returned when the model replies with no usable
// text. The response is still returned for usage accounting.
var ErrEmptySummary = errors.New("summarize: model returned an empty summary")

// Invoker is the model call the summarizer needs. *llm.Gateway
// satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, messages []llm.Message, tools []map[string]any) (*llm.ChatResponse, error)
}

// Summarizer produces conversation summaries with one model call.
type Summarizer struct {
	model     Invoker
	threshold int
	logger    *slog.Logger
}

// New creates a summarizer. A threshold of zero or less uses
// DefaultThreshold.
func New(model Invoker, threshold int, logger *slog.Logger) *Summarizer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		model:     model,
		threshold: threshold,
		logger:    logger.With("component", "summarizer"),
	}
}

// Threshold returns the configured history length threshold.
func (s *Summarizer) Threshold() int {
	return s.threshold
}

// ShouldSummarize reports whether a history of n messages needs a
// summary. The comparison is strict: exactly threshold messages do not.
func ShouldSummarize(n, threshold int) bool {
	return n > threshold
}

// ShouldSummarize applies the configured threshold.
func (s *Summarizer) ShouldSummarize(n int) bool {
	return ShouldSummarize(n, s.threshold)
}

// Summarize asks the model for a summary of messages. The returned
// response carries token usage for accounting. Model errors are returned
// wrapped; an empty reply returns ErrEmptySummary.
func (s *Summarizer) Summarize(ctx context.Context, messages []llm.Message) (string, *llm.ChatResponse, error) {
	prompt := prompts.SummaryPrompt(transcript(messages))

	resp, err := s.model.Invoke(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, nil)
	if err != nil {
		return "", nil, fmt.Errorf("summarize: %w", err)
	}

	summary := strings.TrimSpace(llm.StripThink(resp.Message.Content))
	if summary == "" {
		return "", resp, ErrEmptySummary
	}

	s.logger.Debug("conversation summarized",
		"messages", len(messages),
		"summary_len", len(summary),
		"input_tokens", resp.InputTokens,
	)
	return summary, resp, nil
}

// transcript returns the message contents in order, keeping the newest
// ones when the total exceeds maxTranscriptBytes. The message that
// crosses the limit keeps its tail up to the remaining budget.
func transcript(messages []llm.Message) []string {
	var contents []string
	total := 0
	for i := len(messages) - 1; i >= 0; i-- {
		c := strings.TrimSpace(messages[i].Content)
		if c == "" || messages[i].Role == llm.RoleSystem {
			continue
		}
		if remaining := maxTranscriptBytes - total; len(c) > remaining {
			if tail := trimToTail(c, remaining); tail != "" {
				contents = append(contents, tail)
			}
			break
		}
		total += len(c)
		contents = append(contents, c)
	}
	for i, j := 0, len(contents)-1; i < j; i, j = i+1, j-1 {
		contents[i], contents[j] = contents[j], contents[i]
	}
	return contents
}

// trimToTail returns the last n bytes of s, moved forward to a rune
// boundary.
func trimToTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
