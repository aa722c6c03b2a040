package prompts

import (
	"fmt"
	"strings"
)

// summaryTemplate asks the model for a digest of the conversation. The
// single format verb is the conversation text.
const summaryTemplate = `Summarize this conversation. Keep the user's name, budget figures, logged expenses and any open questions; drop greetings and small talk. Use at most 200 words.

Conversation:
%s

Summary:`

// SummaryPrompt returns the prompt for summarizing a conversation given
// the content of each message in order. Empty contents are skipped.
func SummaryPrompt(contents []string) string {
	var sb strings.Builder
	for _, c := range contents {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		sb.WriteString("- ")
		sb.WriteString(c)
		sb.WriteString("\n")
	}
	return fmt.Sprintf(summaryTemplate, strings.TrimRight(sb.String(), "\n"))
}
