package agent

import "github.com/nugget/azaman/internal/llm"

// replayHistory prepares stored history for a model call. Persisted
// messages keep only role and content, so assistant turns that were pure
// tool calls come back empty and tool results come back without the id
// that pairs them with a call. Empty assistant entries are dropped and
// unpaired tool results are replayed as user context. Messages from the
// current turn still carry their calls and ids and pass through.
func replayHistory(messages []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		switch {
		case m.Role == llm.RoleAssistant && m.Content == "" && !m.HasToolCalls():
			continue
		case m.Role == llm.RoleTool && m.ToolCallID == "":
			out = append(out, llm.Message{Role: llm.RoleUser, Content: "[tool result] " + m.Content})
		default:
			out = append(out, m)
		}
	}
	return out
}
