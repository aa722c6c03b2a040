package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// ManualCallID is the id given to a tool call recovered from response
// text rather than the provider's native tool-call channel.
const ManualCallID = "manual_call"

// Gateway invokes a single configured model and normalizes what comes
// back, so the turn loop sees the same shape from every provider.
type Gateway struct {
	client Client
	model  string
	logger *slog.Logger
}

// NewGateway creates a gateway for model on client.
func NewGateway(client Client, model string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		client: client,
		model:  model,
		logger: logger.With("component", "gateway", "model", model),
	}
}

// Model returns the model id this gateway invokes.
func (g *Gateway) Model() string {
	return g.model
}

// Invoke sends messages and returns the normalized response.
// Connectivity and provider errors are wrapped as "model call".
func (g *Gateway) Invoke(ctx context.Context, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	resp, err := g.client.Chat(ctx, g.model, messages, tools)
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}

	if NormalizeTextToolCall(&resp.Message) {
		g.logger.Warn("model emitted tool call as text; normalized",
			"tool", resp.Message.ToolCalls[0].Function.Name)
	}
	assignToolCallIDs(&resp.Message)
	if resp.Message.Role == "" {
		resp.Message.Role = RoleAssistant
	}
	return resp, nil
}

// Ping checks that the backing provider is reachable.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.client.Ping(ctx)
}

// NormalizeTextToolCall converts a response whose content is a JSON
// object {"name": ..., "parameters": ...} into a single tool call with
// id [ManualCallID] and clears the content. "arguments" is accepted in
// place of "parameters", and the parameters may themselves be a JSON
// string. It reports whether the message was changed; anything that does
// not parse is left untouched.
func NormalizeTextToolCall(msg *Message) bool {
	if len(msg.ToolCalls) > 0 {
		return false
	}
	content := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(content, "{") {
		return false
	}

	var call struct {
		Name       string          `json:"name"`
		Parameters json.RawMessage `json:"parameters"`
		Arguments  json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(content), &call); err != nil || call.Name == "" {
		return false
	}

	raw := call.Parameters
	if raw == nil {
		raw = call.Arguments
	}
	if raw == nil {
		return false
	}

	args, ok := decodeArguments(raw)
	if !ok {
		return false
	}

	msg.ToolCalls = []ToolCall{{
		ID:       ManualCallID,
		Function: FunctionCall{Name: call.Name, Arguments: args},
	}}
	msg.Content = ""
	return true
}

// decodeArguments accepts a JSON object or a JSON string containing one.
func decodeArguments(raw json.RawMessage) (map[string]any, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = json.RawMessage(s)
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, false
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, true
}

// assignToolCallIDs gives every call without a provider id a
// positional one, so tool results can always be paired with calls.
func assignToolCallIDs(msg *Message) {
	for i := range msg.ToolCalls {
		if msg.ToolCalls[i].ID == "" {
			msg.ToolCalls[i].ID = fmt.Sprintf("call_%d", i)
		}
		if msg.ToolCalls[i].Function.Arguments == nil {
			msg.ToolCalls[i].Function.Arguments = map[string]any{}
		}
	}
}

// SplitModelAndProvider splits "provider/model" on the first slash when
// the prefix is a known provider. Model ids that merely contain a slash
// (OpenRouter's "google/gemini-2.0-flash") come back unchanged with an
// empty provider.
func SplitModelAndProvider(name string, known func(string) bool) (provider, model string) {
	prefix, rest, ok := strings.Cut(name, "/")
	if ok && known != nil && known(prefix) {
		return prefix, rest
	}
	return "", name
}

// StripThink removes <think>...</think> reasoning blocks that some
// local models prepend to their answer. An unterminated block runs to
// the end of the text.
func StripThink(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start < 0 {
			return s
		}
		end := strings.Index(s[start:], "</think>")
		if end < 0 {
			return s[:start]
		}
		s = s[:start] + s[start+end+len("</think>"):]
	}
}
