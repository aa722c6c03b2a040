package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nugget/azaman/internal/httpkit"
)

// DefaultAnthropicMaxTokens is used when no output limit is configured.
const DefaultAnthropicMaxTokens = 4096

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	client    anthropic.Client
	maxTokens int64
	logger    *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client. baseURL may be
// empty to use the public API.
func NewAnthropicClient(apiKey, baseURL string, maxTokens int, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	if maxTokens <= 0 {
		maxTokens = DefaultAnthropicMaxTokens
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpkit.NewClient()),
		// Retries belong to the caller; a failed turn is reported, not replayed.
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		maxTokens: int64(maxTokens),
		logger:    logger.With("provider", "anthropic"),
	}
}

// Chat sends a non-streaming Messages request.
func (c *AnthropicClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	msgs, system := convertToAnthropic(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: c.maxTokens,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if converted := convertToolsToAnthropic(tools); len(converted) > 0 {
		params.Tools = converted
	}

	c.logger.Debug("preparing request",
		"model", model,
		"messages", len(msgs),
		"tools", len(params.Tools),
		"system_len", len(system),
	)

	start := time.Now()
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	out := convertFromAnthropic(resp)
	out.TotalDuration = time.Since(start)
	return out, nil
}

// Ping verifies the API key by listing models.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		return fmt.Errorf("anthropic: %w", err)
	}
	return nil
}

// convertToAnthropic splits out the system prompt and maps the rest to
// Messages API turns. Tool results become user tool_result blocks, and
// consecutive same-role turns are merged because the API requires
// strict user/assistant alternation.
func convertToAnthropic(messages []Message) ([]anthropic.MessageParam, string) {
	var system []string
	var out []anthropic.MessageParam
	var lastRole string

	appendBlocks := func(role string, blocks []anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if role == lastRole && len(out) > 0 {
			out[len(out)-1].Content = append(out[len(out)-1].Content, blocks...)
			return
		}
		if role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
		lastRole = role
	}

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if m.Content != "" {
				system = append(system, m.Content)
			}

		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := tc.Function.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Function.Name))
			}
			appendBlocks(RoleAssistant, blocks)

		case RoleTool:
			if m.ToolCallID == "" {
				appendBlocks(RoleUser, []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock("[tool result] " + m.Content),
				})
				continue
			}
			isErr := strings.HasPrefix(m.Content, "Error:")
			appendBlocks(RoleUser, []anthropic.ContentBlockParamUnion{
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, isErr),
			})

		default:
			if m.Content != "" {
				appendBlocks(RoleUser, []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)})
			}
		}
	}

	return out, strings.Join(system, "\n\n")
}

// convertToolsToAnthropic maps OpenAI-format function definitions to
// Anthropic tool params.
func convertToolsToAnthropic(tools []map[string]any) []anthropic.ToolUnionParam {
	var out []anthropic.ToolUnionParam
	for _, t := range tools {
		fn, ok := t["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		if name == "" {
			continue
		}
		desc, _ := fn["description"].(string)

		var schema anthropic.ToolInputSchemaParam
		if params, ok := fn["parameters"].(map[string]any); ok {
			schema.Properties = params["properties"]
			schema.Required = stringSlice(params["required"])
		}

		param := anthropic.ToolParam{
			Name:        name,
			Description: anthropic.String(desc),
			InputSchema: schema,
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

func stringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// convertFromAnthropic maps a Messages API response to a ChatResponse.
// Text blocks are concatenated; tool_use blocks become tool calls.
func convertFromAnthropic(resp *anthropic.Message) *ChatResponse {
	out := &ChatResponse{
		Model:        string(resp.Model),
		Provider:     "anthropic",
		CreatedAt:    time.Now(),
		Done:         true,
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		Message:      Message{Role: RoleAssistant},
	}

	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				_ = json.Unmarshal(block.Input, &args)
			}
			out.Message.ToolCalls = append(out.Message.ToolCalls, ToolCall{
				ID:       block.ID,
				Function: FunctionCall{Name: block.Name, Arguments: args},
			})
		}
	}
	out.Message.Content = text.String()
	return out
}
