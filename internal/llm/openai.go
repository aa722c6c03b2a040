package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/azaman/internal/httpkit"
)

// Base URLs of the OpenAI-compatible providers.
const (
	OpenRouterURL = "https://openrouter.ai/api/v1"
	GroqURL       = "https://api.groq.com/openai/v1"
	TogetherURL   = "https://api.together.xyz/v1"
)

// OpenAIClient speaks the OpenAI chat completions protocol, which
// OpenRouter, Groq and Together all serve.
type OpenAIClient struct {
	name       string
	baseURL    string
	apiKey     string
	headers    map[string]string
	maxTokens  int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a client for the named provider at baseURL.
// extraHeaders are sent with every request.
func NewOpenAIClient(name, baseURL, apiKey string, maxTokens int, extraHeaders map[string]string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	headers := map[string]string{}
	for k, v := range extraHeaders {
		headers[k] = v
	}
	if apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}
	return &OpenAIClient{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		headers:    headers,
		maxTokens:  maxTokens,
		httpClient: httpkit.NewClient(),
		logger:     logger.With("provider", name),
	}
}

type openAIRequest struct {
	Model     string           `json:"model"`
	Messages  []openAIMessage  `json:"messages"`
	Tools     []map[string]any `json:"tools,omitempty"`
	MaxTokens int              `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"` // JSON-encoded object
	} `json:"function"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func toOpenAIMessages(messages []Message) ([]openAIMessage, error) {
	out := make([]openAIMessage, 0, len(messages))
	for _, m := range messages {
		content := m.Content
		om := openAIMessage{Role: m.Role, Content: &content, ToolCallID: m.ToolCallID}

		// A tool message without an id has nothing to answer; present it
		// as user text instead.
		if m.Role == RoleTool && m.ToolCallID == "" {
			text := "[tool result] " + m.Content
			om = openAIMessage{Role: RoleUser, Content: &text}
		}

		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Function.Arguments)
			if err != nil {
				return nil, fmt.Errorf("encode arguments for %s: %w", tc.Function.Name, err)
			}
			wire := openAIToolCall{ID: tc.ID, Type: "function"}
			wire.Function.Name = tc.Function.Name
			wire.Function.Arguments = string(args)
			om.ToolCalls = append(om.ToolCalls, wire)
		}
		if len(om.ToolCalls) > 0 && m.Content == "" {
			om.Content = nil
		}
		out = append(out, om)
	}
	return out, nil
}

func (r *openAIResponse) toChatResponse(provider string) (*ChatResponse, error) {
	if len(r.Choices) == 0 {
		return nil, fmt.Errorf("%s: response has no choices", provider)
	}
	msg := r.Choices[0].Message

	resp := &ChatResponse{
		Model:        r.Model,
		Provider:     provider,
		Done:         true,
		InputTokens:  r.Usage.PromptTokens,
		OutputTokens: r.Usage.CompletionTokens,
		Message:      Message{Role: RoleAssistant},
	}
	if r.Created > 0 {
		resp.CreatedAt = time.Unix(r.Created, 0)
	}
	if msg.Content != nil {
		resp.Message.Content = *msg.Content
	}
	for _, tc := range msg.ToolCalls {
		args, ok := decodeArguments(json.RawMessage(tc.Function.Arguments))
		if !ok {
			args = map[string]any{}
		}
		resp.Message.ToolCalls = append(resp.Message.ToolCalls, ToolCall{
			ID:       tc.ID,
			Function: FunctionCall{Name: tc.Function.Name, Arguments: args},
		})
	}
	return resp, nil
}

// Chat sends a chat completions request.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	wireMsgs, err := toOpenAIMessages(messages)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.name, err)
	}
	req := openAIRequest{
		Model:     model,
		Messages:  wireMsgs,
		Tools:     tools,
		MaxTokens: c.maxTokens,
	}

	start := time.Now()
	var wire openAIResponse
	if err := httpkit.PostJSON(ctx, c.httpClient, c.baseURL+"/chat/completions", c.headers, req, &wire, c.logger); err != nil {
		return nil, fmt.Errorf("%s: %w", c.name, err)
	}

	resp, err := wire.toChatResponse(c.name)
	if err != nil {
		return nil, err
	}
	resp.TotalDuration = time.Since(start)
	return resp, nil
}

// Ping lists models to verify the endpoint and key.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", c.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %w", c.name, &httpkit.StatusError{StatusCode: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 1024)})
	}
	httpkit.DrainAndClose(resp.Body, 4096)
	return nil
}
