// Package llm provides the model gateway: a provider-agnostic chat
// interface, adapters for Anthropic, Ollama and OpenAI-compatible APIs,
// and the normalization applied to every response.
package llm

import "context"

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// tools uses the OpenAI function format; adapters convert it.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
