package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// MultiClient routes requests to a provider client. A model string of
// the form "provider/model" selects the provider explicitly; otherwise
// per-model routes and then the fallback provider are used.
type MultiClient struct {
	clients  map[string]Client // provider name → client
	models   map[string]string // model name → provider name
	fallback string
}

// NewMultiClient creates a client whose unrouted models go to the
// fallback provider.
func NewMultiClient(fallback string) *MultiClient {
	return &MultiClient{
		clients:  make(map[string]Client),
		models:   make(map[string]string),
		fallback: fallback,
	}
}

// AddProvider registers a client for a provider name.
func (m *MultiClient) AddProvider(name string, client Client) {
	m.clients[name] = client
}

// AddModel maps a model name to a provider.
func (m *MultiClient) AddModel(modelName, providerName string) {
	m.models[modelName] = providerName
}

// Providers returns the registered provider names, sorted.
func (m *MultiClient) Providers() []string {
	names := make([]string, 0, len(m.clients))
	for n := range m.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (m *MultiClient) hasProvider(name string) bool {
	_, ok := m.clients[name]
	return ok
}

// route resolves the client and the provider-local model id.
func (m *MultiClient) route(model string) (Client, string, error) {
	if provider, bare := SplitModelAndProvider(model, m.hasProvider); provider != "" {
		return m.clients[provider], bare, nil
	}
	if provider, ok := m.models[model]; ok {
		if client, ok := m.clients[provider]; ok {
			return client, model, nil
		}
	}
	if client, ok := m.clients[m.fallback]; ok {
		return client, model, nil
	}
	return nil, "", fmt.Errorf("no provider configured for model %q", model)
}

// Chat sends a request to the provider that serves model.
func (m *MultiClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	client, bare, err := m.route(model)
	if err != nil {
		return nil, err
	}
	return client.Chat(ctx, bare, messages, tools)
}

// Ping checks every registered provider and joins the failures.
func (m *MultiClient) Ping(ctx context.Context) error {
	if len(m.clients) == 0 {
		return errors.New("no providers configured")
	}
	var errs []error
	for _, name := range m.Providers() {
		if err := m.clients[name].Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
