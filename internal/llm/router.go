package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownProvider is returned for model ids no provider claims.
	ErrUnknownProvider = errors.New("unknown model provider")

	// ErrProviderNotConfigured is returned when the provider has no client.
	ErrProviderNotConfigured = errors.New("model provider not configured")

	// ErrEmptyResponse is returned when a stream ends without content or a stop reason.
	ErrEmptyResponse = errors.New("model returned an empty response")
)

// ResolveModel maps a model id to its provider. Ids may be explicit
// ("openai/gpt-4o") or bare ("gpt-4o", "o1-mini", "claude-3-5-sonnet-20241022").
func ResolveModel(id string) (Provider, string, error) {
	if provider, name, ok := strings.Cut(id, "/"); ok {
		switch Provider(provider) {
		case ProviderOpenAI, ProviderAnthropic:
			return Provider(provider), name, nil
		}
		return "", "", fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	switch {
	case strings.HasPrefix(id, "gpt-"), strings.HasPrefix(id, "o1"), strings.HasPrefix(id, "o3"), strings.HasPrefix(id, "o4"):
		return ProviderOpenAI, id, nil
	case strings.HasPrefix(id, "claude-"):
		return ProviderAnthropic, id, nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrUnknownProvider, id)
}

// Router dispatches requests to the provider that serves the requested model.
type Router struct {
	clients map[Provider]Client
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{clients: make(map[Provider]Client)}
}

// Register sets the client for a provider.
func (r *Router) Register(p Provider, c Client) {
	r.clients[p] = c
}

// Name returns the provider name.
func (r *Router) Name() string {
	return "router"
}

// Providers lists the configured providers.
func (r *Router) Providers() []Provider {
	out := make([]Provider, 0, len(r.clients))
	for _, p := range []Provider{ProviderOpenAI, ProviderAnthropic} {
		if _, ok := r.clients[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// CompleteStream routes req to its provider with the provider prefix removed.
func (r *Router) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	provider, name, err := ResolveModel(req.Model)
	if err != nil {
		return nil, err
	}
	client, ok := r.clients[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, provider)
	}

	routed := *req
	routed.Model = name
	return client.CompleteStream(ctx, &routed, callback)
}
