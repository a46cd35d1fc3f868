package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/docqa/internal/config"
	"github.com/nikhilbhutani/docqa/internal/models"
)

type gateway struct {
	providers  map[string]Provider
	primary    string
	fallback   string
	maxRetries int
	backoff    func(attempt int) time.Duration
}

// NewGateway registers every provider that has credentials or a URL in cfg.
func NewGateway(cfg config.LLMConfig) Gateway {
	var providers []Provider
	if cfg.OpenAIKey != "" {
		providers = append(providers, NewOpenAIProvider(cfg.OpenAIKey, cfg.OpenAIBaseURL))
	}
	if cfg.AnthropicKey != "" {
		providers = append(providers, NewAnthropicProvider(cfg.AnthropicKey))
	}
	if cfg.OllamaURL != "" {
		providers = append(providers, NewOllamaProvider(cfg.OllamaURL))
	}
	return NewGatewayWithProviders(cfg.DefaultProvider, cfg.FallbackProvider, cfg.MaxRetries, providers...)
}

// NewGatewayWithProviders builds a gateway over an explicit provider set.
// Chat calls are attempted up to maxRetries+1 times per provider.
func NewGatewayWithProviders(primary, fallback string, maxRetries int, providers ...Provider) Gateway {
	g := &gateway{
		providers:  make(map[string]Provider, len(providers)),
		primary:    primary,
		fallback:   fallback,
		maxRetries: maxRetries,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * 500 * time.Millisecond
		},
	}
	for _, p := range providers {
		g.providers[p.Name()] = p
	}
	return g
}

func (g *gateway) provider(name string) (Provider, error) {
	if name == "" {
		name = g.primary
	}
	p, ok := g.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: provider %q not configured", models.ErrConfiguration, name)
	}
	return p, nil
}

func (g *gateway) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p, err := g.provider(req.Provider)
	if err != nil {
		return nil, err
	}

	resp, err := g.complete(ctx, p, req)
	if err == nil || ctx.Err() != nil || g.fallback == "" || g.fallback == p.Name() {
		return resp, err
	}

	alt, aerr := g.provider(g.fallback)
	if aerr != nil {
		return nil, err
	}
	slog.Warn("primary provider failed, trying fallback", "primary", p.Name(), "fallback", alt.Name(), "error", err)

	// The requested model belongs to the primary provider.
	req.Model = alt.Defaults().Chat
	return g.complete(ctx, alt, req)
}

// complete retries transient failures only; anything else returns at once.
func (g *gateway) complete(ctx context.Context, p Provider, req ChatRequest) (*ChatResponse, error) {
	var lastErr error
	for attempt := range g.maxRetries + 1 {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(g.backoff(attempt)):
			}
			slog.Debug("retrying chat completion", "provider", p.Name(), "attempt", attempt)
		}

		resp, err := p.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, models.ErrTransientProvider) {
			return nil, err
		}
		lastErr = err
	}
	return nil, &models.RetryExhaustedError{Attempts: g.maxRetries + 1, Err: lastErr}
}

// Embed makes a single call; the embedding service owns retries.
func (g *gateway) Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	p, err := g.provider(req.Provider)
	if err != nil {
		return nil, err
	}
	return p.Embed(ctx, req)
}

func (g *gateway) Ping(ctx context.Context, name string) error {
	p, err := g.provider(name)
	if err != nil {
		return err
	}
	return p.Ping(ctx)
}
