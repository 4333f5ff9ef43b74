package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"kotori-ai/internal/domain"
	"kotori-ai/internal/infra/config"
)

// Compile-time interface assertion.
var _ domain.ChatBackend = (*Registry)(nil)

// generator is the per-provider entry contract: a Failover, optionally
// wrapped in a BreakerFailover.
type generator interface {
	Generate(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)
}

// Registry resolves logical model names ("provider/model") to a provider's
// rotation loop. It owns one key pool, rate limiter, and failover per
// configured provider; the gateway only sees domain.ChatBackend.
type Registry struct {
	entries map[string]generator
	logger  *slog.Logger
}

// NewRegistry builds all configured providers.
func NewRegistry(cfg config.LLMConfig, logger *slog.Logger) (*Registry, error) {
	entries := make(map[string]generator, len(cfg.Providers))

	for name, pc := range cfg.Providers {
		provider, err := newProvider(name, pc, logger)
		if err != nil {
			return nil, err
		}

		secrets := pc.APIKeys
		if len(secrets) == 0 {
			// Local providers run keyless through a single-slot pool so the
			// rotation loop stays uniform.
			secrets = []string{""}
		}
		pool := NewKeyPool(name, secrets, cfg.Failover.BadCredentialCooldown)

		var limiter *rate.Limiter
		if pc.RequestsPerMinute > 0 {
			limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(pc.RequestsPerMinute)), 1)
		}

		fo := NewFailover(provider, pool, limiter, cfg.Failover, logger)
		if cfg.CircuitBreaker.Enabled {
			entries[name] = NewBreakerFailover(name, fo, cfg.CircuitBreaker, logger)
		} else {
			entries[name] = fo
		}
	}

	return &Registry{entries: entries, logger: logger}, nil
}

func newProvider(name string, pc config.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
	switch pc.Type {
	case "openai":
		return NewOpenAIProvider(name, pc, logger), nil
	case "gemini":
		return NewGeminiProvider(name, pc, logger), nil
	case "local":
		return NewOllamaProvider(name, pc, logger), nil
	default:
		return nil, fmt.Errorf("%w: provider %q has unknown type %q",
			domain.ErrProviderNotFound, name, pc.Type)
	}
}

// Generate implements domain.ChatBackend. The model argument is the logical
// "provider/model" name; the bare model name is what goes on the wire.
func (r *Registry) Generate(ctx context.Context, model string, req domain.ChatRequest) (*domain.ChatResponse, error) {
	providerName, bareModel, ok := strings.Cut(model, "/")
	if !ok || providerName == "" || bareModel == "" {
		return nil, fmt.Errorf("%w: model %q must be \"provider/model\"",
			domain.ErrProviderNotFound, model)
	}

	entry, found := r.entries[providerName]
	if !found {
		return nil, fmt.Errorf("%w: %q", domain.ErrProviderNotFound, providerName)
	}

	req.Model = bareModel
	resp, err := entry.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	// Report the logical name upstream so replies and logs stay addressable.
	resp.Model = model
	return resp, nil
}

// Providers returns the configured provider names.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}
