package providers

import (
	"fmt"
	"net/http"

	"engram/internal/config"
	"engram/internal/llm"
	"engram/internal/llm/anthropic"
	"engram/internal/llm/google"
	openaillm "engram/internal/llm/openai"
)

// buildOne constructs a single named provider's client, unwrapped.
func buildOne(cfg config.Config, name string, httpClient *http.Client) (llm.Provider, error) {
	switch name {
	case "", "openai":
		return openaillm.New(cfg.LLMClient.OpenAI, httpClient), nil
	case "local":
		return openaillm.New(cfg.LLMClient.OpenAI, httpClient), nil
	case "anthropic":
		return anthropic.New(cfg.LLMClient.Anthropic, httpClient), nil
	case "google":
		return google.New(cfg.LLMClient.Google, httpClient)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", name)
	}
}

// Build constructs the primary llm.Provider for cfg.LLMClient.Provider,
// wrapped with the daemon's standard retry-and-circuit-breaker resilience
// policy. Use BuildWithFallback to additionally chain the configured
// FallbackTo providers for billing/auth/quota failover.
func Build(cfg config.Config, httpClient *http.Client) (llm.Provider, error) {
	p, err := buildOne(cfg, cfg.LLMClient.Provider, httpClient)
	if err != nil {
		return nil, err
	}
	return llm.NewResilientProvider(p), nil
}

// BuildWithFallback constructs the primary provider plus, in order, each
// provider named in cfg.LLMClient.FallbackTo. The channel pipeline
// (internal/channels) tries the primary first and walks the fallback chain on billing/auth/quota/rate
// errors (see engramerr.IsBillingAuthOrQuota).
func BuildWithFallback(cfg config.Config, httpClient *http.Client) ([]llm.Provider, error) {
	primary, err := Build(cfg, httpClient)
	if err != nil {
		return nil, err
	}
	chain := []llm.Provider{primary}
	for _, name := range cfg.LLMClient.FallbackTo {
		p, err := buildOne(cfg, name, httpClient)
		if err != nil {
			return nil, fmt.Errorf("build fallback provider %q: %w", name, err)
		}
		chain = append(chain, llm.NewResilientProvider(p))
	}
	return chain, nil
}
