// Package providers selects and constructs the configured llm.Provider.
package providers

import (
	"context"
	"fmt"
	"net/http"

	"tabgraph/internal/config"
	"tabgraph/internal/llm"
	"tabgraph/internal/llm/anthropic"
	"tabgraph/internal/llm/google"
	openaillm "tabgraph/internal/llm/openai"
)

// Build constructs the llm.Provider named by cfg.LLM.Provider.
func Build(ctx context.Context, cfg config.LLMConfig, httpClient *http.Client) (llm.Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		return openaillm.New(openaillm.Config{
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.Model,
			BaseURL: cfg.OpenAI.BaseURL,
		}, httpClient), nil
	case "anthropic":
		return anthropic.New(anthropic.Config{
			APIKey:  cfg.Anthropic.APIKey,
			Model:   cfg.Anthropic.Model,
			BaseURL: cfg.Anthropic.BaseURL,
		}, httpClient), nil
	case "google":
		return google.New(ctx, google.Config{
			APIKey: cfg.Google.APIKey,
			Model:  cfg.Google.Model,
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}
