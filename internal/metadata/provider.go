// Package metadata generates a short label, attribution source, and
// summary for a tab from its title and URL, with a deterministic
// domain-derived fallback when no model call is available or it fails.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"tabgraph/internal/llm"
)

// Metadata is the generated description of a tab.
type Metadata struct {
	Label        string
	Source       string
	Summary      string
	DisplayLabel string
}

// Provider generates Metadata for a tab. Implementations never return
// an error: a failed generation degrades to Fallback.
type Provider interface {
	Generate(ctx context.Context, title, tabURL string) Metadata
}

var metadataSchema = &llm.JSONSchema{
	Name:   "tab_metadata",
	Strict: true,
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"label":   map[string]any{"type": "string"},
			"source":  map[string]any{"type": "string"},
			"summary": map[string]any{"type": "string"},
		},
		"required":             []any{"label", "source", "summary"},
		"additionalProperties": false,
	},
}

type llmProvider struct {
	provider llm.Provider
	model    string
}

// NewLLMProvider builds a Provider backed by an llm.Provider chat
// completion constrained to the label/source/summary schema.
func NewLLMProvider(provider llm.Provider, model string) Provider {
	return &llmProvider{provider: provider, model: model}
}

func (p *llmProvider) Generate(ctx context.Context, title, tabURL string) Metadata {
	prompt := fmt.Sprintf(`Generate metadata for this webpage:

Title: %s
URL: %s

Provide:
- label: Concise 6-word-max description
- source: Most relevant attribution (for social/articles use "Author, Platform")
- summary: 2-3 sentence summary`, title, tabURL)

	resp, err := p.provider.Complete(ctx, llm.CompletionRequest{
		Model:       p.model,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.3,
		MaxTokens:   200,
		Schema:      metadataSchema,
	})
	if err != nil {
		return Fallback(title, tabURL)
	}

	var data struct {
		Label   string `json:"label"`
		Source  string `json:"source"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(resp.Content), &data); err != nil || data.Label == "" {
		return Fallback(title, tabURL)
	}

	return Metadata{
		Label:        data.Label,
		Source:       data.Source,
		Summary:      data.Summary,
		DisplayLabel: data.Label + " • " + data.Source,
	}
}

// Fallback builds deterministic metadata from the title and the
// page's domain alone, for use when no model call is configured or the
// call fails.
func Fallback(title, tabURL string) Metadata {
	domain := extractDomain(tabURL)
	label := title
	if len(label) > 50 {
		label = label[:50]
	}
	if label == "" {
		label = "Untitled"
	}
	return Metadata{
		Label:        label,
		Source:       domain,
		DisplayLabel: label + " • " + domain,
	}
}

// extractDomain renders a host into a title-cased attribution, peeling
// off common subdomain prefixes like "docs." and "api." so
// docs.anthropic.com reads as "Anthropic" rather than "Docs".
func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "Web"
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	switch {
	case strings.HasPrefix(host, "docs."):
		host = strings.TrimPrefix(host, "docs.")
	case strings.HasPrefix(host, "api."):
		host = strings.TrimPrefix(host, "api.")
	}
	parts := strings.SplitN(host, ".", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "Web"
	}
	return strings.Title(parts[0])
}
