package cluster

import (
	"context"
	"fmt"
	"strings"

	"tabgraph/internal/llm"
)

// Namer generates a short, general-purpose label for a cluster from its
// member tab titles and shared entities.
type Namer interface {
	Name(ctx context.Context, c *Cluster) (string, error)
}

type llmNamer struct {
	provider llm.Provider
	model    string
}

// NewLLMNamer builds a Namer backed by an llm.Provider chat completion,
// using the same broad-category prompt shape the clustering prototype
// used for Chrome tab group naming.
func NewLLMNamer(provider llm.Provider, model string) Namer {
	return &llmNamer{provider: provider, model: model}
}

func (n *llmNamer) Name(ctx context.Context, c *Cluster) (string, error) {
	titles := c.tabTitles()
	if len(titles) > 10 {
		titles = titles[:10]
	}
	entities := c.SharedEntities
	if len(entities) > 10 {
		entities = entities[:10]
	}

	var titleLines strings.Builder
	for _, t := range titles {
		titleLines.WriteString("- " + t + "\n")
	}
	entityLines := "None"
	if len(entities) > 0 {
		var b strings.Builder
		for _, e := range entities {
			b.WriteString("- " + e + "\n")
		}
		entityLines = strings.TrimRight(b.String(), "\n")
	}

	prompt := fmt.Sprintf(`You are naming a browser tab group. Generate a broad, general category name (1-3 words) that captures the overarching theme.

Tab titles in this group:
%s
Common entities:
%s

Rules:
- Use 1-3 words maximum
- Be GENERAL and BROAD - think high-level categories
- Prefer single-word or two-word labels when possible
- Avoid overly specific details
- Use title case

Examples:
- "Development" (not "React Development")
- "Databases" (not "Graph Database Research")
- "Machine Learning" (not "ML Papers on Transformers")
- "Documentation" (not "API Documentation")
- "Research" (not "Academic Paper Review")

Generate the name (no quotes, just the name):`, strings.TrimRight(titleLines.String(), "\n"), entityLines)

	resp, err := n.provider.Complete(ctx, llm.CompletionRequest{
		Model:       n.model,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.3,
		MaxTokens:   20,
	})
	if err != nil {
		return fallbackName(c), nil
	}
	name := strings.Trim(strings.TrimSpace(resp.Content), `"'`)
	if name == "" {
		return fallbackName(c), nil
	}
	return name, nil
}

func fallbackName(c *Cluster) string {
	id := c.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "Cluster " + id
}
