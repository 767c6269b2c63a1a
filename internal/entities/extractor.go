// Package entities extracts the entities (keywords, topics, named
// concepts) a tab's content touches on, for use as the clustering
// engine's hybrid-similarity signal and as knowledge-graph nodes.
package entities

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"tabgraph/internal/llm"
	"tabgraph/internal/logging"
)

const maxEntitiesPerTab = 8

// Tab is the minimal content an extractor needs to see.
type Tab struct {
	ID      int64
	URL     string
	Title   string
	Summary string
}

// Extractor turns tab content into a flat list of entity names.
type Extractor interface {
	Extract(ctx context.Context, tab Tab) ([]string, error)
	ExtractBatch(ctx context.Context, tabs []Tab) ([][]string, error)
}

type llmExtractor struct {
	provider llm.Provider
	model    string
}

// NewLLMExtractor builds an Extractor that asks an llm.Provider for
// entities and falls back to keyword extraction whenever the call
// fails or returns something that doesn't parse.
func NewLLMExtractor(provider llm.Provider, model string) Extractor {
	return &llmExtractor{provider: provider, model: model}
}

var batchEntitiesSchema = &llm.JSONSchema{
	Name:   "batch_entity_extraction",
	Strict: true,
	Schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"results": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"entities": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string"},
						},
					},
					"required":             []any{"entities"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []any{"results"},
		"additionalProperties": false,
	},
}

type batchEntityResult struct {
	Results []struct {
		Entities []string `json:"entities"`
	} `json:"results"`
}

func (e *llmExtractor) Extract(ctx context.Context, tab Tab) ([]string, error) {
	out, err := e.ExtractBatch(ctx, []Tab{tab})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// ExtractBatch extracts entities for every tab in one call. A single
// tab short-circuits to the scalar prompt path; anything larger uses
// the strict-schema batch prompt, falling back to per-tab keyword
// extraction if the model call fails or returns a mismatched count.
func (e *llmExtractor) ExtractBatch(ctx context.Context, tabs []Tab) ([][]string, error) {
	if len(tabs) == 0 {
		return nil, nil
	}

	log := logging.From(ctx)

	if len(tabs) == 1 {
		names, err := e.extractWithLLM(ctx, tabs[0])
		if err != nil {
			log.Warn().Err(err).Int64("tab_id", tabs[0].ID).Msg("entity extraction fell back to keywords")
			return [][]string{extractWithKeywords(tabs[0])}, nil
		}
		return [][]string{names}, nil
	}

	names, err := e.extractBatchWithLLM(ctx, tabs)
	if err != nil {
		log.Warn().Err(err).Int("tab_count", len(tabs)).Msg("batch entity extraction fell back to keywords")
		out := make([][]string, len(tabs))
		for i, t := range tabs {
			out[i] = extractWithKeywords(t)
		}
		return out, nil
	}
	return names, nil
}

func (e *llmExtractor) extractWithLLM(ctx context.Context, tab Tab) ([]string, error) {
	prompt := entityPrompt(tab)
	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		Model:       e.model,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.3,
		MaxTokens:   100,
	})
	if err != nil {
		return nil, err
	}
	names := splitCommaList(resp.Content)
	if len(names) == 0 {
		return nil, fmt.Errorf("entities: empty response")
	}
	return names, nil
}

func (e *llmExtractor) extractBatchWithLLM(ctx context.Context, tabs []Tab) ([][]string, error) {
	var b strings.Builder
	for i, t := range tabs {
		fmt.Fprintf(&b, "Tab %d:\nTitle: %s\nURL: %s\n", i+1, t.Title, t.URL)
		if t.Summary != "" {
			fmt.Fprintf(&b, "Summary: %s\n", t.Summary)
		}
		b.WriteString("\n")
	}

	prompt := fmt.Sprintf(`Extract the most important keywords and topics for each of the following %d tabs.
For each tab, return 3-%d key entities (technologies, concepts, named things).

%s
Return a JSON object with a "results" array, one entry per tab in order, each with an "entities" array of strings.`, len(tabs), maxEntitiesPerTab, b.String())

	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		Model:       e.model,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.3,
		MaxTokens:   200 * len(tabs),
		Schema:      batchEntitiesSchema,
	})
	if err != nil {
		return nil, err
	}

	var parsed batchEntityResult
	if err := json.Unmarshal([]byte(resp.Content), &parsed); err != nil {
		return nil, fmt.Errorf("entities: parsing batch response: %w", err)
	}
	if len(parsed.Results) != len(tabs) {
		return nil, fmt.Errorf("entities: batch response had %d results for %d tabs", len(parsed.Results), len(tabs))
	}

	out := make([][]string, len(tabs))
	for i, r := range parsed.Results {
		if len(r.Entities) == 0 {
			out[i] = extractWithKeywords(tabs[i])
			continue
		}
		out[i] = r.Entities
	}
	return out, nil
}

func entityPrompt(tab Tab) string {
	content := tab.Summary
	if content == "" {
		content = tab.Title
	}
	return fmt.Sprintf(`Extract the most important keywords and topics from this content.

Title: %s
URL: %s
Content: %s

Return 3-%d key entities as a comma-separated list. Focus on technologies, concepts, named things, and topics. Do not include generic words.`, tab.Title, tab.URL, content, maxEntitiesPerTab)
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.Trim(p, `"'.`)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// techKeywords mirrors the fallback vocabulary: common technology and
// computing terms worth surfacing even without an LLM call available.
var techKeywords = []string{
	"python", "javascript", "typescript", "golang", "rust", "java", "react", "vue", "angular",
	"docker", "kubernetes", "aws", "gcp", "azure", "api", "rest", "graphql", "database", "sql",
	"nosql", "redis", "postgres", "mongodb", "machine learning", "ai", "llm", "neural network",
	"git", "github", "ci/cd", "devops", "microservices", "cloud", "security", "authentication",
}

var capitalizedWordRe = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9]{2,}\b`)

// extractWithKeywords is the deterministic fallback used when no LLM is
// available or the call fails: scans the title for known technology
// terms and capitalized words, and falls back to the URL's domain name
// if nothing else surfaces, guaranteeing a non-empty result.
func extractWithKeywords(tab Tab) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}

	haystack := strings.ToLower(tab.Title + " " + tab.Summary)
	for _, kw := range techKeywords {
		if strings.Contains(haystack, kw) {
			add(kw)
		}
		if len(out) >= maxEntitiesPerTab {
			break
		}
	}

	for _, m := range capitalizedWordRe.FindAllString(tab.Title, -1) {
		add(m)
		if len(out) >= maxEntitiesPerTab {
			break
		}
	}

	if len(out) == 0 {
		if domain := extractDomain(tab.URL); domain != "" {
			add(domain)
		} else if words := strings.Fields(tab.Title); len(words) > 0 {
			add(words[0])
		} else {
			add("Untitled")
		}
	}

	return out
}

var domainRe = regexp.MustCompile(`^([a-z0-9-]+\.)+[a-z]{2,}$`)

func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	if !domainRe.MatchString(host) {
		return host
	}
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}
	return host
}
