// Package enrichment fills in an entity's global description, type and
// related concepts, plus a per-tab contextual description, by asking an
// LLM about the entity in the context of the page it was seen on.
package enrichment

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"tabgraph/internal/llm"
	"tabgraph/internal/logging"
)

// Context is the page the entity was encountered on, used to produce a
// context-aware rather than generic description.
type Context struct {
	TabID            int64
	TabURL           string
	TabTitle         string
	TabSummary       string
	RelatedEntities  []string
}

// Result is the enrichment outcome for one entity.
type Result struct {
	Name            string
	Description     string
	EntityType      string
	RelatedConcepts []string
	IsEnriched      bool
}

// Enricher produces enrichment Results for entities, one at a time.
// Individual calls never return an error: a failed or malformed model
// response degrades to an empty, unenriched Result so a single bad
// entity can't block the rest of a batch.
type Enricher interface {
	Enrich(ctx context.Context, entityName string, tabCtx Context) Result
}

type llmEnricher struct {
	provider llm.Provider
	model    string
	retry    RetryConfig
}

// RetryConfig mirrors the exponential-backoff-with-jitter shape used
// for other outbound calls in this service.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 1 * time.Second, MaxDelay: 10 * time.Second, Jitter: 0.3}
}

func NewLLMEnricher(provider llm.Provider, model string, retry RetryConfig) Enricher {
	return &llmEnricher{provider: provider, model: model, retry: retry}
}

func (e *llmEnricher) Enrich(ctx context.Context, entityName string, tabCtx Context) Result {
	log := logging.From(ctx)

	var lastErr error
	for attempt := 0; attempt < e.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := e.retry.BaseDelay * (1 << (attempt - 1))
			if delay > e.retry.MaxDelay {
				delay = e.retry.MaxDelay
			}
			delay += time.Duration(float64(delay) * e.retry.Jitter * rand.Float64())
			select {
			case <-ctx.Done():
				return emptyResult(entityName)
			case <-time.After(delay):
			}
		}

		resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
			Model:       e.model,
			Messages:    []llm.Message{{Role: "user", Content: enrichmentPrompt(entityName, tabCtx)}},
			Temperature: 0.3,
			MaxTokens:   250,
		})
		if err != nil {
			lastErr = err
			continue
		}

		result, ok := parseEnrichmentResponse(entityName, resp.Content)
		if !ok {
			lastErr = fmt.Errorf("enrichment: unparseable response for %q", entityName)
			continue
		}
		return result
	}

	log.Error().Err(lastErr).Str("entity", entityName).Msg("entity enrichment failed after retries")
	return emptyResult(entityName)
}

func enrichmentPrompt(entityName string, tabCtx Context) string {
	var context []string
	if tabCtx.TabURL != "" {
		context = append(context, "URL: "+tabCtx.TabURL)
	}
	if len(tabCtx.RelatedEntities) > 0 {
		related := tabCtx.RelatedEntities
		if len(related) > 5 {
			related = related[:5]
		}
		context = append(context, "Related concepts: "+strings.Join(related, ", "))
	}
	switch {
	case tabCtx.TabSummary != "":
		context = append(context, "Page summary: "+tabCtx.TabSummary)
	case tabCtx.TabTitle != "":
		context = append(context, "Page title: "+tabCtx.TabTitle)
	}

	typeList := "[concept, tool, person, organization, method, resource, topic, standard, event, location, other]"

	if len(context) == 0 {
		return fmt.Sprintf(`Provide information about %q. Include:
1. Entity Type: Choose ONE from %s
2. Description: 2-3 sentences explaining what it is
3. Related Entities: List 3-5 related entities or concepts (can be from any domain)

Format your response as:
Type: [type]
Description: [description]
Related: [entity1, entity2, entity3]`, entityName, typeList)
	}

	return fmt.Sprintf(`Provide information about %q in the context of this webpage:

%s

Include:
1. Entity Type: Choose ONE from %s
2. Description: 2-3 sentences explaining what it is IN THIS SPECIFIC CONTEXT
3. Related Entities: List 3-5 related entities from this domain

Format your response as:
Type: [type]
Description: [description]
Related: [entity1, entity2, entity3]`, entityName, strings.Join(context, "\n"), typeList)
}

func parseEnrichmentResponse(entityName, text string) (Result, bool) {
	entityType := "Other"
	var description string
	var related []string

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Type:"):
			entityType = strings.TrimSpace(strings.TrimPrefix(line, "Type:"))
		case strings.HasPrefix(line, "Description:"):
			description = strings.TrimSpace(strings.TrimPrefix(line, "Description:"))
		case strings.HasPrefix(line, "Related:"):
			raw := strings.TrimSpace(strings.TrimPrefix(line, "Related:"))
			for _, r := range strings.Split(raw, ",") {
				if r = strings.TrimSpace(r); r != "" {
					related = append(related, r)
				}
			}
		}
	}

	if description == "" {
		return Result{}, false
	}
	if len(description) > 300 {
		description = description[:300]
	}
	if len(related) > 5 {
		related = related[:5]
	}

	return Result{
		Name:            entityName,
		Description:     description,
		EntityType:      entityType,
		RelatedConcepts: related,
		IsEnriched:      true,
	}, true
}

func emptyResult(entityName string) Result {
	return Result{Name: entityName, EntityType: "Unknown"}
}
