package enrichment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabgraph/internal/llm"
)

type fakeProvider struct {
	complete func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResult, error)
}

func (f *fakeProvider) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResult, error) {
	return f.complete(ctx, req)
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Jitter: 0}
}

func TestEnrich_ParsesWellFormedResponse(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{complete: func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResult, error) {
		return llm.CompletionResult{Content: "Type: tool\nDescription: A programming language.\nRelated: Rust, C++, Python"}, nil
	}}
	e := NewLLMEnricher(provider, "test-model", fastRetry())

	result := e.Enrich(context.Background(), "Go", Context{})
	assert.True(t, result.IsEnriched)
	assert.Equal(t, "Go", result.Name)
	assert.Equal(t, "tool", result.EntityType)
	assert.Equal(t, "A programming language.", result.Description)
	assert.Equal(t, []string{"Rust", "C++", "Python"}, result.RelatedConcepts)
}

func TestEnrich_DegradesToEmptyResultAfterRetriesExhausted(t *testing.T) {
	t.Parallel()
	calls := 0
	provider := &fakeProvider{complete: func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResult, error) {
		calls++
		return llm.CompletionResult{}, errors.New("rate limited")
	}}
	e := NewLLMEnricher(provider, "test-model", fastRetry())

	result := e.Enrich(context.Background(), "Go", Context{})
	assert.False(t, result.IsEnriched)
	assert.Equal(t, "Unknown", result.EntityType)
	assert.Equal(t, 3, calls)
}

func TestEnrich_RetriesOnUnparseableResponseThenSucceeds(t *testing.T) {
	t.Parallel()
	calls := 0
	provider := &fakeProvider{complete: func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResult, error) {
		calls++
		if calls < 2 {
			return llm.CompletionResult{Content: "not in the expected format"}, nil
		}
		return llm.CompletionResult{Content: "Type: concept\nDescription: Retried ok."}, nil
	}}
	e := NewLLMEnricher(provider, "test-model", fastRetry())

	result := e.Enrich(context.Background(), "Go", Context{})
	assert.True(t, result.IsEnriched)
	assert.Equal(t, 2, calls)
}

func TestEnrich_StopsRetryingWhenContextCancelled(t *testing.T) {
	t.Parallel()
	calls := 0
	provider := &fakeProvider{complete: func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResult, error) {
		calls++
		return llm.CompletionResult{}, errors.New("down")
	}}
	e := NewLLMEnricher(provider, "test-model", RetryConfig{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result := e.Enrich(ctx, "Go", Context{})
	assert.False(t, result.IsEnriched)
	assert.Less(t, calls, 5)
}

func TestEnrichmentPrompt_GenericWhenNoContext(t *testing.T) {
	t.Parallel()
	prompt := enrichmentPrompt("Go", Context{})
	assert.Contains(t, prompt, `Provide information about "Go"`)
	assert.NotContains(t, prompt, "IN THIS SPECIFIC CONTEXT")
}

func TestEnrichmentPrompt_ContextAwareWhenTabInfoPresent(t *testing.T) {
	t.Parallel()
	prompt := enrichmentPrompt("Go", Context{
		TabURL:          "https://go.dev",
		TabTitle:        "The Go homepage",
		RelatedEntities: []string{"a", "b", "c", "d", "e", "f"},
	})
	assert.Contains(t, prompt, "IN THIS SPECIFIC CONTEXT")
	assert.Contains(t, prompt, "URL: https://go.dev")
	assert.Contains(t, prompt, "Page title: The Go homepage")
	// related entities capped at 5
	assert.NotContains(t, prompt, ", f")
}

func TestEnrichmentPrompt_PrefersSummaryOverTitle(t *testing.T) {
	t.Parallel()
	prompt := enrichmentPrompt("Go", Context{TabSummary: "summary text", TabTitle: "title text"})
	assert.Contains(t, prompt, "Page summary: summary text")
	assert.NotContains(t, prompt, "Page title")
}

func TestParseEnrichmentResponse(t *testing.T) {
	t.Parallel()

	t.Run("missing description fails to parse", func(t *testing.T) {
		_, ok := parseEnrichmentResponse("Go", "Type: tool\nRelated: a, b")
		assert.False(t, ok)
	})

	t.Run("description truncated to 300 chars", func(t *testing.T) {
		long := strings.Repeat("x", 400)
		result, ok := parseEnrichmentResponse("Go", "Description: "+long)
		require.True(t, ok)
		assert.Len(t, result.Description, 300)
	})

	t.Run("related capped at 5", func(t *testing.T) {
		result, ok := parseEnrichmentResponse("Go", "Description: d\nRelated: a, b, c, d, e, f, g")
		require.True(t, ok)
		assert.Len(t, result.RelatedConcepts, 5)
	})

	t.Run("defaults entity type to Other", func(t *testing.T) {
		result, ok := parseEnrichmentResponse("Go", "Description: d")
		require.True(t, ok)
		assert.Equal(t, "Other", result.EntityType)
	})
}
