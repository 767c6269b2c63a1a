package entities

import (
	"context"
	"errors"
	"testing"

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

func TestExtract_SingleTab_ParsesCommaList(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{complete: func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResult, error) {
		return llm.CompletionResult{Content: `Go, Kubernetes, "Docker"`}, nil
	}}
	e := NewLLMExtractor(provider, "test-model")

	got, err := e.Extract(context.Background(), Tab{ID: 1, Title: "Go containers", URL: "https://go.dev"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Go", "Kubernetes", "Docker"}, got)
}

func TestExtract_SingleTab_FallsBackToKeywordsOnError(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{complete: func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResult, error) {
		return llm.CompletionResult{}, errors.New("provider unavailable")
	}}
	e := NewLLMExtractor(provider, "test-model")

	got, err := e.Extract(context.Background(), Tab{ID: 1, Title: "Learning Docker basics", URL: "https://example.com"})
	require.NoError(t, err)
	assert.Contains(t, got, "docker")
}

func TestExtract_SingleTab_FallsBackOnEmptyResponse(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{complete: func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResult, error) {
		return llm.CompletionResult{Content: "   "}, nil
	}}
	e := NewLLMExtractor(provider, "test-model")

	got, err := e.Extract(context.Background(), Tab{ID: 1, Title: "Rust memory safety", URL: "https://example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}

func TestExtractBatch_MultiTab_UsesStrictSchema(t *testing.T) {
	t.Parallel()
	var capturedSchema *llm.JSONSchema
	provider := &fakeProvider{complete: func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResult, error) {
		capturedSchema = req.Schema
		return llm.CompletionResult{Content: `{"results":[{"entities":["Go"]},{"entities":["Python"]}]}`}, nil
	}}
	e := NewLLMExtractor(provider, "test-model")

	got, err := e.ExtractBatch(context.Background(), []Tab{
		{ID: 1, Title: "Go tab"},
		{ID: 2, Title: "Python tab"},
	})
	require.NoError(t, err)
	require.NotNil(t, capturedSchema)
	assert.Equal(t, "batch_entity_extraction", capturedSchema.Name)
	assert.Equal(t, [][]string{{"Go"}, {"Python"}}, got)
}

func TestExtractBatch_MultiTab_FallsBackOnCountMismatch(t *testing.T) {
	t.Parallel()
	provider := &fakeProvider{complete: func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResult, error) {
		return llm.CompletionResult{Content: `{"results":[{"entities":["Go"]}]}`}, nil
	}}
	e := NewLLMExtractor(provider, "test-model")

	got, err := e.ExtractBatch(context.Background(), []Tab{
		{ID: 1, Title: "Go tab"},
		{ID: 2, Title: "Docker basics"},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.NotEmpty(t, got[0])
	assert.NotEmpty(t, got[1])
}

func TestExtractBatch_EmptyInput(t *testing.T) {
	t.Parallel()
	e := NewLLMExtractor(&fakeProvider{}, "test-model")
	got, err := e.ExtractBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestExtractWithKeywords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tab  Tab
		want []string
	}{
		{
			name: "matches known tech keywords then capitalized title words",
			tab:  Tab{Title: "Learning Docker and Kubernetes"},
			want: []string{"docker", "kubernetes", "Learning"},
		},
		{
			name: "falls back to domain when nothing matches",
			tab:  Tab{Title: "hello world", URL: "https://example.com/path"},
			want: []string{"example"},
		},
		{
			name: "falls back to first title word with no usable url",
			tab:  Tab{Title: "hello world", URL: "not a url"},
			want: []string{"hello"},
		},
		{
			name: "falls back to untitled with nothing at all",
			tab:  Tab{},
			want: []string{"Untitled"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractWithKeywords(tt.tab)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
		want string
	}{
		{"strips www", "https://www.example.com/page", "example"},
		{"bare domain", "https://go.dev", "go"},
		{"invalid url", "not a url", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractDomain(tt.url))
		})
	}
}
