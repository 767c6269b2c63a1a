// Package llm defines the portable chat-completion contract used by the
// entity extractor, entity enricher, and cluster namer. Each concrete
// provider package (openai, anthropic, google) adapts this contract onto a
// vendor SDK so the rest of the service never imports a vendor type.
package llm

import "context"

// Message is one turn of a chat-style completion request.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// JSONSchema describes a strict structured-output contract a provider
// should enforce when possible. Providers that cannot enforce a schema
// natively (e.g. a plain completions API) fall back to returning raw
// text that the caller then parses leniently.
type JSONSchema struct {
	Name   string
	Schema map[string]any
	Strict bool
}

// CompletionRequest is a single request for a chat completion.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Schema      *JSONSchema
}

// CompletionResult is a provider's response to a CompletionRequest.
type CompletionResult struct {
	Content string
	// Structured is set when Schema was honored natively; callers should
	// still be prepared to parse Content directly as a fallback.
	Structured bool
}

// Provider is the minimal surface the clustering pipeline needs from an
// LLM backend: single-shot, non-streaming chat completions, optionally
// constrained to a JSON schema.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}
