// Package openai adapts the OpenAI-compatible chat completions API onto
// the llm.Provider contract, including the strict JSON-schema response
// format used by batch entity extraction.
package openai

import (
	"context"
	"net/http"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"tabgraph/internal/llm"
)

// Client is an llm.Provider backed by the OpenAI chat completions API.
// It is also used for OpenAI-compatible local servers via BaseURL.
type Client struct {
	sdk   sdk.Client
	model string
}

// Config carries the subset of config.LLMConfig.OpenAI the client needs.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{sdk: sdk.NewClient(opts...), model: model}
}

func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResult, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	params := sdk.ChatCompletionNewParams{
		Model:    model,
		Messages: adaptMessages(req.Messages),
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = sdk.Int(int64(req.MaxTokens))
	}

	structured := false
	if req.Schema != nil {
		schema := ensureStrictAdditionalProperties(req.Schema.Schema)
		params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.Schema.Name,
					Schema: schema,
					Strict: sdk.Bool(req.Schema.Strict),
				},
			},
		}
		structured = true
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.CompletionResult{}, err
	}
	if len(resp.Choices) == 0 {
		return llm.CompletionResult{}, nil
	}
	return llm.CompletionResult{
		Content:    resp.Choices[0].Message.Content,
		Structured: structured,
	}, nil
}

func adaptMessages(msgs []llm.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "assistant":
			out = append(out, sdk.AssistantMessage(m.Content))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}

// ensureStrictAdditionalProperties recursively sets additionalProperties:
// false on every object schema, which the strict JSON-schema mode requires.
func ensureStrictAdditionalProperties(in map[string]any) map[string]any {
	if in == nil {
		return in
	}
	out := make(map[string]any, len(in)+1)
	for k, v := range in {
		out[k] = deepEnsureStrict(v)
	}
	if t, _ := out["type"].(string); t == "object" {
		out["additionalProperties"] = false
	}
	return out
}

func deepEnsureStrict(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return ensureStrictAdditionalProperties(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepEnsureStrict(item)
		}
		return out
	default:
		return v
	}
}
