// Package google adapts the Gemini API (google.golang.org/genai) onto the
// llm.Provider contract.
package google

import (
	"context"
	"strings"

	"google.golang.org/genai"

	"tabgraph/internal/llm"
)

type Client struct {
	sdk   *genai.Client
	model string
}

type Config struct {
	APIKey string
	Model  string
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &Client{sdk: c, model: model}, nil
}

func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResult, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	var system string
	var contents []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Schema != nil {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := c.sdk.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return llm.CompletionResult{}, err
	}
	return llm.CompletionResult{Content: resp.Text(), Structured: req.Schema != nil}, nil
}
