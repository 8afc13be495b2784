// Package openai implements the workflow Reasoner on the OpenAI chat completions API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/warden/internal/llm/prompt"
	"github.com/linnemanlabs/warden/internal/workflow"
)

// DefaultMaxTokens bounds a single stage reply.
const DefaultMaxTokens = 2048

// Client sends the rendered stage prompt as a system + user chat completion.
type Client struct {
	api       *goopenai.Client
	model     string
	maxTokens int
}

// New creates an OpenAI reasoner. baseURL overrides the API endpoint when
// non-empty (Azure gateways, local compatible servers, tests).
func New(apiKey, model, baseURL string) *Client {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{
		Timeout:   120 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return &Client{
		api:       goopenai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: DefaultMaxTokens,
	}
}

// Invoke implements workflow.Reasoner and returns the first choice's content.
func (c *Client) Invoke(ctx context.Context, stage workflow.Stage, vars workflow.Variables) (string, error) {
	p, err := prompt.Render(stage, vars)
	if err != nil {
		return "", err
	}

	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: float32(p.Temperature),
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: p.System},
			{Role: goopenai.ChatMessageRoleUser, Content: p.Human},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai: %s: %w", stage, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
