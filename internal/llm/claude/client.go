// Package claude implements the workflow Reasoner on the Anthropic Messages API.
package claude

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/warden/internal/llm/prompt"
	"github.com/linnemanlabs/warden/internal/workflow"
)

// DefaultMaxTokens bounds a single stage reply.
const DefaultMaxTokens = 2048

// Client renders the stage prompt and sends it as a single-turn message.
type Client struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// New creates a Claude reasoner for model. Extra request options are
// appended after the defaults, so tests can point it at a local server.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{
			Timeout:   120 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
	}
	return &Client{
		client:    anthropic.NewClient(append(base, opts...)...),
		model:     model,
		maxTokens: DefaultMaxTokens,
	}
}

// Invoke implements workflow.Reasoner. The reply's text blocks are
// concatenated; an empty reply is returned as-is for the engine to classify.
func (c *Client) Invoke(ctx context.Context, stage workflow.Stage, vars workflow.Variables) (string, error) {
	p, err := prompt.Render(stage, vars)
	if err != nil {
		return "", err
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(p.Temperature),
		System:      []anthropic.TextBlockParam{{Text: p.System}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(p.Human)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude: %s: %w", stage, err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}
