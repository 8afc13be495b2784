// Package llm selects and decorates the Reasoner backing the workflow engine.
package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/linnemanlabs/warden/internal/llm/claude"
	"github.com/linnemanlabs/warden/internal/llm/openai"
	"github.com/linnemanlabs/warden/internal/workflow"
)

// Provider names accepted by New.
const (
	ProviderClaude = "claude"
	ProviderOpenAI = "openai"
)

// Options configures New.
type Options struct {
	Provider      string
	ClaudeAPIKey  string
	ClaudeModel   string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	// RequestsPerMinute caps reasoner calls across all workflows. 0 means unlimited.
	RequestsPerMinute int
}

// New builds the configured reasoner, rate limited when requested.
func New(opts Options) (workflow.Reasoner, error) {
	var r workflow.Reasoner
	switch opts.Provider {
	case ProviderClaude:
		if opts.ClaudeAPIKey == "" {
			return nil, fmt.Errorf("llm: claude api key is required")
		}
		r = claude.New(opts.ClaudeAPIKey, opts.ClaudeModel)
	case ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("llm: openai api key is required")
		}
		r = openai.New(opts.OpenAIAPIKey, opts.OpenAIModel, opts.OpenAIBaseURL)
	default:
		return nil, fmt.Errorf("llm: unsupported provider %q", opts.Provider)
	}

	if opts.RequestsPerMinute > 0 {
		r = RateLimited(r, opts.RequestsPerMinute)
	}
	return r, nil
}

// RateLimited wraps r so that at most perMinute calls start per minute,
// with a burst of one. Waiting honours ctx, so a stage deadline also
// bounds time spent queued for a token.
func RateLimited(r workflow.Reasoner, perMinute int) workflow.Reasoner {
	return &limited{
		next:    r,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60), 1),
	}
}

type limited struct {
	next    workflow.Reasoner
	limiter *rate.Limiter
}

func (l *limited) Invoke(ctx context.Context, stage workflow.Stage, vars workflow.Variables) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() == nil {
			// The next token would arrive after the stage deadline.
			return "", fmt.Errorf("%w: waiting for rate limit: %v", workflow.ErrTimeout, err)
		}
		return "", fmt.Errorf("llm: rate limit wait: %w", err)
	}
	return l.next.Invoke(ctx, stage, vars)
}
