package cfg

import (
	"errors"
	"flag"
	"fmt"
	"time"
)

// Config holds the application settings layered on top of the go-core
// component configs (log, httpserver, opshttp, otelx, prof).
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	ReasonerProvider       string
	ClaudeAPIKey           string
	ClaudeModel            string
	OpenAIAPIKey           string
	OpenAIModel            string
	OpenAIBaseURL          string
	ReasonerTimeoutSeconds int
	ReasonerRPM            int

	EnableAI               bool
	FallbackDelayMillis    int
	MaxConcurrentWorkflows int
	ThreatIntelPath        string

	DatabaseURL      string
	MemstoreCapacity int

	SlackWebhookURL string
	NATSURL         string
	NATSSubject     string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api/v1 requests")

	fs.StringVar(&c.ReasonerProvider, "reasoner-provider", "claude", "reasoner backend: claude or openai")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude reasoner")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.OpenAIAPIKey, "openai-api-key", "", "API key for the OpenAI reasoner")
	fs.StringVar(&c.OpenAIModel, "openai-model", "gpt-4-turbo-preview", "OpenAI model to use")
	fs.StringVar(&c.OpenAIBaseURL, "openai-base-url", "", "override the OpenAI API base URL (empty = default)")
	fs.IntVar(&c.ReasonerTimeoutSeconds, "reasoner-timeout-seconds", 40, "per-stage reasoner deadline (1..600)")
	fs.IntVar(&c.ReasonerRPM, "reasoner-rpm", 0, "max reasoner calls per minute across all workflows (0 = unlimited)")

	fs.BoolVar(&c.EnableAI, "enable-ai", true, "use the reasoner by default; false runs the canned fallback path")
	fs.IntVar(&c.FallbackDelayMillis, "fallback-delay-ms", 5000, "simulated latency of each fallback stage in milliseconds (0..60000)")
	fs.IntVar(&c.MaxConcurrentWorkflows, "max-concurrent-workflows", 5, "workflows executing at once (1..1000)")
	fs.StringVar(&c.ThreatIntelPath, "threat-intel-path", "", "JSON or YAML threat intel table (empty = built-in table)")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.IntVar(&c.MemstoreCapacity, "memstore-capacity", 10000, "workflows retained by the in-memory store")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for completion notices")
	fs.StringVar(&c.NATSURL, "nats-url", "", "NATS server URL for progress events (empty = disabled)")
	fs.StringVar(&c.NATSSubject, "nats-subject", "warden.workflow", "NATS subject prefix for progress events")
}

// ReasonerTimeout is the per-stage reasoner deadline.
func (c *Config) ReasonerTimeout() time.Duration {
	return time.Duration(c.ReasonerTimeoutSeconds) * time.Second
}

// FallbackDelay is the simulated latency of a fallback stage.
func (c *Config) FallbackDelay() time.Duration {
	return time.Duration(c.FallbackDelayMillis) * time.Millisecond
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}
	if c.APIToken == "" {
		errs = append(errs, errors.New("API_TOKEN is required"))
	}

	// Provider credentials only matter when the reasoner is used by default.
	switch c.ReasonerProvider {
	case "claude":
		if c.EnableAI && c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required when ENABLE_AI is set"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required"))
		}
	case "openai":
		if c.EnableAI && c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required when ENABLE_AI is set"))
		}
		if c.OpenAIModel == "" {
			errs = append(errs, errors.New("OPENAI_MODEL is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid REASONER_PROVIDER %q (must be claude or openai)", c.ReasonerProvider))
	}
	if c.ReasonerTimeoutSeconds <= 0 || c.ReasonerTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid REASONER_TIMEOUT_SECONDS %d (must be 1..600)", c.ReasonerTimeoutSeconds))
	}
	if c.ReasonerRPM < 0 {
		errs = append(errs, fmt.Errorf("invalid REASONER_RPM %d (must be >= 0)", c.ReasonerRPM))
	}

	if c.FallbackDelayMillis < 0 || c.FallbackDelayMillis > 60000 {
		errs = append(errs, fmt.Errorf("invalid FALLBACK_DELAY_MS %d (must be 0..60000)", c.FallbackDelayMillis))
	}
	if c.MaxConcurrentWorkflows <= 0 || c.MaxConcurrentWorkflows > 1000 {
		errs = append(errs, fmt.Errorf("invalid MAX_CONCURRENT_WORKFLOWS %d (must be 1..1000)", c.MaxConcurrentWorkflows))
	}
	if c.DatabaseURL == "" && c.MemstoreCapacity <= 0 {
		errs = append(errs, fmt.Errorf("invalid MEMSTORE_CAPACITY %d (must be >= 1 without DATABASE_URL)", c.MemstoreCapacity))
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		errs = append(errs, errors.New("NATS_SUBJECT is required when NATS_URL is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
