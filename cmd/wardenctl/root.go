package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/spf13/cobra"

	"github.com/linnemanlabs/warden/internal/llm"
	"github.com/linnemanlabs/warden/internal/threatintel"
	"github.com/linnemanlabs/warden/internal/workflow"
)

// engineFlags are shared by every command that builds an engine.
type engineFlags struct {
	provider       string
	claudeModel    string
	openAIModel    string
	openAIBaseURL  string
	noAI           bool
	timeout        time.Duration
	fallbackDelay  time.Duration
	intelPath      string
	requestsPerMin int
	verbose        bool
}

func (f *engineFlags) register(cmd *cobra.Command) {
	fs := cmd.PersistentFlags()
	fs.StringVar(&f.provider, "provider", envOr("WARDEN_REASONER_PROVIDER", llm.ProviderClaude), "reasoner provider: claude or openai")
	fs.StringVar(&f.claudeModel, "claude-model", envOr("WARDEN_CLAUDE_MODEL", "claude-sonnet-4-20250514"), "Claude model name")
	fs.StringVar(&f.openAIModel, "openai-model", envOr("WARDEN_OPENAI_MODEL", "gpt-4-turbo-preview"), "OpenAI model name")
	fs.StringVar(&f.openAIBaseURL, "openai-base-url", os.Getenv("WARDEN_OPENAI_BASE_URL"), "OpenAI-compatible API base URL")
	fs.BoolVar(&f.noAI, "no-ai", false, "use the deterministic fallback path instead of a reasoner")
	fs.DurationVar(&f.timeout, "timeout", workflow.DefaultReasonerTimeout, "deadline for each reasoner call")
	fs.DurationVar(&f.fallbackDelay, "fallback-delay", workflow.DefaultFallbackDelay, "delay of each fallback stage")
	fs.StringVar(&f.intelPath, "intel", "", "threat intel JSON or YAML file (default: built-in table)")
	fs.IntVar(&f.requestsPerMin, "rpm", 0, "reasoner requests per minute, 0 for unlimited")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "log engine activity to stderr")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (f *engineFlags) logger() (log.Logger, error) {
	if !f.verbose {
		return log.Nop(), nil
	}
	var lc log.Config
	lc.RegisterFlags(flag.NewFlagSet("log", flag.ContinueOnError))
	lg, err := log.New(lc.ToOptions("wardenctl"))
	if err != nil {
		return nil, err
	}
	return lg.With("component", "wardenctl"), nil
}

// build returns an engine configured from the flags. With --no-ai the
// reasoner is nil and runs must be created with EnableAI false.
func (f *engineFlags) build(ctx context.Context) (*workflow.Engine, error) {
	L, err := f.logger()
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}

	var reasoner workflow.Reasoner
	if !f.noAI {
		reasoner, err = llm.New(llm.Options{
			Provider:          f.provider,
			ClaudeAPIKey:      os.Getenv("WARDEN_CLAUDE_API_KEY"),
			ClaudeModel:       f.claudeModel,
			OpenAIAPIKey:      os.Getenv("WARDEN_OPENAI_API_KEY"),
			OpenAIModel:       f.openAIModel,
			OpenAIBaseURL:     f.openAIBaseURL,
			RequestsPerMinute: f.requestsPerMin,
		})
		if err != nil {
			return nil, fmt.Errorf("reasoner: %w (use --no-ai for the fallback path)", err)
		}
	}

	intel := threatintel.Default()
	if f.intelPath != "" {
		if intel, err = threatintel.Load(f.intelPath); err != nil {
			return nil, err
		}
	}

	L.Info(ctx, "engine configured", "provider", f.provider, "enable_ai", !f.noAI, "intel", f.intelPath)

	return workflow.NewEngine(reasoner, L, workflow.EngineHooks{},
		workflow.WithReasonerTimeout(f.timeout),
		workflow.WithFallbackDelay(f.fallbackDelay),
		workflow.WithThreatIntel(intel),
	), nil
}

func newRootCmd() *cobra.Command {
	var ef engineFlags

	root := &cobra.Command{
		Use:   "wardenctl",
		Short: "Run and evaluate SOC alert workflows",
		Long: `wardenctl drives the warden workflow engine directly, without the
HTTP service. Reasoner API keys are read from WARDEN_CLAUDE_API_KEY and
WARDEN_OPENAI_API_KEY.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	ef.register(root)

	root.AddCommand(newRunCmd(&ef))
	root.AddCommand(newEvaluateCmd(&ef))
	return root
}
