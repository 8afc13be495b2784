package workflow

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

var tracer = otel.Tracer("github.com/linnemanlabs/warden/internal/workflow")

// CompleteEvent carries the summary of a finished run for metrics hooks.
type CompleteEvent struct {
	Status               Status
	Duration             float64
	Verdict              Verdict
	Priority             Priority
	EnableAI             bool
	InvestigationSkipped bool
}

// EngineHooks are optional callbacks for observability. Nil fields are skipped.
type EngineHooks struct {
	OnReasonerCall func(stage Stage, duration float64, err error)
	OnStage        func(stage Stage, status EventStatus, duration float64)
	OnComplete     func(e *CompleteEvent)
}

// Option configures an Engine.
type Option func(*Engine)

// WithReasonerTimeout sets the deadline for each reasoner call.
func WithReasonerTimeout(d time.Duration) Option {
	return func(e *Engine) { e.env.timeout = d }
}

// WithFallbackDelay sets the artificial delay of the fallback path.
func WithFallbackDelay(d time.Duration) Option {
	return func(e *Engine) { e.env.fallbackDelay = d }
}

// WithThreatIntel sets the intel source consulted by the investigation stage.
func WithThreatIntel(ti ThreatIntel) Option {
	return func(e *Engine) { e.env.intel = ti }
}

// WithClock overrides the time source used for the run start, result
// timestamps, completion time and ticket dates.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.env.now = now }
}

// Engine sequences the four stages for one record at a time. It holds no
// per-run state and is safe for concurrent use across records.
type Engine struct {
	env       *stageEnv
	executors map[Stage]StageExecutor
}

// NewEngine creates an engine backed by the given reasoner.
func NewEngine(reasoner Reasoner, logger log.Logger, hooks EngineHooks, opts ...Option) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	env := &stageEnv{
		reasoner:      reasoner,
		logger:        logger,
		hooks:         hooks,
		timeout:       DefaultReasonerTimeout,
		fallbackDelay: DefaultFallbackDelay,
		now:           time.Now,
	}
	e := &Engine{env: env}
	e.executors = map[Stage]StageExecutor{
		StageTriage:        &Triage{env: env},
		StageInvestigation: &Investigate{env: env},
		StageDecision:      &Decide{env: env},
		StageResponse:      &Respond{env: env},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// next returns the stage that follows after, or "" when the run is over.
// It is evaluated only once after has returned.
func next(after Stage, rec *Record) Stage {
	if rec.Status == StatusFailed {
		return ""
	}
	switch after {
	case StageTriage:
		if rec.Triage != nil && rec.Triage.RequiresInvestigation {
			return StageInvestigation
		}
		return StageDecision
	case StageInvestigation:
		return StageDecision
	case StageDecision:
		return StageResponse
	default:
		return ""
	}
}

// Run drives rec from its current state to COMPLETED or FAILED. Each
// stage runs at most once. onEvent may be nil.
func (e *Engine) Run(ctx context.Context, rec *Record, onEvent ProgressFunc) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("warden.workflow.id", rec.WorkflowID),
		attribute.String("warden.alert.id", rec.Alert.ID),
		attribute.Bool("warden.enable_ai", rec.EnableAI),
	))
	defer span.End()

	L := e.env.logger.With("workflow_id", rec.WorkflowID, "alert_id", rec.Alert.ID)

	// processing time is measured on the engine clock.
	if rec.Status == StatusNew {
		rec.StartedAt = e.env.now().UTC()
	}

	emit := emitter(func(ev Event) {
		if onEvent == nil {
			return
		}
		ev.Time = time.Now().UTC()
		onEvent(rec.WorkflowID, ev)
	})

	L.Info(ctx, "workflow started", "enable_ai", rec.EnableAI)

	investigated := false
	for stage := StageTriage; stage != ""; {
		if stage == StageInvestigation {
			investigated = true
		}
		e.runStage(ctx, L, rec, e.executors[stage], emit)

		n := next(stage, rec)
		if stage == StageTriage && n == StageDecision {
			rec.Warn(InvestigationSkipped)
			L.Info(ctx, "investigation skipped")
		}
		stage = n
	}

	if rec.Status != StatusFailed {
		rec.complete(e.env.now())
	}

	final := Event{Stage: StageFinal, Status: EventCompleted}
	if rec.Decision != nil {
		final.Verdict = rec.Decision.FinalVerdict
		final.Priority = rec.Decision.Priority
	}
	if rec.Status == StatusFailed {
		final.Status = EventFailed
		final.Error = rec.LastError()
		final.Message = RetryHint
		span.SetStatus(codes.Error, final.Error)
	}
	emit.emit(final)

	duration := time.Since(start).Seconds()
	span.SetAttributes(
		attribute.String("warden.workflow.status", string(rec.Status)),
		attribute.String("warden.priority", string(final.Priority)),
	)

	if e.env.hooks.OnComplete != nil {
		e.env.hooks.OnComplete(&CompleteEvent{
			Status:               rec.Status,
			Duration:             duration,
			Verdict:              final.Verdict,
			Priority:             final.Priority,
			EnableAI:             rec.EnableAI,
			InvestigationSkipped: !investigated && rec.Status == StatusCompleted,
		})
	}

	L.Info(ctx, "workflow finished",
		"status", rec.Status,
		"duration", duration,
		"priority", final.Priority,
		"errors", len(rec.Errors),
	)
}

func (e *Engine) runStage(ctx context.Context, L log.Logger, rec *Record, ex StageExecutor, emit emitter) {
	stage := ex.Stage()
	ctx, span := tracer.Start(ctx, "workflow.stage", trace.WithAttributes(
		attribute.String("warden.workflow.id", rec.WorkflowID),
		attribute.String("warden.stage", string(stage)),
	))
	defer span.End()

	rec.CurrentStage = stage
	emit.emit(Event{Stage: stage, Status: EventStarted})

	start := time.Now()
	if err := execute(ctx, ex, rec, emit); err != nil {
		rec.Fail(fmt.Sprintf("%s error: %v", stage.Title(), err))
	}
	duration := time.Since(start).Seconds()

	status := EventCompleted
	ev := Event{Stage: stage, Status: EventCompleted}
	if rec.Status == StatusFailed {
		status = EventFailed
		ev.Status = EventFailed
		ev.Error = rec.LastError()
		span.SetStatus(codes.Error, ev.Error)
		L.Warn(ctx, "stage failed", "stage", stage, "error", ev.Error)
	} else {
		ev.Result = stageResult(stage, rec)
	}
	emit.emit(ev)

	if e.env.hooks.OnStage != nil {
		e.env.hooks.OnStage(stage, status, duration)
	}
}

// execute runs one stage and converts a panic into ErrInternal.
func execute(ctx context.Context, ex StageExecutor, rec *Record, emit emitter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInternal, r)
		}
	}()
	return ex.Execute(ctx, rec, emit)
}

// stageResult returns the plain form of the result written by stage, or
// nil when the stage produced none.
func stageResult(stage Stage, rec *Record) any {
	var v any
	switch stage {
	case StageTriage:
		if rec.Triage != nil {
			v = rec.Triage
		}
	case StageInvestigation:
		if rec.Investigation != nil {
			v = rec.Investigation
		}
	case StageDecision:
		if rec.Decision != nil {
			v = rec.Decision
		}
	case StageResponse:
		if rec.Response != nil {
			v = rec.Response
		}
	}
	if v == nil {
		return nil
	}
	plain, err := toPlainValue(v)
	if err != nil {
		return nil
	}
	return plain
}
