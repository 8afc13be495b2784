package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// Default timings for stage execution.
const (
	DefaultReasonerTimeout = 40 * time.Second
	DefaultFallbackDelay   = 5 * time.Second
)

// StageExecutor runs one pipeline stage against a record. A returned error
// fails the stage; an executor may also fail the record itself and return nil.
type StageExecutor interface {
	Stage() Stage
	Execute(ctx context.Context, rec *Record, emit emitter) error
}

// ThreatIntel looks up description lines for an alert's indicators.
type ThreatIntel interface {
	Lookup(sourceIP string, techniques []string) ([]string, error)
}

// stageEnv carries the collaborators shared by every stage executor.
type stageEnv struct {
	reasoner      Reasoner
	intel         ThreatIntel
	logger        log.Logger
	hooks         EngineHooks
	timeout       time.Duration
	fallbackDelay time.Duration
	now           func() time.Time
}

type reply struct {
	text string
	err  error
}

// reason invokes the Reasoner under the stage deadline. A call still
// running when the deadline passes is abandoned and reported as ErrTimeout.
func (env *stageEnv) reason(ctx context.Context, stage Stage, vars Variables) (string, error) {
	if env.reasoner == nil {
		return "", fmt.Errorf("%w: no reasoner configured", ErrProvider)
	}
	ctx, cancel := context.WithTimeout(ctx, env.timeout)
	defer cancel()

	start := time.Now()
	ch := make(chan reply, 1)
	go func() {
		text, err := env.reasoner.Invoke(ctx, stage, vars)
		ch <- reply{text: text, err: err}
	}()

	var rep reply
	select {
	case rep = <-ch:
	case <-ctx.Done():
		rep = reply{err: ctx.Err()}
	}

	err := classify(stage, env.timeout, rep, ctx.Err())
	if env.hooks.OnReasonerCall != nil {
		env.hooks.OnReasonerCall(stage, time.Since(start).Seconds(), err)
	}
	if err != nil {
		return "", err
	}
	return rep.text, nil
}

func classify(stage Stage, timeout time.Duration, rep reply, ctxErr error) error {
	switch {
	case rep.err == nil && strings.TrimSpace(rep.text) == "":
		return ErrEmptyResponse
	case rep.err == nil:
		return nil
	case errors.Is(rep.err, ErrTimeout), errors.Is(rep.err, ErrEmptyResponse), errors.Is(rep.err, ErrProvider):
		return rep.err
	case errors.Is(rep.err, context.DeadlineExceeded) || errors.Is(ctxErr, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s call exceeded %s", ErrTimeout, stage, timeout)
	default:
		return fmt.Errorf("%w: %v", ErrProvider, rep.err)
	}
}

// pause holds the fallback path for the configured delay.
func (env *stageEnv) pause(ctx context.Context) error {
	if env.fallbackDelay <= 0 {
		return nil
	}
	t := time.NewTimer(env.fallbackDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: fallback interrupted: %v", ErrInternal, ctx.Err())
	}
}
