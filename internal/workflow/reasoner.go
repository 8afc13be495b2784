package workflow

import "context"

// Variables is the structured context handed to a Reasoner for one stage.
type Variables map[string]string

// Reasoner turns stage context into free-form analysis text. The text is
// expected to embed a single JSON object somewhere in its body.
type Reasoner interface {
	Invoke(ctx context.Context, stage Stage, vars Variables) (string, error)
}

// ReasonerFunc adapts a function to the Reasoner interface.
type ReasonerFunc func(ctx context.Context, stage Stage, vars Variables) (string, error)

// Invoke calls f.
func (f ReasonerFunc) Invoke(ctx context.Context, stage Stage, vars Variables) (string, error) {
	return f(ctx, stage, vars)
}
