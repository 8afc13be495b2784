package workflow

import "github.com/linnemanlabs/go-core/xerrors"

// Stage failure taxonomy. Every stage error wraps exactly one of these.
var (
	ErrTimeout             = xerrors.New("reasoner call timed out")
	ErrProvider            = xerrors.New("reasoner provider error")
	ErrEmptyResponse       = xerrors.New("reasoner returned empty response")
	ErrNoStructuredOutput  = xerrors.New("no structured output in reasoner response")
	ErrMalformedOutput     = xerrors.New("malformed structured output")
	ErrMissingPrecondition = xerrors.New("missing precondition")
	ErrInternal            = xerrors.New("internal error")
)

// RetryHint is the user-facing message carried by a failed final event.
const RetryHint = "Please retry the alert processing."
