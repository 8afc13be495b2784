package workflow

import (
	"context"

	"github.com/linnemanlabs/go-core/xerrors"
)

// ErrDuplicateRun is returned by Store.Put when a new record's alert
// already has a non-terminal run recorded by another writer.
var ErrDuplicateRun = xerrors.New("alert already has a run in flight")

// Store is the persistence interface for workflow records and their events.
// Implementations must return copies that the caller may mutate freely.
type Store interface {
	Get(ctx context.Context, id string) (*Record, bool, error)
	GetByAlertID(ctx context.Context, alertID string) (*Record, bool, error)
	Put(ctx context.Context, rec *Record) error
	AppendEvent(ctx context.Context, workflowID string, seq int, ev Event) error
	Events(ctx context.Context, workflowID string) ([]Event, error)
}
