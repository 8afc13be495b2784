package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"

	"github.com/linnemanlabs/warden/internal/alert"
)

// DefaultMaxConcurrent bounds in-flight runs when no limit is configured.
const DefaultMaxConcurrent = 5

// SubmitResult is the outcome of submitting an alert.
type SubmitResult struct {
	ID      string
	AlertID string
	Skipped bool
	Reason  string
}

// SubmitOptions override per-alert settings.
type SubmitOptions struct {
	// EnableAI overrides the service default when non-nil.
	EnableAI    *bool
	GroundTruth map[string]any
}

// Notifier is told about every finished run.
type Notifier interface {
	Notify(ctx context.Context, rec *Record) error
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithMaxConcurrent bounds the number of runs executing at once. Runs
// beyond the bound wait for a slot.
func WithMaxConcurrent(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.limit = int64(n)
		}
	}
}

// WithEnableAI sets the default execution path for submitted alerts.
func WithEnableAI(enabled bool) ServiceOption {
	return func(s *Service) { s.enableAI = enabled }
}

// WithEventSink forwards every progress event after it is persisted.
func WithEventSink(fn ProgressFunc) ServiceOption {
	return func(s *Service) { s.sink = fn }
}

// Service is the business boundary for workflow operations.
type Service struct {
	store    Store
	engine   *Engine
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier
	sink     ProgressFunc
	enableAI bool
	limit    int64
	sem      *semaphore.Weighted
	wg       sync.WaitGroup

	// submitMu serialises the in-flight lookup with the NEW record write.
	submitMu sync.Mutex
}

// NewService creates a workflow service. metrics and notifier may be nil.
func NewService(store Store, engine *Engine, logger log.Logger, metrics *Metrics, notifier Notifier, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	s := &Service{
		store:    store,
		engine:   engine,
		logger:   logger,
		metrics:  metrics,
		notifier: notifier,
		enableAI: true,
		limit:    DefaultMaxConcurrent,
	}
	for _, o := range opts {
		o(s)
	}
	s.sem = semaphore.NewWeighted(s.limit)
	return s
}

func (s *Service) countSubmit(result string) {
	if s.metrics != nil {
		s.metrics.SubmitsTotal.WithLabelValues(result).Inc()
	}
}

// Submit validates and records an alert, then runs it asynchronously.
// An alert whose previous run is still in flight is skipped.
func (s *Service) Submit(ctx context.Context, al *alert.Alert, opts SubmitOptions) (*SubmitResult, error) {
	al.Normalize()
	if err := al.Validate(); err != nil {
		s.countSubmit("invalid")
		return nil, err
	}

	enableAI := s.enableAI
	if opts.EnableAI != nil {
		enableAI = *opts.EnableAI
	}

	id := ulid.Make().String()
	rec := NewRecord(id, *al, enableAI)
	rec.GroundTruth = opts.GroundTruth

	if skipped, err := s.claim(ctx, rec); err != nil {
		s.countSubmit("error")
		return nil, err
	} else if skipped {
		s.countSubmit("duplicate")
		return &SubmitResult{AlertID: al.ID, Skipped: true, Reason: "duplicate"}, nil
	}
	s.countSubmit("accepted")

	// pass only the id; the run loads its own copy from the store.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(context.WithoutCancel(ctx), id)
	}()

	return &SubmitResult{ID: id, AlertID: al.ID}, nil
}

// claim persists rec unless its alert already has a run in flight. The
// lookup and write hold submitMu so concurrent submissions of one alert
// start a single run; ErrDuplicateRun covers writers in other processes.
func (s *Service) claim(ctx context.Context, rec *Record) (bool, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	existing, ok, err := s.store.GetByAlertID(ctx, rec.Alert.ID)
	if err != nil {
		return false, err
	}
	if ok && !existing.Status.Terminal() {
		return true, nil
	}
	if err := s.store.Put(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateRun) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// Process runs rec to completion on the calling goroutine, subject to the
// same concurrency bound as submitted runs.
func (s *Service) Process(ctx context.Context, rec *Record) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)
	s.execute(ctx, rec)
	return nil
}

// Get retrieves a workflow record by id.
func (s *Service) Get(ctx context.Context, id string) (*Record, bool, error) {
	return s.store.Get(ctx, id)
}

// Events returns the progress events recorded for a workflow, oldest first.
func (s *Service) Events(ctx context.Context, id string) ([]Event, error) {
	return s.store.Events(ctx, id)
}

// Wait blocks until every submitted run has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context, id string) {
	L := s.logger.With("workflow_id", id)

	if s.metrics != nil {
		s.metrics.Queued.Inc()
	}
	err := s.sem.Acquire(ctx, 1)
	if s.metrics != nil {
		s.metrics.Queued.Dec()
	}
	if err != nil {
		L.Error(ctx, err, "failed to acquire run slot")
		return
	}
	defer s.sem.Release(1)

	rec, ok, err := s.store.Get(ctx, id)
	if err == nil && !ok {
		err = fmt.Errorf("workflow %s not found", id)
	}
	if err != nil {
		L.Error(ctx, err, "failed to fetch record for run")
		return
	}

	s.execute(ctx, rec)
}

func (s *Service) execute(ctx context.Context, rec *Record) {
	L := s.logger.With("workflow_id", rec.WorkflowID, "alert_id", rec.Alert.ID)

	if s.metrics != nil {
		s.metrics.InFlight.Inc()
		defer s.metrics.InFlight.Dec()
	}

	seq := 0
	onEvent := func(wid string, ev Event) {
		if err := s.store.AppendEvent(ctx, wid, seq, ev); err != nil {
			L.Error(ctx, err, "failed to persist event", "seq", seq, "stage", ev.Stage)
		}
		seq++
		// the engine calls back on this goroutine, so rec is safe to read here.
		if ev.Status != EventProcessing {
			if err := s.store.Put(ctx, rec); err != nil {
				L.Error(ctx, err, "failed to persist record", "stage", ev.Stage)
			}
		}
		if s.sink != nil {
			s.sink(wid, ev)
		}
	}

	s.engine.Run(ctx, rec, onEvent)

	if err := s.store.Put(ctx, rec); err != nil {
		L.Error(ctx, err, "failed to persist workflow result")
	}

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, rec); err != nil {
			L.Error(ctx, err, "failed to send notification")
		}
	}
}
