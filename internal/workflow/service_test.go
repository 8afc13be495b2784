package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/linnemanlabs/warden/internal/alert"
)

// mockStore implements Store for testing.
type mockStore struct {
	mu      sync.Mutex
	records map[string]*Record
	byAlert map[string]string
	events  map[string][]Event
	putErr  error
	getErr  error
}

func newMockStore() *mockStore {
	return &mockStore{
		records: make(map[string]*Record),
		byAlert: make(map[string]string),
		events:  make(map[string][]Event),
	}
}

func (m *mockStore) Get(_ context.Context, id string) (*Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	r, ok := m.records[id]
	if !ok {
		return nil, false, nil
	}
	return r.Clone(), true, nil
}

func (m *mockStore) GetByAlertID(ctx context.Context, alertID string) (*Record, bool, error) {
	m.mu.Lock()
	id, ok := m.byAlert[alertID]
	m.mu.Unlock()
	if !ok {
		return nil, false, m.getErr
	}
	return m.Get(ctx, id)
}

func (m *mockStore) Put(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.records[r.WorkflowID] = r.Clone()
	m.byAlert[r.Alert.ID] = r.WorkflowID
	return nil
}

func (m *mockStore) AppendEvent(_ context.Context, wid string, _ int, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[wid] = append(m.events[wid], ev)
	return nil
}

func (m *mockStore) Events(_ context.Context, wid string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events[wid]...), nil
}

type mockNotifier struct {
	mu   sync.Mutex
	seen []*Record
}

func (n *mockNotifier) Notify(_ context.Context, rec *Record) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, rec.Clone())
	return nil
}

func ptr[T any](v T) *T { return &v }

func TestSubmit_RejectsInvalidAlert(t *testing.T) {
	t.Parallel()

	svc := NewService(newMockStore(), newTestEngine(&mockReasoner{}), log.Nop(), nil, nil)

	al := testAlert()
	al.Severity = "urgent"
	if _, err := svc.Submit(context.Background(), &al, SubmitOptions{}); err == nil {
		t.Error("expected invalid severity to be rejected")
	}
}

func TestSubmit_DedupInFlight(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	existing := NewRecord("existing", testAlert(), true)
	existing.Status = StatusDeciding
	_ = store.Put(context.Background(), existing)

	svc := NewService(store, newTestEngine(&mockReasoner{}), log.Nop(), nil, nil)

	al := testAlert()
	sr, err := svc.Submit(context.Background(), &al, SubmitOptions{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !sr.Skipped || sr.Reason != "duplicate" {
		t.Errorf("result = %+v, want duplicate skip", sr)
	}
}

// slowLookupStore widens the window between the in-flight lookup and the
// write, the way a database round trip does.
type slowLookupStore struct {
	*mockStore
	delay time.Duration
}

func (s *slowLookupStore) GetByAlertID(ctx context.Context, alertID string) (*Record, bool, error) {
	rec, ok, err := s.mockStore.GetByAlertID(ctx, alertID)
	time.Sleep(s.delay)
	return rec, ok, err
}

func TestSubmit_ConcurrentDuplicatesStartOneRun(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var calls atomic.Int32
	r := ReasonerFunc(func(ctx context.Context, stage Stage, _ Variables) (string, error) {
		if stage == StageTriage {
			calls.Add(1)
		}
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return fullReasoner().responses[stage], nil
	})

	store := &slowLookupStore{mockStore: newMockStore(), delay: 5 * time.Millisecond}
	svc := NewService(store, NewEngine(r, log.Nop(), EngineHooks{}), log.Nop(), nil, nil)

	const submitters = 4
	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		skipped  atomic.Int32
	)
	for range submitters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			al := testAlert()
			sr, err := svc.Submit(context.Background(), &al, SubmitOptions{EnableAI: ptr(true)})
			if err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			if sr.Skipped {
				skipped.Add(1)
			} else {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	close(release)
	svc.Wait()

	if got := accepted.Load(); got != 1 {
		t.Errorf("accepted = %d, want 1", got)
	}
	if got := skipped.Load(); got != submitters-1 {
		t.Errorf("skipped = %d, want %d", got, submitters-1)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("triage reasoner calls = %d, want 1", got)
	}
}

// conflictStore reports another writer's in-flight run at Put time.
type conflictStore struct {
	*mockStore
}

func (c *conflictStore) Put(ctx context.Context, r *Record) error {
	if r.Status == StatusNew {
		return fmt.Errorf("alert %s: %w", r.Alert.ID, ErrDuplicateRun)
	}
	return c.mockStore.Put(ctx, r)
}

func TestSubmit_StoreDuplicateConflictIsSkipped(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	svc := NewService(&conflictStore{newMockStore()}, newTestEngine(&mockReasoner{}), log.Nop(), metrics, nil)

	al := testAlert()
	sr, err := svc.Submit(context.Background(), &al, SubmitOptions{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !sr.Skipped || sr.Reason != "duplicate" || sr.ID != "" {
		t.Errorf("result = %+v, want duplicate skip", sr)
	}
	if got := testutil.ToFloat64(metrics.SubmitsTotal.WithLabelValues("duplicate")); got != 1 {
		t.Errorf("duplicate submits = %v, want 1", got)
	}
	svc.Wait()
}

func TestSubmit_AllowsResubmitAfterTerminal(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	existing := NewRecord("existing", testAlert(), true)
	existing.Status = StatusFailed
	_ = store.Put(context.Background(), existing)

	svc := NewService(store, newTestEngine(&mockReasoner{}), log.Nop(), nil, nil, WithEnableAI(false))

	al := testAlert()
	sr, err := svc.Submit(context.Background(), &al, SubmitOptions{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sr.Skipped || sr.ID == "" || sr.ID == "existing" {
		t.Errorf("result = %+v, want a fresh run", sr)
	}
	svc.Wait()
}

func TestSubmit_StoreErrors(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.putErr = errors.New("disk full")
	svc := NewService(store, newTestEngine(&mockReasoner{}), log.Nop(), nil, nil)

	al := testAlert()
	if _, err := svc.Submit(context.Background(), &al, SubmitOptions{}); err == nil {
		t.Error("expected put error to propagate")
	}

	store = newMockStore()
	store.getErr = errors.New("conn refused")
	store.byAlert["ALT-1"] = "x"
	svc = NewService(store, newTestEngine(&mockReasoner{}), log.Nop(), nil, nil)
	if _, err := svc.Submit(context.Background(), &al, SubmitOptions{}); err == nil {
		t.Error("expected get error to propagate")
	}
}

func TestSubmit_RunsToCompletion(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	notifier := &mockNotifier{}
	var sunk atomic.Int32
	svc := NewService(store, newTestEngine(fullReasoner()), log.Nop(), nil, notifier,
		WithEventSink(func(string, Event) { sunk.Add(1) }))

	al := testAlert()
	sr, err := svc.Submit(context.Background(), &al, SubmitOptions{
		EnableAI:    ptr(true),
		GroundTruth: map[string]any{"verdict": "true_positive"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	svc.Wait()

	rec, ok, err := svc.Get(context.Background(), sr.ID)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if rec.Status != StatusCompleted {
		t.Fatalf("status = %q, errors = %v", rec.Status, rec.Errors)
	}
	if rec.GroundTruth["verdict"] != "true_positive" {
		t.Errorf("ground truth = %v", rec.GroundTruth)
	}

	events, err := svc.Events(context.Background(), sr.ID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) == 0 || events[len(events)-1].Stage != StageFinal {
		t.Errorf("events = %+v", events)
	}
	if int(sunk.Load()) != len(events) {
		t.Errorf("sink saw %d events, store has %d", sunk.Load(), len(events))
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.seen) != 1 || notifier.seen[0].Status != StatusCompleted {
		t.Errorf("notifications = %d", len(notifier.seen))
	}
}

func TestService_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	var (
		active  atomic.Int32
		maxSeen atomic.Int32
	)
	r := ReasonerFunc(func(_ context.Context, stage Stage, _ Variables) (string, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			cur := maxSeen.Load()
			if n <= cur || maxSeen.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return fullReasoner().responses[stage], nil
	})

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	store := newMockStore()
	svc := NewService(store, NewEngine(r, log.Nop(), metrics.Hooks(), WithFallbackDelay(0)), log.Nop(), metrics, nil, WithMaxConcurrent(2))

	for i := range 6 {
		al := testAlert()
		al.ID = "ALT-" + string(rune('a'+i))
		if _, err := svc.Submit(context.Background(), &al, SubmitOptions{}); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	svc.Wait()

	if got := maxSeen.Load(); got > 2 {
		t.Errorf("max concurrent reasoner calls = %d, want <= 2", got)
	}
	if got := testutil.ToFloat64(metrics.WorkflowsTotal.WithLabelValues(string(StatusCompleted))); got != 6 {
		t.Errorf("completed workflows = %v, want 6", got)
	}
	if got := testutil.ToFloat64(metrics.SubmitsTotal.WithLabelValues("accepted")); got != 6 {
		t.Errorf("accepted submits = %v, want 6", got)
	}
	if got := testutil.ToFloat64(metrics.InFlight); got != 0 {
		t.Errorf("in flight = %v after Wait", got)
	}
}

func TestService_ProcessHonoursContext(t *testing.T) {
	t.Parallel()

	svc := NewService(newMockStore(), newTestEngine(&mockReasoner{}), log.Nop(), nil, nil, WithMaxConcurrent(1))

	// hold the only slot.
	if err := svc.sem.Acquire(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	defer svc.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := svc.Process(ctx, NewRecord("wf", alert.Alert{ID: "x"}, false))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded while waiting for a slot", err)
	}
}
