// Package memstore provides an in-memory implementation of workflow.Store
// bounded by an LRU over workflow ids.
package memstore

import (
	"context"
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/linnemanlabs/warden/internal/workflow"
)

// DefaultCapacity is the number of workflows retained when New is given
// a non-positive size.
const DefaultCapacity = 10000

type entry struct {
	rec    *workflow.Record
	events []workflow.Event
}

// Store holds workflow records in memory. Suitable for dev/testing and the CLI.
type Store struct {
	mu      sync.RWMutex
	entries *lru.Cache[string, *entry] // workflow ID -> record + events
	byAlert map[string]string          // alert ID -> latest workflow ID (dedup)
}

// New initializes a Store that keeps at most capacity workflows.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Store{byAlert: make(map[string]string)}
	// the callback runs inside Put, which already holds s.mu.
	cache, err := lru.NewWithEvict(capacity, func(id string, e *entry) {
		if s.byAlert[e.rec.Alert.ID] == id {
			delete(s.byAlert, e.rec.Alert.ID)
		}
	})
	if err != nil {
		panic(err)
	}
	s.entries = cache
	return s
}

// Get retrieves a record by workflow ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*workflow.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries.Get(id)
	if !ok {
		return nil, false, nil
	}
	return e.rec.Clone(), true, nil
}

// GetByAlertID retrieves the latest record for an alert, for deduplication. Returns a copy.
func (s *Store) GetByAlertID(_ context.Context, alertID string) (*workflow.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAlert[alertID]
	if !ok {
		return nil, false, nil
	}
	e, ok := s.entries.Peek(id)
	if !ok {
		return nil, false, nil
	}
	return e.rec.Clone(), true, nil
}

// Put stores a copy of the record, keeping any events already appended.
func (s *Store) Put(_ context.Context, rec *workflow.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries.Peek(rec.WorkflowID)
	if !ok {
		e = &entry{}
	}
	e.rec = rec.Clone()
	s.entries.Add(rec.WorkflowID, e)
	s.byAlert[rec.Alert.ID] = rec.WorkflowID
	return nil
}

// AppendEvent records a progress event. Events for unknown workflows are dropped.
func (s *Store) AppendEvent(_ context.Context, workflowID string, _ int, ev workflow.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries.Peek(workflowID)
	if !ok {
		return nil
	}
	e.events = append(e.events, ev)
	return nil
}

// Events returns a copy of the events recorded for a workflow, oldest first.
func (s *Store) Events(_ context.Context, workflowID string) ([]workflow.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries.Peek(workflowID)
	if !ok {
		return nil, nil
	}
	return slices.Clone(e.events), nil
}

// Len reports the number of retained workflows.
func (s *Store) Len() int {
	return s.entries.Len()
}
