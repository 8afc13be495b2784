package workflow

import (
	"maps"
	"slices"
	"time"

	"github.com/linnemanlabs/warden/internal/alert"
)

// Record is the aggregate threaded through every stage of one run. The
// Engine owns it exclusively while a run is in progress.
type Record struct {
	WorkflowID            string               `json:"workflow_id"`
	Alert                 alert.Alert          `json:"alert"`
	Status                Status               `json:"status"`
	CurrentStage          Stage                `json:"current_stage,omitempty"`
	EnableAI              bool                 `json:"enable_ai"`
	Triage                *TriageResult        `json:"triage_result"`
	Investigation         *InvestigationResult `json:"investigation_result"`
	Decision              *DecisionResult      `json:"decision_result"`
	Response              *ResponseResult      `json:"response_result"`
	StartedAt             time.Time            `json:"started_at"`
	CompletedAt           *time.Time           `json:"completed_at"`
	ProcessingTimeSeconds *float64             `json:"processing_time_seconds"`
	Errors                []string             `json:"errors"`
	Warnings              []string             `json:"warnings"`
	GroundTruth           map[string]any       `json:"ground_truth,omitempty"`
}

// NewRecord creates a record in StatusNew for a single alert.
func NewRecord(workflowID string, al alert.Alert, enableAI bool) *Record {
	return &Record{
		WorkflowID: workflowID,
		Alert:      al,
		Status:     StatusNew,
		EnableAI:   enableAI,
		StartedAt:  time.Now().UTC(),
		Errors:     []string{},
		Warnings:   []string{},
	}
}

// Fail appends msg to the error list and moves the record to StatusFailed.
func (r *Record) Fail(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Status = StatusFailed
}

// Warn appends msg to the warning list.
func (r *Record) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// LastError returns the most recent error, or "" if none.
func (r *Record) LastError() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[len(r.Errors)-1]
}

func (r *Record) complete(at time.Time) {
	at = at.UTC()
	secs := at.Sub(r.StartedAt).Seconds()
	r.CompletedAt = &at
	r.ProcessingTimeSeconds = &secs
	r.Status = StatusCompleted
}

// Clone returns a copy that shares no mutable state with r. Stage results
// are never mutated after they are set, so they are shared.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Errors = slices.Clone(r.Errors)
	cp.Warnings = slices.Clone(r.Warnings)
	cp.GroundTruth = maps.Clone(r.GroundTruth)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	if r.ProcessingTimeSeconds != nil {
		s := *r.ProcessingTimeSeconds
		cp.ProcessingTimeSeconds = &s
	}
	return &cp
}
