package workflow

import "time"

// EventStatus is the phase reported by a progress event.
type EventStatus string

const (
	EventStarted    EventStatus = "started"
	EventProcessing EventStatus = "processing"
	EventCompleted  EventStatus = "completed"
	EventFailed     EventStatus = "failed"
)

// StageFinal labels the single event emitted when a run reaches a terminal state.
const StageFinal Stage = "final"

// Event is a progress notification emitted during a run.
type Event struct {
	Stage    Stage       `json:"stage"`
	Status   EventStatus `json:"status"`
	Result   any         `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`
	Message  string      `json:"message,omitempty"`
	Verdict  Verdict     `json:"verdict,omitempty"`
	Priority Priority    `json:"priority,omitempty"`
	Time     time.Time   `json:"time"`
}

// ProgressFunc receives events for a workflow. It is called synchronously
// from the run goroutine and must return promptly.
type ProgressFunc func(workflowID string, ev Event)

// emitter is the per-run event sink handed to stage executors.
type emitter func(ev Event)

func (e emitter) emit(ev Event) {
	if e != nil {
		e(ev)
	}
}
