package workflow

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/threatintel"
)

var ticketRE = regexp.MustCompile(`^INC-\d{8}-[0-9A-F]{8}$`)

func TestRun_FallbackPasswordSpray(t *testing.T) {
	t.Parallel()

	r := &mockReasoner{}
	engine := newTestEngine(r)
	rec := NewRecord("wf-1", testAlert(), false)

	engine.Run(context.Background(), rec, nil)

	if rec.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed (errors: %v)", rec.Status, rec.Errors)
	}
	if len(r.called()) != 0 {
		t.Errorf("reasoner called %v on the fallback path", r.called())
	}
	if rec.Triage == nil || rec.Triage.Verdict != VerdictTruePositive || !rec.Triage.RequiresInvestigation {
		t.Errorf("triage = %+v", rec.Triage)
	}
	if rec.Investigation == nil {
		t.Fatal("expected investigation result")
	}
	if rec.Decision == nil || rec.Decision.Priority != PriorityP1 {
		t.Fatalf("decision = %+v", rec.Decision)
	}
	if rec.Response == nil || rec.Response.Status != ResponseCompleted {
		t.Fatalf("response = %+v", rec.Response)
	}
	if rec.Response.TicketID == nil || !ticketRE.MatchString(*rec.Response.TicketID) {
		t.Errorf("ticket = %v, want INC-YYYYMMDD-XXXXXXXX", rec.Response.TicketID)
	}
	if rec.CompletedAt == nil || rec.ProcessingTimeSeconds == nil {
		t.Fatal("expected completed_at and processing time")
	}
	if *rec.ProcessingTimeSeconds < 0 {
		t.Errorf("processing time = %v", *rec.ProcessingTimeSeconds)
	}
	if len(rec.Errors) != 0 {
		t.Errorf("errors = %v", rec.Errors)
	}
}

func TestRun_ClockDrivesTimestamps(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		cur = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	)
	start := cur
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := cur
		cur = cur.Add(1500 * time.Millisecond)
		return now
	}

	rec := NewRecord("wf-clock", testAlert(), false)
	newTestEngine(&mockReasoner{}, WithClock(clock)).Run(context.Background(), rec, nil)

	if rec.Status != StatusCompleted {
		t.Fatalf("status = %q, errors = %v", rec.Status, rec.Errors)
	}
	if !rec.StartedAt.Equal(start) {
		t.Errorf("started_at = %v, want %v", rec.StartedAt, start)
	}
	if rec.CompletedAt == nil || !rec.CompletedAt.After(rec.StartedAt) {
		t.Fatalf("completed_at = %v, started_at = %v", rec.CompletedAt, rec.StartedAt)
	}
	want := rec.CompletedAt.Sub(rec.StartedAt).Seconds()
	if rec.ProcessingTimeSeconds == nil || *rec.ProcessingTimeSeconds != want || want <= 0 {
		t.Errorf("processing time = %v, want %v", rec.ProcessingTimeSeconds, want)
	}
	if rec.Triage.Timestamp.Before(start) || rec.Decision.Timestamp.After(*rec.CompletedAt) {
		t.Errorf("stage timestamps outside the run: triage %v decision %v", rec.Triage.Timestamp, rec.Decision.Timestamp)
	}
	if rec.Response.TicketID == nil || !strings.HasPrefix(*rec.Response.TicketID, "INC-20240115-") {
		t.Errorf("ticket = %v, want the clock's date", rec.Response.TicketID)
	}
}

func TestRun_ReasoningPath(t *testing.T) {
	t.Parallel()

	r := fullReasoner()
	engine := newTestEngine(r)
	rec := NewRecord("wf-2", testAlert(), true)

	engine.Run(context.Background(), rec, nil)

	if rec.Status != StatusCompleted {
		t.Fatalf("status = %q, errors = %v", rec.Status, rec.Errors)
	}
	assertStages(t, r.called(), []Stage{StageTriage, StageInvestigation, StageDecision, StageResponse})

	if rec.Response.Status != ResponseEscalated {
		t.Errorf("response status = %q, want ESCALATED", rec.Response.Status)
	}
	if rec.Response.TicketID == nil || *rec.Response.TicketID != "INC-20240115-ABC" {
		t.Errorf("ticket = %v, want parsed ticket", rec.Response.TicketID)
	}
	if rec.Response.Summary != "done" {
		t.Errorf("summary = %q", rec.Response.Summary)
	}

	vars := r.varsFor(StageDecision)
	if !strings.HasPrefix(vars["investigation_summary"], "Risk Score: 7.5/10") {
		t.Errorf("investigation_summary = %q", vars["investigation_summary"])
	}
	if vars["triage_verdict"] != "true_positive" {
		t.Errorf("triage_verdict var = %q", vars["triage_verdict"])
	}
}

func TestRun_SkipsInvestigation(t *testing.T) {
	t.Parallel()

	r := fullReasoner()
	r.responses[StageTriage] = triageNoInvestigateJSON
	engine := newTestEngine(r)
	rec := NewRecord("wf-3", testAlert(), true)

	events := &eventLog{}
	engine.Run(context.Background(), rec, events.record)

	if rec.Status != StatusCompleted {
		t.Fatalf("status = %q, errors = %v", rec.Status, rec.Errors)
	}
	assertStages(t, r.called(), []Stage{StageTriage, StageDecision, StageResponse})
	if rec.Investigation != nil {
		t.Error("investigation result should be absent")
	}
	if len(rec.Warnings) != 1 || rec.Warnings[0] != InvestigationSkipped {
		t.Errorf("warnings = %v", rec.Warnings)
	}
	if got := r.varsFor(StageDecision)["investigation_summary"]; got != NoInvestigationSummary {
		t.Errorf("investigation_summary = %q", got)
	}
	for _, ev := range events.all() {
		if ev.Stage == StageInvestigation {
			t.Errorf("unexpected investigation event %+v", ev)
		}
	}
}

func TestRun_TriageFailureShortCircuits(t *testing.T) {
	t.Parallel()

	r := fullReasoner()
	r.errs = map[Stage]error{StageTriage: errors.New("401 unauthorized")}
	engine := newTestEngine(r)
	rec := NewRecord("wf-4", testAlert(), true)

	events := &eventLog{}
	engine.Run(context.Background(), rec, events.record)

	if rec.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", rec.Status)
	}
	assertStages(t, r.called(), []Stage{StageTriage})
	if len(rec.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly one", rec.Errors)
	}
	if !strings.HasPrefix(rec.Errors[0], "Triage error: ") || !strings.Contains(rec.Errors[0], "401 unauthorized") {
		t.Errorf("error = %q", rec.Errors[0])
	}
	if rec.Investigation != nil || rec.Decision != nil || rec.Response != nil {
		t.Error("downstream results should be absent")
	}
	if rec.CompletedAt != nil {
		t.Error("completed_at set on failure")
	}

	all := events.all()
	final := all[len(all)-1]
	if final.Stage != StageFinal || final.Status != EventFailed {
		t.Fatalf("final event = %+v", final)
	}
	if final.Message != RetryHint {
		t.Errorf("final message = %q", final.Message)
	}
	if final.Error != rec.Errors[0] {
		t.Errorf("final error = %q", final.Error)
	}
}

func TestRun_MalformedDecisionFails(t *testing.T) {
	t.Parallel()

	r := fullReasoner()
	r.responses[StageDecision] = `{"final_verdict":"true_positive","priority":"P1","confidence":1.5,"rationale":"r","recommended_actions":[],"escalation_required":true,"estimated_impact":"HIGH"}`
	engine := newTestEngine(r)
	rec := NewRecord("wf-5", testAlert(), true)

	engine.Run(context.Background(), rec, nil)

	if rec.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", rec.Status)
	}
	assertStages(t, r.called(), []Stage{StageTriage, StageInvestigation, StageDecision})
	if !strings.HasPrefix(rec.LastError(), "Decision error: ") {
		t.Errorf("error = %q", rec.LastError())
	}
	if rec.Response != nil {
		t.Error("response should not run")
	}
}

func TestRun_EmptyResponseFails(t *testing.T) {
	t.Parallel()

	r := fullReasoner()
	r.responses[StageTriage] = "   \n"
	rec := NewRecord("wf-6", testAlert(), true)
	newTestEngine(r).Run(context.Background(), rec, nil)

	if rec.Status != StatusFailed {
		t.Fatalf("status = %q", rec.Status)
	}
	if !strings.Contains(rec.LastError(), ErrEmptyResponse.Error()) {
		t.Errorf("error = %q", rec.LastError())
	}
}

func TestRun_NilReasonerFailsWithProviderError(t *testing.T) {
	t.Parallel()

	rec := NewRecord("wf-nil", testAlert(), true)
	newTestEngine(nil).Run(context.Background(), rec, nil)

	if rec.Status != StatusFailed {
		t.Fatalf("status = %q", rec.Status)
	}
	if len(rec.Errors) != 1 || !strings.Contains(rec.LastError(), ErrProvider.Error()) {
		t.Errorf("errors = %v", rec.Errors)
	}
}

func TestRun_TimeoutAbandonsCall(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)

	r := ReasonerFunc(func(context.Context, Stage, Variables) (string, error) {
		<-release // ignores ctx on purpose
		return triageJSON, nil
	})
	engine := NewEngine(r, log.Nop(), EngineHooks{}, WithReasonerTimeout(20*time.Millisecond))
	rec := NewRecord("wf-7", testAlert(), true)

	done := make(chan struct{})
	go func() {
		engine.Run(context.Background(), rec, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not abandon the blocked reasoner call")
	}

	if rec.Status != StatusFailed {
		t.Fatalf("status = %q", rec.Status)
	}
	if !strings.Contains(rec.LastError(), ErrTimeout.Error()) {
		t.Errorf("error = %q, want timeout", rec.LastError())
	}
}

type panicExecutor struct{ stage Stage }

func (p panicExecutor) Stage() Stage { return p.stage }
func (p panicExecutor) Execute(context.Context, *Record, emitter) error {
	panic("boom")
}

func TestRun_PanicBecomesInternalError(t *testing.T) {
	t.Parallel()

	r := fullReasoner()
	engine := newTestEngine(r)
	engine.executors[StageDecision] = panicExecutor{stage: StageDecision}
	rec := NewRecord("wf-8", testAlert(), true)

	engine.Run(context.Background(), rec, nil)

	if rec.Status != StatusFailed {
		t.Fatalf("status = %q", rec.Status)
	}
	if len(rec.Errors) != 1 || !strings.Contains(rec.Errors[0], ErrInternal.Error()+": boom") {
		t.Errorf("errors = %v", rec.Errors)
	}
	if rec.Response != nil {
		t.Error("response should not run after a panic")
	}
}

func TestRun_EventSequence(t *testing.T) {
	t.Parallel()

	events := &eventLog{}
	rec := NewRecord("wf-9", testAlert(), true)
	newTestEngine(fullReasoner()).Run(context.Background(), rec, events.record)

	type key struct {
		stage  Stage
		status EventStatus
	}
	var got []key
	for _, ev := range events.all() {
		got = append(got, key{ev.Stage, ev.Status})
	}
	var want []key
	for _, s := range Stages {
		want = append(want, key{s, EventStarted}, key{s, EventProcessing}, key{s, EventCompleted})
	}
	want = append(want, key{StageFinal, EventCompleted})

	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	all := events.all()
	final := all[len(all)-1]
	if final.Priority != PriorityP2 || final.Verdict != VerdictTruePositive {
		t.Errorf("final = %+v", final)
	}
	if final.Message != "" {
		t.Errorf("final message on success = %q", final.Message)
	}

	// completed events carry the plain stage result.
	for _, ev := range all {
		if ev.Stage == StageDecision && ev.Status == EventCompleted {
			m, ok := ev.Result.(map[string]any)
			if !ok {
				t.Fatalf("decision result is %T", ev.Result)
			}
			if m["priority"] != "P2" {
				t.Errorf("decision result priority = %v", m["priority"])
			}
		}
	}
}

func TestRun_ThreatIntelVariable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		intel ThreatIntel
		want  string
	}{
		{name: "not configured", intel: nil, want: IntelNotConfigured},
		{name: "empty table", intel: &threatintel.Table{}, want: IntelNotConfigured},
		{name: "no matches", intel: &threatintel.Table{MaliciousIPs: []threatintel.MaliciousIP{{IP: "203.0.113.1"}}}, want: IntelNoMatches},
		{
			name: "ip match",
			intel: &threatintel.Table{MaliciousIPs: []threatintel.MaliciousIP{
				{IP: "194.169.175.17", Description: "spray infra", Confidence: 0.85},
			}},
			want: "- Source IP 194.169.175.17: spray infra (Confidence: 0.85)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := fullReasoner()
			var opts []Option
			if tt.intel != nil {
				opts = append(opts, WithThreatIntel(tt.intel))
			}
			rec := NewRecord("wf-ti", testAlert(), true)
			newTestEngine(r, opts...).Run(context.Background(), rec, nil)

			if got := r.varsFor(StageInvestigation)["threat_intel"]; got != tt.want {
				t.Errorf("threat_intel = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRun_Hooks(t *testing.T) {
	t.Parallel()

	var (
		mu            sync.Mutex
		reasonerCalls int
		stageCalls    = map[Stage]EventStatus{}
		complete      *CompleteEvent
	)
	hooks := EngineHooks{
		OnReasonerCall: func(Stage, float64, error) {
			mu.Lock()
			defer mu.Unlock()
			reasonerCalls++
		},
		OnStage: func(stage Stage, status EventStatus, _ float64) {
			mu.Lock()
			defer mu.Unlock()
			stageCalls[stage] = status
		},
		OnComplete: func(e *CompleteEvent) {
			mu.Lock()
			defer mu.Unlock()
			complete = e
		},
	}

	r := fullReasoner()
	r.responses[StageTriage] = triageNoInvestigateJSON
	engine := NewEngine(r, log.Nop(), hooks, WithFallbackDelay(0))
	engine.Run(context.Background(), NewRecord("wf-h", testAlert(), true), nil)

	mu.Lock()
	defer mu.Unlock()
	if reasonerCalls != 3 {
		t.Errorf("reasoner hook calls = %d, want 3", reasonerCalls)
	}
	if len(stageCalls) != 3 || stageCalls[StageResponse] != EventCompleted {
		t.Errorf("stage hooks = %v", stageCalls)
	}
	if complete == nil || complete.Status != StatusCompleted || !complete.InvestigationSkipped || complete.Priority != PriorityP2 {
		t.Errorf("complete = %+v", complete)
	}
}

func TestRun_CreatesSpans(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	rec := NewRecord("wf-span", testAlert(), true)
	newTestEngine(fullReasoner()).Run(context.Background(), rec, nil)

	counts := make(map[string]int)
	stages := make(map[string]bool)
	for _, s := range exporter.GetSpans() {
		counts[s.Name]++
		for _, a := range s.Attributes {
			if string(a.Key) == "warden.stage" {
				stages[a.Value.AsString()] = true
			}
			if string(a.Key) == "warden.workflow.id" && a.Value.AsString() != "wf-span" {
				t.Errorf("span %s workflow id = %v", s.Name, a.Value.AsString())
			}
		}
	}
	if counts["workflow.run"] != 1 {
		t.Errorf("workflow.run spans = %d, want 1", counts["workflow.run"])
	}
	if counts["workflow.stage"] != 4 {
		t.Errorf("workflow.stage spans = %d, want 4", counts["workflow.stage"])
	}
	for _, s := range Stages {
		if !stages[string(s)] {
			t.Errorf("missing stage span for %s", s)
		}
	}
}
