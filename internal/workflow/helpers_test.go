package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/alert"
)

// mockReasoner returns preconfigured text per stage and records calls.
type mockReasoner struct {
	mu        sync.Mutex
	responses map[Stage]string
	errs      map[Stage]error
	calls     []Stage
	vars      map[Stage]Variables
}

func (m *mockReasoner) Invoke(_ context.Context, stage Stage, vars Variables) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, stage)
	if m.vars == nil {
		m.vars = make(map[Stage]Variables)
	}
	m.vars[stage] = vars
	if err := m.errs[stage]; err != nil {
		return "", err
	}
	return m.responses[stage], nil
}

func (m *mockReasoner) called() []Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Stage, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *mockReasoner) varsFor(stage Stage) Variables {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vars[stage]
}

const (
	triageJSON = `Here is my assessment:
{"verdict": "True Positive", "confidence": 0.9, "noise_score": 0.05, "requires_investigation": true,
 "key_indicators": ["spray"], "reasoning": "classic spray"}
Let me know if you need more.`

	triageNoInvestigateJSON = `{"verdict": "benign", "confidence": 0.8, "noise_score": 0.9,
 "requires_investigation": false, "key_indicators": [], "reasoning": "scanner noise"}`

	investigationJSON = `{"findings": ["f1"], "threat_context": {"actor": "unknown"}, "related_alerts": [],
 "attack_chain": ["Credential Access"], "risk_score": 7.5, "evidence": {"iocs": ["1.2.3.4"]}}`

	decisionJSON = `{"final_verdict": "true_positive", "priority": "P2", "confidence": 0.8, "rationale": "r",
 "recommended_actions": ["Reset credentials"], "escalation_required": false, "estimated_impact": "MEDIUM"}`

	responseJSON = `{"actions_taken": ["Blocked source IP", "Created P2 high-priority incident ticket"],
 "ticket_id": "INC-20240115-ABC", "notifications_sent": ["SOC Team (Email + Slack)"],
 "automation_applied": [], "status": "escalated", "summary": "done"}`
)

func fullReasoner() *mockReasoner {
	return &mockReasoner{responses: map[Stage]string{
		StageTriage:        triageJSON,
		StageInvestigation: investigationJSON,
		StageDecision:      decisionJSON,
		StageResponse:      responseJSON,
	}}
}

func testAlert() alert.Alert {
	return alert.Alert{
		ID:          "ALT-1",
		RuleID:      "R-1",
		RuleName:    "Password Spray",
		Timestamp:   "2024-01-15T10:00:00Z",
		Severity:    alert.SeverityHigh,
		Description: "135 failed logins from 194.169.175.17",
		MITRE:       alert.MITRE{Tactics: []string{"Credential Access"}, Techniques: []string{"T1110"}},
		Assets:      alert.Assets{Host: "dc01", SourceIP: "194.169.175.17"},
	}
}

func newTestEngine(r Reasoner, opts ...Option) *Engine {
	opts = append([]Option{WithFallbackDelay(0), WithReasonerTimeout(time.Second)}, opts...)
	return NewEngine(r, log.Nop(), EngineHooks{}, opts...)
}

// eventLog collects progress events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(_ string, ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

func assertStages(t *testing.T, got, want []Stage) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stages = %v, want %v", got, want)
		}
	}
}
