package workflow

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a workflow record.
type Status string

const (
	StatusNew           Status = "new"
	StatusTriaging      Status = "triaging"
	StatusInvestigating Status = "investigating"
	StatusDeciding      Status = "deciding"
	StatusResponding    Status = "responding"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// Terminal reports whether no further stage may run.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage names one step of the pipeline.
type Stage string

const (
	StageTriage        Stage = "triage"
	StageInvestigation Stage = "investigation"
	StageDecision      Stage = "decision"
	StageResponse      Stage = "response"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StageTriage, StageInvestigation, StageDecision, StageResponse}

// Title is the capitalised label used in error messages.
func (s Stage) Title() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

// Verdict classifies an alert's legitimacy.
type Verdict string

const (
	VerdictTruePositive  Verdict = "true_positive"
	VerdictFalsePositive Verdict = "false_positive"
	VerdictBenign        Verdict = "benign"
	VerdictSuspicious    Verdict = "suspicious"
	VerdictUnknown       Verdict = "unknown"
)

func normalizeEnum(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

// ParseVerdict normalizes s (lower case, spaces to underscores) and
// accepts any triage verdict including unknown.
func ParseVerdict(s string) (Verdict, error) {
	switch v := Verdict(normalizeEnum(s)); v {
	case VerdictTruePositive, VerdictFalsePositive, VerdictBenign, VerdictSuspicious, VerdictUnknown:
		return v, nil
	default:
		return "", fmt.Errorf("invalid verdict %q", s)
	}
}

// ParseFinalVerdict is ParseVerdict without unknown: a decision must
// resolve ambiguity.
func ParseFinalVerdict(s string) (Verdict, error) {
	v, err := ParseVerdict(s)
	if err != nil {
		return "", err
	}
	if v == VerdictUnknown {
		return "", fmt.Errorf("invalid final verdict %q", s)
	}
	return v, nil
}

// Priority is the response urgency tier.
type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
	PriorityP4 Priority = "P4"
	PriorityP5 Priority = "P5"
)

// ParsePriority accepts P1..P5 in any case.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToUpper(strings.TrimSpace(s))); p {
	case PriorityP1, PriorityP2, PriorityP3, PriorityP4, PriorityP5:
		return p, nil
	default:
		return "", fmt.Errorf("invalid priority %q", s)
	}
}

// ResponseStatus is the disposition reported by the response stage.
type ResponseStatus string

const (
	ResponseCompleted  ResponseStatus = "COMPLETED"
	ResponseInProgress ResponseStatus = "IN_PROGRESS"
	ResponseEscalated  ResponseStatus = "ESCALATED"
)

// ParseResponseStatus accepts the three dispositions in any case, with
// spaces or hyphens in place of the underscore.
func ParseResponseStatus(s string) (ResponseStatus, error) {
	n := strings.ToUpper(strings.TrimSpace(s))
	n = strings.NewReplacer(" ", "_", "-", "_").Replace(n)
	switch rs := ResponseStatus(n); rs {
	case ResponseCompleted, ResponseInProgress, ResponseEscalated:
		return rs, nil
	default:
		return "", fmt.Errorf("invalid response status %q", s)
	}
}

// TriageResult is the output of the triage stage.
type TriageResult struct {
	Verdict               Verdict   `json:"verdict"`
	Confidence            float64   `json:"confidence"`
	Reasoning             string    `json:"reasoning"`
	NoiseScore            float64   `json:"noise_score"`
	RequiresInvestigation bool      `json:"requires_investigation"`
	KeyIndicators         []string  `json:"key_indicators"`
	Timestamp             time.Time `json:"timestamp"`
}

// InvestigationResult is the output of the investigation stage.
type InvestigationResult struct {
	Findings      []string       `json:"findings"`
	ThreatContext map[string]any `json:"threat_context"`
	RelatedAlerts []string       `json:"related_alerts"`
	AttackChain   []string       `json:"attack_chain"`
	RiskScore     float64        `json:"risk_score"`
	Evidence      map[string]any `json:"evidence"`
	Timestamp     time.Time      `json:"timestamp"`
}

// DecisionResult is the output of the decision stage.
type DecisionResult struct {
	FinalVerdict       Verdict   `json:"final_verdict"`
	Priority           Priority  `json:"priority"`
	Confidence         float64   `json:"confidence"`
	Rationale          string    `json:"rationale"`
	RecommendedActions []string  `json:"recommended_actions"`
	EscalationRequired bool      `json:"escalation_required"`
	EstimatedImpact    string    `json:"estimated_impact"`
	Timestamp          time.Time `json:"timestamp"`
}

// ResponseResult is the output of the response stage. TicketID is nil
// exactly when the decision priority is P5.
type ResponseResult struct {
	ActionsTaken      []string       `json:"actions_taken"`
	TicketID          *string        `json:"ticket_id"`
	NotificationsSent []string       `json:"notifications_sent"`
	AutomationApplied []string       `json:"automation_applied"`
	Status            ResponseStatus `json:"status"`
	Summary           string         `json:"summary"`
	Timestamp         time.Time      `json:"timestamp"`
}
