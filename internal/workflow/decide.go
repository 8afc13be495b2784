package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// NoInvestigationSummary stands in for the investigation summary when none ran.
const NoInvestigationSummary = "No investigation performed (triage indicated no investigation needed)"

// Decide assigns the final verdict and priority.
type Decide struct {
	env *stageEnv
}

// Stage implements StageExecutor.
func (d *Decide) Stage() Stage { return StageDecision }

// Execute implements StageExecutor.
func (d *Decide) Execute(ctx context.Context, rec *Record, emit emitter) error {
	rec.Status = StatusDeciding
	vars := alertVariables(&rec.Alert)
	delete(vars, "destination_ip")
	triageVariables(vars, rec.Triage)
	vars["investigation_summary"] = summarizeInvestigation(rec.Investigation)

	emit.emit(Event{Stage: StageDecision, Status: EventProcessing})

	if !rec.EnableAI {
		if err := d.env.pause(ctx); err != nil {
			return err
		}
		rec.Decision = fallbackDecision(d.env.now())
		return nil
	}

	text, err := d.env.reason(ctx, StageDecision, vars)
	if err != nil {
		return err
	}
	res, err := parseDecision(text, d.env.now())
	if err != nil {
		return err
	}
	rec.Decision = res
	return nil
}

// summarizeInvestigation renders an investigation result as prompt prose.
func summarizeInvestigation(inv *InvestigationResult) string {
	if inv == nil {
		return NoInvestigationSummary
	}

	parts := []string{
		fmt.Sprintf("Risk Score: %s/10", formatFloat(inv.RiskScore)),
		"\nFindings:",
	}
	for _, f := range inv.Findings {
		parts = append(parts, "  - "+f)
	}
	if len(inv.AttackChain) > 0 {
		parts = append(parts, "\nAttack Chain: "+strings.Join(inv.AttackChain, " -> "))
	}
	if len(inv.ThreatContext) > 0 {
		if b, err := json.MarshalIndent(inv.ThreatContext, "", "  "); err == nil {
			parts = append(parts, "\nThreat Context: "+string(b))
		}
	}
	if len(inv.RelatedAlerts) > 0 {
		parts = append(parts, "\nRelated Alerts: "+strings.Join(inv.RelatedAlerts, ", "))
	}
	return strings.Join(parts, "\n")
}

func parseDecision(text string, now time.Time) (*DecisionResult, error) {
	var p decisionPayload
	if err := decodeStructured(text, &p); err != nil {
		return nil, err
	}
	verdict, err := ParseFinalVerdict(*p.FinalVerdict)
	if err != nil {
		return nil, malformed("%v", err)
	}
	priority, err := ParsePriority(*p.Priority)
	if err != nil {
		return nil, malformed("%v", err)
	}
	return &DecisionResult{
		FinalVerdict:       verdict,
		Priority:           priority,
		Confidence:         *p.Confidence,
		Rationale:          *p.Rationale,
		RecommendedActions: slices.Clone(p.RecommendedActions),
		EscalationRequired: *p.EscalationRequired,
		EstimatedImpact:    *p.EstimatedImpact,
		Timestamp:          now.UTC(),
	}, nil
}

func fallbackDecision(now time.Time) *DecisionResult {
	return &DecisionResult{
		FinalVerdict:       VerdictTruePositive,
		Priority:           PriorityP1,
		Confidence:         0.85,
		Rationale:          "High severity alert with multiple indicators of compromise.",
		RecommendedActions: []string{"Isolate affected systems", "Reset credentials", "Monitor for further activity"},
		EscalationRequired: true,
		EstimatedImpact:    "High - Potential data breach",
		Timestamp:          now.UTC(),
	}
}
