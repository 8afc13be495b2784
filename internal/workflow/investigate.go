package workflow

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/linnemanlabs/warden/internal/threatintel"
)

// Sentinels rendered into the investigation prompt's threat_intel variable.
const (
	IntelNotConfigured = "No threat intelligence data available"
	IntelNoMatches     = "No specific threat intelligence matches found for this alert"
)

// InvestigationSkipped is the warning recorded when triage rules out investigation.
const InvestigationSkipped = "Investigation skipped - triage marked as not requiring investigation"

// Investigate performs deep analysis of alerts that triage flagged.
type Investigate struct {
	env *stageEnv
}

// Stage implements StageExecutor.
func (x *Investigate) Stage() Stage { return StageInvestigation }

// Execute implements StageExecutor. A triage result with
// requires_investigation=false makes this a no-op that only records a warning.
func (x *Investigate) Execute(ctx context.Context, rec *Record, emit emitter) error {
	if rec.Triage != nil && !rec.Triage.RequiresInvestigation {
		rec.Warn(InvestigationSkipped)
		return nil
	}

	rec.Status = StatusInvestigating
	vars := alertVariables(&rec.Alert)
	triageVariables(vars, rec.Triage)
	delete(vars, "noise_score")
	vars["threat_intel"] = x.intelText(ctx, rec)
	vars["raw_data"] = rawDataText(rec.Alert.RawData)

	emit.emit(Event{Stage: StageInvestigation, Status: EventProcessing})

	if !rec.EnableAI {
		if err := x.env.pause(ctx); err != nil {
			return err
		}
		rec.Investigation = fallbackInvestigation(x.env.now())
		return nil
	}

	text, err := x.env.reason(ctx, StageInvestigation, vars)
	if err != nil {
		return err
	}
	res, err := parseInvestigation(text, x.env.now())
	if err != nil {
		return err
	}
	rec.Investigation = res
	return nil
}

func (x *Investigate) intelText(ctx context.Context, rec *Record) string {
	if x.env.intel == nil {
		return IntelNotConfigured
	}
	lines, err := x.env.intel.Lookup(rec.Alert.Assets.SourceIP, rec.Alert.MITRE.Techniques)
	switch {
	case err != nil:
		if !errors.Is(err, threatintel.ErrNotConfigured) {
			x.env.logger.Warn(ctx, "threat intel lookup failed", "err", err)
		}
		return IntelNotConfigured
	case len(lines) == 0:
		return IntelNoMatches
	default:
		return strings.Join(lines, "\n")
	}
}

func parseInvestigation(text string, now time.Time) (*InvestigationResult, error) {
	var p investigationPayload
	if err := decodeStructured(text, &p); err != nil {
		return nil, err
	}
	return &InvestigationResult{
		Findings:      slices.Clone(p.Findings),
		ThreatContext: maps.Clone(p.ThreatContext),
		RelatedAlerts: slices.Clone(p.RelatedAlerts),
		AttackChain:   slices.Clone(p.AttackChain),
		RiskScore:     *p.RiskScore,
		Evidence:      maps.Clone(p.Evidence),
		Timestamp:     now.UTC(),
	}, nil
}

func fallbackInvestigation(now time.Time) *InvestigationResult {
	return &InvestigationResult{
		Findings:      []string{"Potential credential access attempt detected"},
		ThreatContext: map[string]any{"threat_type": "Credential Access", "confidence": 0.85},
		RelatedAlerts: []string{"Alert1", "Alert2"},
		AttackChain:   []string{"Reconnaissance", "Credential Access"},
		RiskScore:     8.5,
		Evidence:      map[string]any{"details": []any{"IP address 192.168.1.1", "Failed login attempts"}},
		Timestamp:     now.UTC(),
	}
}
