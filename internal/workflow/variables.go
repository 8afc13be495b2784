package workflow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/linnemanlabs/warden/internal/alert"
)

const (
	notAvailable = "N/A"
	none         = "None"
)

func orNA(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return none
	}
	return strings.Join(items, ", ")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func rawDataText(raw map[string]any) string {
	if len(raw) == 0 {
		return "No additional data"
	}
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", raw)
	}
	return string(b)
}

// alertVariables renders the alert fields shared by triage, investigation
// and decision prompts.
func alertVariables(al *alert.Alert) Variables {
	return Variables{
		"alert_id":       al.ID,
		"rule_id":        al.RuleID,
		"rule_name":      orNA(al.RuleName),
		"severity":       string(al.Severity),
		"timestamp":      al.Timestamp,
		"description":    al.Description,
		"tactics":        joinOrNone(al.MITRE.Tactics),
		"techniques":     joinOrNone(al.MITRE.Techniques),
		"host":           orNA(al.Assets.Host),
		"source_ip":      orNA(al.Assets.SourceIP),
		"destination_ip": orNA(al.Assets.DestinationIP),
		"user":           orNA(al.Assets.User),
	}
}

// triageVariables adds the triage assessment to vars.
func triageVariables(vars Variables, t *TriageResult) {
	if t == nil {
		vars["triage_verdict"] = notAvailable
		vars["triage_confidence"] = notAvailable
		vars["noise_score"] = notAvailable
		vars["key_indicators"] = none
		vars["triage_reasoning"] = notAvailable
		return
	}
	vars["triage_verdict"] = string(t.Verdict)
	vars["triage_confidence"] = formatFloat(t.Confidence)
	vars["noise_score"] = formatFloat(t.NoiseScore)
	vars["key_indicators"] = joinOrNone(t.KeyIndicators)
	vars["triage_reasoning"] = t.Reasoning
}
