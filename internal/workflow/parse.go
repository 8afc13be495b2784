package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// extractObject returns the text between the first '{' and the last '}'
// inclusive. Prose before and after the object is ignored.
func extractObject(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return "", ErrNoStructuredOutput
	}
	return text[start : end+1], nil
}

// decodeStructured extracts the JSON object embedded in text, decodes it
// into dst and runs struct validation. Pointer fields tagged required
// distinguish a missing key from a zero value.
func decodeStructured(text string, dst any) error {
	body, err := extractObject(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(body), dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedOutput, fmt.Sprintf(format, args...))
}

type triagePayload struct {
	Verdict               *string  `json:"verdict" validate:"required"`
	Confidence            *float64 `json:"confidence" validate:"required,gte=0,lte=1"`
	NoiseScore            *float64 `json:"noise_score" validate:"required,gte=0,lte=1"`
	RequiresInvestigation *bool    `json:"requires_investigation" validate:"required"`
	KeyIndicators         []string `json:"key_indicators" validate:"required"`
	Reasoning             *string  `json:"reasoning" validate:"required"`
}

type investigationPayload struct {
	Findings      []string       `json:"findings" validate:"required"`
	ThreatContext map[string]any `json:"threat_context" validate:"required"`
	RelatedAlerts []string       `json:"related_alerts" validate:"required"`
	AttackChain   []string       `json:"attack_chain" validate:"required"`
	RiskScore     *float64       `json:"risk_score" validate:"required,gte=0,lte=10"`
	Evidence      map[string]any `json:"evidence" validate:"required"`
}

type decisionPayload struct {
	FinalVerdict       *string  `json:"final_verdict" validate:"required"`
	Priority           *string  `json:"priority" validate:"required"`
	Confidence         *float64 `json:"confidence" validate:"required,gte=0,lte=1"`
	Rationale          *string  `json:"rationale" validate:"required"`
	RecommendedActions []string `json:"recommended_actions" validate:"required"`
	EscalationRequired *bool    `json:"escalation_required" validate:"required"`
	EstimatedImpact    *string  `json:"estimated_impact" validate:"required"`
}

// responsePayload fields are all optional; the stage supplies defaults.
type responsePayload struct {
	ActionsTaken      []string `json:"actions_taken"`
	TicketID          *string  `json:"ticket_id"`
	NotificationsSent []string `json:"notifications_sent"`
	AutomationApplied []string `json:"automation_applied"`
	Status            *string  `json:"status"`
	Summary           *string  `json:"summary"`
}
