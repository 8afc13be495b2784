// Package alert defines the security alert as it arrives from a SIEM or EDR
// source, before any workflow state is attached to it.
package alert

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Severity is the source-assigned severity of an alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// MITRE holds the ATT&CK tactics and techniques tagged on an alert.
type MITRE struct {
	Tactics    []string `json:"tactics" yaml:"tactics"`
	Techniques []string `json:"techniques" yaml:"techniques"`
}

// Assets identifies the entities involved in an alert. Empty fields are absent.
type Assets struct {
	Host          string `json:"host,omitempty" yaml:"host,omitempty"`
	SourceIP      string `json:"source_ip,omitempty" yaml:"source_ip,omitempty" validate:"omitempty,ip"`
	DestinationIP string `json:"destination_ip,omitempty" yaml:"destination_ip,omitempty" validate:"omitempty,ip"`
	User          string `json:"user,omitempty" yaml:"user,omitempty"`
}

// Alert is a single detection emitted by an upstream security tool.
type Alert struct {
	ID          string         `json:"alert_id" yaml:"alert_id" validate:"required"`
	RuleID      string         `json:"rule_id" yaml:"rule_id" validate:"required"`
	RuleName    string         `json:"rule_name,omitempty" yaml:"rule_name,omitempty"`
	Timestamp   string         `json:"timestamp" yaml:"timestamp" validate:"required"`
	Severity    Severity       `json:"severity" yaml:"severity" validate:"required,oneof=critical high medium low info"`
	Description string         `json:"description" yaml:"description"`
	MITRE       MITRE          `json:"mitre" yaml:"mitre"`
	Assets      Assets         `json:"assets" yaml:"assets"`
	RawData     map[string]any `json:"raw_data,omitempty" yaml:"raw_data,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Normalize lower-cases the severity and trims identifiers in place.
func (a *Alert) Normalize() {
	a.ID = strings.TrimSpace(a.ID)
	a.RuleID = strings.TrimSpace(a.RuleID)
	a.Severity = Severity(strings.ToLower(strings.TrimSpace(string(a.Severity))))
}

// Validate reports whether the alert carries the fields every stage reads.
func (a *Alert) Validate() error {
	if a == nil {
		return fmt.Errorf("alert: nil alert")
	}
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("alert %q: %w", a.ID, err)
	}
	return nil
}

// DisplayName returns the rule name, falling back to the rule id.
func (a *Alert) DisplayName() string {
	if a.RuleName != "" {
		return a.RuleName
	}
	return a.RuleID
}
