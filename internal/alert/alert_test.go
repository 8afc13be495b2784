package alert

import (
	"encoding/json"
	"testing"
)

func validAlert() Alert {
	return Alert{
		ID:          "ALT-1",
		RuleID:      "R-100",
		Timestamp:   "2024-01-15T10:00:00Z",
		Severity:    SeverityHigh,
		Description: "Multiple failed logins",
		Assets:      Assets{Host: "dc01", SourceIP: "10.0.0.5"},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(a *Alert)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Alert) {}},
		{name: "missing id", mutate: func(a *Alert) { a.ID = "" }, wantErr: true},
		{name: "missing rule", mutate: func(a *Alert) { a.RuleID = "" }, wantErr: true},
		{name: "missing timestamp", mutate: func(a *Alert) { a.Timestamp = "" }, wantErr: true},
		{name: "bad severity", mutate: func(a *Alert) { a.Severity = "urgent" }, wantErr: true},
		{name: "bad source ip", mutate: func(a *Alert) { a.Assets.SourceIP = "not-an-ip" }, wantErr: true},
		{name: "no assets", mutate: func(a *Alert) { a.Assets = Assets{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := validAlert()
			tt.mutate(&a)
			err := a.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	a := validAlert()
	a.Severity = " HIGH "
	a.ID = " ALT-1 "
	a.Normalize()

	if a.Severity != SeverityHigh {
		t.Errorf("severity = %q, want high", a.Severity)
	}
	if a.ID != "ALT-1" {
		t.Errorf("id = %q", a.ID)
	}
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	a := validAlert()
	if got := a.DisplayName(); got != "R-100" {
		t.Errorf("DisplayName() = %q, want rule id", got)
	}
	a.RuleName = "Password Spray"
	if got := a.DisplayName(); got != "Password Spray" {
		t.Errorf("DisplayName() = %q", got)
	}
}

func TestUnmarshal(t *testing.T) {
	t.Parallel()

	body := `{
		"alert_id": "ALT-9",
		"rule_id": "R-9",
		"timestamp": "2024-01-15T10:00:00Z",
		"severity": "critical",
		"description": "beaconing",
		"mitre": {"tactics": ["Command and Control"], "techniques": ["T1071"]},
		"assets": {"host": "ws-1", "destination_ip": "203.0.113.7"},
		"raw_data": {"bytes": 1024}
	}`

	var a Alert
	if err := json.Unmarshal([]byte(body), &a); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if a.Assets.DestinationIP != "203.0.113.7" {
		t.Errorf("destination_ip = %q", a.Assets.DestinationIP)
	}
	if len(a.MITRE.Techniques) != 1 || a.MITRE.Techniques[0] != "T1071" {
		t.Errorf("techniques = %v", a.MITRE.Techniques)
	}
}
