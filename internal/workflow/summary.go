package workflow

// Summary is the condensed view of a record returned to API clients.
type Summary struct {
	WorkflowID            string         `json:"workflow_id"`
	AlertID               string         `json:"alert_id"`
	Status                Status         `json:"status"`
	CurrentStage          Stage          `json:"current_stage,omitempty"`
	TriageVerdict         Verdict        `json:"triage_verdict,omitempty"`
	InvestigationRan      bool           `json:"investigation_performed"`
	RiskScore             *float64       `json:"risk_score,omitempty"`
	FinalVerdict          Verdict        `json:"final_verdict,omitempty"`
	Priority              Priority       `json:"priority,omitempty"`
	TicketID              *string        `json:"ticket_id,omitempty"`
	ResponseStatus        ResponseStatus `json:"response_status,omitempty"`
	ProcessingTimeSeconds *float64       `json:"processing_time_seconds,omitempty"`
	Errors                []string       `json:"errors"`
	Warnings              []string       `json:"warnings"`
}

// Summarize condenses rec.
func Summarize(rec *Record) Summary {
	s := Summary{
		WorkflowID:            rec.WorkflowID,
		AlertID:               rec.Alert.ID,
		Status:                rec.Status,
		CurrentStage:          rec.CurrentStage,
		ProcessingTimeSeconds: rec.ProcessingTimeSeconds,
		Errors:                rec.Errors,
		Warnings:              rec.Warnings,
	}
	if rec.Triage != nil {
		s.TriageVerdict = rec.Triage.Verdict
	}
	if rec.Investigation != nil {
		s.InvestigationRan = true
		rs := rec.Investigation.RiskScore
		s.RiskScore = &rs
	}
	if rec.Decision != nil {
		s.FinalVerdict = rec.Decision.FinalVerdict
		s.Priority = rec.Decision.Priority
	}
	if rec.Response != nil {
		s.TicketID = rec.Response.TicketID
		s.ResponseStatus = rec.Response.Status
	}
	return s
}
