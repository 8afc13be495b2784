package workflow

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Respond executes (simulated) response actions for a decided alert.
type Respond struct {
	env *stageEnv
}

// Stage implements StageExecutor.
func (r *Respond) Stage() Stage { return StageResponse }

// Execute implements StageExecutor. Without a decision the record is
// failed directly and no reasoner call is made.
func (r *Respond) Execute(ctx context.Context, rec *Record, emit emitter) error {
	rec.Status = StatusResponding
	d := rec.Decision
	if d == nil {
		rec.Fail(fmt.Errorf("%w: cannot execute response without decision", ErrMissingPrecondition).Error())
		return nil
	}

	vars := Variables{
		"alert_id":            rec.Alert.ID,
		"rule_name":           rec.Alert.DisplayName(),
		"severity":            string(rec.Alert.Severity),
		"host":                orNA(rec.Alert.Assets.Host),
		"source_ip":           orNA(rec.Alert.Assets.SourceIP),
		"user":                orNA(rec.Alert.Assets.User),
		"final_verdict":       string(d.FinalVerdict),
		"priority":            string(d.Priority),
		"confidence":          formatFloat(d.Confidence),
		"escalation_required": strconv.FormatBool(d.EscalationRequired),
		"estimated_impact":    d.EstimatedImpact,
		"recommended_actions": numberedActions(d.RecommendedActions),
		"rationale":           d.Rationale,
	}

	emit.emit(Event{Stage: StageResponse, Status: EventProcessing})

	now := r.env.now()
	if !rec.EnableAI {
		if err := r.env.pause(ctx); err != nil {
			return err
		}
		rec.Response = fallbackResponse(d.Priority, now)
		return nil
	}

	text, err := r.env.reason(ctx, StageResponse, vars)
	if err != nil {
		return err
	}
	res, err := parseResponse(text, d.Priority, now)
	if err != nil {
		return err
	}
	rec.Response = res
	return nil
}

func numberedActions(actions []string) string {
	if len(actions) == 0 {
		return "No specific actions recommended"
	}
	lines := make([]string, len(actions))
	for i, a := range actions {
		lines[i] = fmt.Sprintf("%d. %s", i+1, a)
	}
	return strings.Join(lines, "\n")
}

func parseResponse(text string, priority Priority, now time.Time) (*ResponseResult, error) {
	var p responsePayload
	if err := decodeStructured(text, &p); err != nil {
		return nil, err
	}

	status := ResponseCompleted
	if p.Status != nil {
		s, err := ParseResponseStatus(*p.Status)
		if err != nil {
			return nil, malformed("%v", err)
		}
		status = s
	}
	summary := "Alert processed successfully"
	if p.Summary != nil {
		summary = *p.Summary
	}

	plan := SimulatedActions(priority)
	res := &ResponseResult{
		ActionsTaken:      mergeSorted(p.ActionsTaken, plan.Actions),
		NotificationsSent: mergeSorted(p.NotificationsSent, plan.Notifications),
		AutomationApplied: mergeSorted(p.AutomationApplied, plan.Automations),
		Status:            status,
		Summary:           summary,
		Timestamp:         now.UTC(),
	}
	if priority != PriorityP5 {
		id := ""
		if p.TicketID != nil {
			id = strings.TrimSpace(*p.TicketID)
		}
		if id == "" {
			id = NewTicketID(now)
		}
		res.TicketID = &id
	}
	return res, nil
}

func fallbackResponse(priority Priority, now time.Time) *ResponseResult {
	res := &ResponseResult{
		ActionsTaken:      []string{"Block IP 192.168.1.1", "Create incident ticket"},
		NotificationsSent: []string{"SOC Team notified", "Incident response team alerted"},
		AutomationApplied: []string{"Firewall rule created", "Account monitoring enabled"},
		Status:            ResponseCompleted,
		Summary:           "Alert processed successfully with automated response actions",
		Timestamp:         now.UTC(),
	}
	if priority != PriorityP5 {
		id := NewTicketID(now)
		res.TicketID = &id
	}
	return res
}

// NewTicketID returns INC-<YYYYMMDD>-<8 upper-case hex chars>.
func NewTicketID(now time.Time) string {
	suffix := strings.ToUpper(uuid.NewString()[:8])
	return fmt.Sprintf("INC-%s-%s", now.UTC().Format("20060102"), suffix)
}

// mergeSorted returns the set union of a and b in lexicographic order.
func mergeSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	slices.Sort(out)
	return slices.Compact(out)
}

// ActionPlan is the deterministic response for one priority tier.
type ActionPlan struct {
	Actions       []string
	Notifications []string
	Automations   []string
}

var actionPlans = map[Priority]ActionPlan{
	PriorityP1: {
		Actions: []string{
			"Created P1 critical incident ticket",
			"Sent emergency notifications to SOC team and on-call IR",
			"Initiated automated containment procedures",
		},
		Notifications: []string{
			"SOC Team Lead (SMS + Email)",
			"On-call IR Team (PagerDuty)",
			"CISO (Email)",
			"Asset Owner (Email)",
		},
		Automations: []string{
			"Firewall block rule created",
			"Affected accounts disabled",
			"Enhanced monitoring enabled",
		},
	},
	PriorityP2: {
		Actions: []string{
			"Created P2 high-priority incident ticket",
			"Notified SOC team and security analysts",
			"Scheduled incident response meeting",
		},
		Notifications: []string{
			"SOC Team (Email + Slack)",
			"Senior Security Analyst",
			"Asset Owner",
		},
		Automations: []string{
			"IP reputation check completed",
			"Enhanced logging enabled",
		},
	},
	PriorityP3: {
		Actions: []string{
			"Created P3 monitoring ticket",
			"Added to analyst queue",
			"Scheduled follow-up review",
		},
		Notifications: []string{
			"SOC Team (Email)",
			"Assigned Analyst",
		},
		Automations: []string{
			"Watchlist entry created",
			"Monitoring alert configured",
		},
	},
	PriorityP4: {
		Actions:       []string{"Created P4 tracking ticket", "Added to monitoring dashboard"},
		Notifications: []string{"Daily digest (SOC Team)"},
		Automations:   []string{"Metrics updated"},
	},
	PriorityP5: {
		Actions:       []string{"Alert closed as false positive", "Detection rule tuning recommended"},
		Notifications: []string{"No immediate notifications"},
		Automations:   []string{"False positive counter updated", "Rule optimization queued"},
	},
}

// SimulatedActions returns the fixed action plan for p. Unknown
// priorities get the P5 plan.
func SimulatedActions(p Priority) ActionPlan {
	plan, ok := actionPlans[p]
	if !ok {
		plan = actionPlans[PriorityP5]
	}
	return ActionPlan{
		Actions:       slices.Clone(plan.Actions),
		Notifications: slices.Clone(plan.Notifications),
		Automations:   slices.Clone(plan.Automations),
	}
}
