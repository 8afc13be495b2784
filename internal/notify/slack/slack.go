// Package slack posts finished workflow runs to a Slack incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/workflow"
)

const (
	maxSummaryLen = 3000
	maxActions    = 10
	httpTimeout   = 10 * time.Second
)

// Notifier sends workflow outcomes to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout:   httpTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}
}

// Notify implements workflow.Notifier.
func (n *Notifier) Notify(ctx context.Context, rec *workflow.Record) error {
	if n.webhookURL == "" || rec == nil {
		return nil
	}

	body, err := json.Marshal(buildMessage(rec))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "slack notification sent", "workflow_id", rec.WorkflowID, "alert_id", rec.Alert.ID)
	return nil
}

func buildMessage(rec *workflow.Record) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(rec),
			{"type": "divider"},
			fieldsBlock(rec),
			{"type": "divider"},
			summaryBlock(rec),
			actionsBlock(rec),
			contextBlock(rec),
		},
	}
}

func headerBlock(rec *workflow.Record) map[string]any {
	title := "Alert Handled"
	if rec.Status == workflow.StatusFailed {
		title = "Workflow Failed"
	}
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %s: %s", priorityEmoji(rec), title, rec.Alert.DisplayName()),
		},
	}
}

func mrkdwn(format string, args ...any) map[string]any {
	return map[string]any{"type": "mrkdwn", "text": fmt.Sprintf(format, args...)}
}

func fieldsBlock(rec *workflow.Record) map[string]any {
	verdict, priority, ticket := "n/a", "n/a", "none"
	if d := rec.Decision; d != nil {
		verdict, priority = string(d.FinalVerdict), string(d.Priority)
	}
	if r := rec.Response; r != nil && r.TicketID != nil {
		ticket = *r.TicketID
	}
	duration := "n/a"
	if rec.ProcessingTimeSeconds != nil {
		duration = fmt.Sprintf("%.1fs", *rec.ProcessingTimeSeconds)
	}

	return map[string]any{
		"type": "section",
		"fields": []map[string]any{
			mrkdwn("*Status:* %s", rec.Status),
			mrkdwn("*Severity:* %s", rec.Alert.Severity),
			mrkdwn("*Verdict:* %s", verdict),
			mrkdwn("*Priority:* %s", priority),
			mrkdwn("*Ticket:* %s", ticket),
			mrkdwn("*Duration:* %s", duration),
		},
	}
}

func summaryBlock(rec *workflow.Record) map[string]any {
	var text string
	switch {
	case rec.Status == workflow.StatusFailed:
		text = rec.LastError()
	case rec.Response != nil && rec.Response.Summary != "":
		text = rec.Response.Summary
	case rec.Decision != nil:
		text = rec.Decision.Rationale
	}
	text = truncate(text, maxSummaryLen)
	if text == "" {
		text = "_No summary available._"
	}
	return map[string]any{
		"type": "section",
		"text": mrkdwn("*Summary*\n\n%s", text),
	}
}

func actionsBlock(rec *workflow.Record) map[string]any {
	var actions []string
	if rec.Response != nil {
		actions = rec.Response.ActionsTaken
	}
	if len(actions) == 0 {
		return map[string]any{"type": "section", "text": mrkdwn("*Actions taken*\n\n_None_")}
	}

	lines := make([]string, 0, maxActions+1)
	for i, a := range actions {
		if i == maxActions {
			lines = append(lines, fmt.Sprintf("_and %d more_", len(actions)-maxActions))
			break
		}
		lines = append(lines, "• "+a)
	}
	return map[string]any{
		"type": "section",
		"text": mrkdwn("*Actions taken*\n\n%s", strings.Join(lines, "\n")),
	}
}

func contextBlock(rec *workflow.Record) map[string]any {
	ts := rec.StartedAt
	if rec.CompletedAt != nil {
		ts = *rec.CompletedAt
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			mrkdwn("warden • workflow %s • alert %s • %s", rec.WorkflowID, rec.Alert.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}
}

func priorityEmoji(rec *workflow.Record) string {
	if rec.Status == workflow.StatusFailed {
		return "⚠️" // warning sign
	}
	if rec.Decision == nil {
		return "⚪" // white circle
	}
	switch rec.Decision.Priority {
	case workflow.PriorityP1:
		return "\U0001f534" // red circle
	case workflow.PriorityP2:
		return "\U0001f7e0" // orange circle
	case workflow.PriorityP3:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
