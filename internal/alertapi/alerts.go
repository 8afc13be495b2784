package alertapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/workflow"
)

// MaxBodyBytes bounds an ingest request body. The server's body limit
// middleware uses the same value.
const MaxBodyBytes = 256 << 10

// reasonInternal is reported for alerts the service failed to record.
const reasonInternal = "internal error"

// batchRequest is the multi-alert ingest form. A body without an "alerts"
// key is decoded as a single alert.
type batchRequest struct {
	Alerts   []alert.Alert `json:"alerts"`
	EnableAI *bool         `json:"enable_ai"`
}

type acceptedAlert struct {
	WorkflowID string `json:"workflow_id"`
	AlertID    string `json:"alert_id"`
}

type skippedAlert struct {
	AlertID string `json:"alert_id"`
	Reason  string `json:"reason"`
}

type ingestResponse struct {
	Accepted []acceptedAlert `json:"accepted"`
	Skipped  []skippedAlert  `json:"skipped"`
	Rejected []skippedAlert  `json:"rejected"`
}

func decodeIngest(r *http.Request) (*batchRequest, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(body, &keys); err != nil {
		return nil, err
	}

	var req batchRequest
	if _, ok := keys["alerts"]; ok {
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, err
		}
	} else {
		var al alert.Alert
		if err := json.Unmarshal(body, &al); err != nil {
			return nil, err
		}
		req.Alerts = []alert.Alert{al}
	}

	// ?enable_ai= overrides the body flag.
	if v := r.URL.Query().Get("enable_ai"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.New("enable_ai must be a boolean")
		}
		req.EnableAI = &b
	}
	return &req, nil
}

func (a *API) handleIngestAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	req, err := decodeIngest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if len(req.Alerts) == 0 {
		writeError(w, http.StatusBadRequest, "no alerts in payload")
		return
	}

	failed := 0
	resp := ingestResponse{
		Accepted: []acceptedAlert{},
		Skipped:  []skippedAlert{},
		Rejected: []skippedAlert{},
	}

	for i := range req.Alerts {
		al := &req.Alerts[i]
		al.Normalize()
		if err := al.Validate(); err != nil {
			resp.Rejected = append(resp.Rejected, skippedAlert{AlertID: al.ID, Reason: err.Error()})
			continue
		}

		res, err := a.svc.Submit(ctx, al, workflow.SubmitOptions{EnableAI: req.EnableAI})
		if err != nil {
			// earlier alerts are already running; report this one and go on.
			a.logger.Error(ctx, err, "failed to submit alert", "alert_id", al.ID)
			resp.Rejected = append(resp.Rejected, skippedAlert{AlertID: al.ID, Reason: reasonInternal})
			failed++
			continue
		}
		if res.Skipped {
			resp.Skipped = append(resp.Skipped, skippedAlert{AlertID: res.AlertID, Reason: res.Reason})
			continue
		}
		resp.Accepted = append(resp.Accepted, acceptedAlert{WorkflowID: res.ID, AlertID: res.AlertID})
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("warden.alerts.accepted", len(resp.Accepted)),
		attribute.Int("warden.alerts.skipped", len(resp.Skipped)),
		attribute.Int("warden.alerts.rejected", len(resp.Rejected)),
		attribute.Int("warden.alerts.failed", failed),
	)
	a.logger.Info(ctx, "alerts ingested",
		"accepted", len(resp.Accepted),
		"skipped", len(resp.Skipped),
		"rejected", len(resp.Rejected),
		"failed", failed,
	)

	status := http.StatusAccepted
	switch {
	case len(resp.Accepted) > 0 || len(resp.Skipped) > 0:
	case failed > 0:
		status = http.StatusInternalServerError
	default:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}
