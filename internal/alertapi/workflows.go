package alertapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/warden/internal/workflow"
)

// loadRecord writes the error response itself and returns nil when the
// record cannot be served.
func (a *API) loadRecord(w http.ResponseWriter, r *http.Request) *workflow.Record {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("warden.workflow.id", id))

	rec, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get workflow", "workflow_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return nil
	}

	span.SetAttributes(attribute.String("warden.workflow.status", string(rec.Status)))
	return rec
}

func (a *API) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	if rec := a.loadRecord(w, r); rec != nil {
		writeJSON(w, http.StatusOK, rec)
	}
}

func (a *API) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	if rec := a.loadRecord(w, r); rec != nil {
		writeJSON(w, http.StatusOK, workflow.Summarize(rec))
	}
}

func (a *API) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	rec := a.loadRecord(w, r)
	if rec == nil {
		return
	}
	events, err := a.svc.Events(r.Context(), rec.WorkflowID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list workflow events", "workflow_id", rec.WorkflowID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if events == nil {
		events = []workflow.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workflow_id": rec.WorkflowID,
		"status":      rec.Status,
		"events":      events,
	})
}
