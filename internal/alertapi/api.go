// Package alertapi exposes alert submission and workflow inspection over HTTP.
package alertapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/workflow"
)

// WorkflowService defines the business operations alertapi needs.
type WorkflowService interface {
	Submit(ctx context.Context, al *alert.Alert, opts workflow.SubmitOptions) (*workflow.SubmitResult, error)
	Get(ctx context.Context, id string) (*workflow.Record, bool, error)
	Events(ctx context.Context, id string) ([]workflow.Event, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    WorkflowService
}

// New creates a new API handler.
func New(logger log.Logger, svc WorkflowService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("workflow service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/alerts", a.handleIngestAlerts)
		r.Route("/workflows/{id}", func(r chi.Router) {
			r.Get("/", a.handleGetWorkflow)
			r.Get("/summary", a.handleGetSummary)
			r.Get("/events", a.handleGetEvents)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
