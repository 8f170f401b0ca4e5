// Package remediationapi exposes the remediation service over HTTP.
package remediationapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/remedy/internal/incident"
	"github.com/linnemanlabs/remedy/internal/remediation"
)

// RemediationService defines the business operations the API needs.
type RemediationService interface {
	Detect(ctx context.Context, req *remediation.DetectRequest) (*incident.Incident, error)
	Get(ctx context.Context, id string) (*incident.Incident, bool, error)
	List(ctx context.Context) ([]*incident.Incident, error)
	Result(ctx context.Context, incidentID string) (*remediation.Result, bool, error)
	Run(ctx context.Context, incidentID string) (*remediation.Result, error)
	Approve(ctx context.Context, incidentID string, approved bool) error
	Execute(ctx context.Context, incidentID, planID string, dryRun bool) (*remediation.ExecutionRecord, error)
	Executions(ctx context.Context, incidentID string) ([]*remediation.ExecutionRecord, error)
	Status(ctx context.Context, incidentID string) (*remediation.StatusSummary, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    RemediationService
}

// New creates a new API handler.
func New(logger log.Logger, svc RemediationService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("remediation service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/incidents", func(r chi.Router) {
		r.Post("/detect", a.handleDetect)
		r.Get("/", a.handleList)
		r.Get("/{id}", a.handleGetIncident)
		r.Get("/{id}/status", a.handleStatus)
		r.Get("/{id}/candidates", a.handleCandidates)
		r.Post("/{id}/run", a.handleRun)
		r.Post("/{id}/approve", a.handleApprove)
		r.Post("/{id}/execute", a.handleExecute)
		r.Get("/{id}/executions", a.handleExecutions)
	})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fail maps service errors to HTTP responses without leaking internals.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	if errors.Is(err, remediation.ErrNotFound) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	a.logger.Error(r.Context(), err, msg)
	http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
}

func annotateSpan(r *http.Request, id string) {
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("remedy.incident.id", id))
}
