package remediation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/remedy/internal/incident"
	"github.com/linnemanlabs/remedy/internal/plan"
)

// ErrNotFound is returned when an incident, result, or plan does not exist.
var ErrNotFound = errors.New("not found")

// DetectRequest carries the metric signals that open an incident.
type DetectRequest struct {
	Service        string            `json:"service"`
	Signals        []incident.Signal `json:"signals"`
	SuspectedCause string            `json:"suspected_cause,omitempty"`
	Notes          map[string]string `json:"notes,omitempty"`
}

// StatusSummary is a compact view of where an incident stands.
type StatusSummary struct {
	IncidentID     string            `json:"incident_id"`
	Severity       incident.Severity `json:"severity"`
	PipelineStatus ResultStatus      `json:"pipeline_status"`
	Approved       bool              `json:"approved"`
	Candidates     int               `json:"candidates"`
	Executions     int               `json:"executions"`
}

// Service is the business boundary for remediation operations. It owns the
// incident lifecycle: detection, async pipeline dispatch, approval flags,
// and policy-gated execution.
type Service struct {
	store      Store
	pipeline   *Pipeline
	executor   *Executor
	logger     log.Logger
	metrics    *Metrics
	notifier   Notifier
	thresholds incident.Thresholds
}

// NewService creates a remediation service. metrics and notifier may be nil.
func NewService(store Store, pipeline *Pipeline, executor *Executor, logger log.Logger, metrics *Metrics, notifier Notifier) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:      store,
		pipeline:   pipeline,
		executor:   executor,
		logger:     logger,
		metrics:    metrics,
		notifier:   notifier,
		thresholds: incident.DefaultThresholds(),
	}
}

// SetThresholds overrides the severity inference thresholds.
func (s *Service) SetThresholds(t incident.Thresholds) { s.thresholds = t }

// Detect classifies the request's signals, creates the incident, and kicks
// off the remediation pipeline asynchronously.
func (s *Service) Detect(ctx context.Context, req *DetectRequest) (*incident.Incident, error) {
	if req.Service == "" {
		return nil, fmt.Errorf("detect: service is required")
	}

	inc := &incident.Incident{
		ID:             ulid.Make().String(),
		Service:        req.Service,
		Severity:       s.thresholds.InferSeverity(req.Signals),
		SuspectedCause: req.SuspectedCause,
		CreatedAt:      time.Now().UTC(),
		Notes:          req.Notes,
	}

	if err := s.store.PutIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("store incident: %w", err)
	}
	if err := s.store.PutResult(ctx, &Result{IncidentID: inc.ID, Status: ResultPending}); err != nil {
		return nil, fmt.Errorf("store pending result: %w", err)
	}

	if s.metrics != nil {
		s.metrics.DetectsTotal.WithLabelValues(string(inc.Severity)).Inc()
	}

	// Run the pipeline off the request context so client disconnects don't
	// cancel it; pass only the ID to avoid sharing the Incident pointer.
	go s.runPipeline(context.WithoutCancel(ctx), inc.ID)

	return inc, nil
}

// Run executes the pipeline synchronously for an existing incident and
// returns the stored result. Used for explicit re-runs.
func (s *Service) Run(ctx context.Context, incidentID string) (*Result, error) {
	inc, ok, err := s.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("incident %s: %w", incidentID, ErrNotFound)
	}
	return s.execPipeline(ctx, inc)
}

func (s *Service) runPipeline(ctx context.Context, incidentID string) {
	L := s.logger.With("incident_id", incidentID)

	inc, ok, err := s.store.GetIncident(ctx, incidentID)
	if err != nil || !ok {
		L.Error(ctx, err, "failed to fetch incident for pipeline run")
		return
	}
	if _, err := s.execPipeline(ctx, inc); err != nil {
		L.Error(ctx, err, "pipeline run failed")
	}
}

func (s *Service) execPipeline(ctx context.Context, inc *incident.Incident) (*Result, error) {
	if err := s.store.PutResult(ctx, &Result{IncidentID: inc.ID, Status: ResultRunning, StartedAt: time.Now().UTC()}); err != nil {
		return nil, fmt.Errorf("store running result: %w", err)
	}

	result, err := s.pipeline.Run(ctx, inc)
	if err != nil {
		failed := &Result{
			IncidentID:  inc.ID,
			Status:      ResultFailed,
			Error:       err.Error(),
			CompletedAt: time.Now().UTC(),
		}
		if putErr := s.store.PutResult(ctx, failed); putErr != nil {
			s.logger.Error(ctx, putErr, "failed to persist failed pipeline result", "incident_id", inc.ID)
		}
		s.metrics.observePipeline(failed)
		return nil, err
	}

	if err := s.store.PutResult(ctx, result); err != nil {
		return nil, fmt.Errorf("store pipeline result: %w", err)
	}
	s.metrics.observePipeline(result)

	s.logger.Info(ctx, "pipeline complete",
		"incident_id", inc.ID,
		"candidates", len(result.Candidates),
		"policy_summary", result.PolicySummary,
		"duration", result.Duration,
	)
	return result, nil
}

// Get retrieves an incident by ID.
func (s *Service) Get(ctx context.Context, id string) (*incident.Incident, bool, error) {
	return s.store.GetIncident(ctx, id)
}

// List returns all known incidents.
func (s *Service) List(ctx context.Context) ([]*incident.Incident, error) {
	return s.store.ListIncidents(ctx)
}

// Result returns the pipeline result bundle for an incident.
func (s *Service) Result(ctx context.Context, incidentID string) (*Result, bool, error) {
	return s.store.GetResult(ctx, incidentID)
}

// Approve sets the approval flag for an incident. Approval is consulted
// live at execution time; flipping it never re-runs the pipeline.
func (s *Service) Approve(ctx context.Context, incidentID string, approved bool) error {
	if _, ok, err := s.store.GetIncident(ctx, incidentID); err != nil {
		return fmt.Errorf("get incident: %w", err)
	} else if !ok {
		return fmt.Errorf("incident %s: %w", incidentID, ErrNotFound)
	}

	if err := s.store.SetApproval(ctx, incidentID, approved); err != nil {
		return fmt.Errorf("set approval: %w", err)
	}
	if s.metrics != nil {
		decision := "revoked"
		if approved {
			decision = "granted"
		}
		s.metrics.ApprovalsTotal.WithLabelValues(decision).Inc()
	}
	s.logger.Info(ctx, "approval updated", "incident_id", incidentID, "approved", approved)
	return nil
}

// Execute runs one stored candidate plan under live policy gating and
// appends the execution record. The approval flag is read once, here; see
// Store for the documented approve/execute race.
func (s *Service) Execute(ctx context.Context, incidentID, planID string, dryRun bool) (*ExecutionRecord, error) {
	inc, ok, err := s.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("incident %s: %w", incidentID, ErrNotFound)
	}

	result, ok, err := s.store.GetResult(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	if !ok || result.Status != ResultComplete {
		return nil, fmt.Errorf("incident %s has no completed pipeline result: %w", incidentID, ErrNotFound)
	}

	var candidate *plan.Candidate
	for i := range result.Candidates {
		if result.Candidates[i].ID == planID {
			candidate = &result.Candidates[i]
			break
		}
	}
	if candidate == nil {
		return nil, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}

	approved, err := s.store.GetApproval(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}

	rec := s.executor.Execute(ctx, inc, *candidate, approved, dryRun)

	if err := s.store.AppendExecution(ctx, rec); err != nil {
		return nil, fmt.Errorf("append execution: %w", err)
	}
	s.metrics.observeExecution(rec)

	if s.notifier != nil {
		if err := s.notifier.Send(ctx, inc, rec); err != nil {
			s.logger.Error(ctx, err, "execution notification failed", "incident_id", incidentID, "plan_id", planID)
		}
	}

	return rec, nil
}

// Executions lists the execution records for an incident, oldest first.
func (s *Service) Executions(ctx context.Context, incidentID string) ([]*ExecutionRecord, error) {
	return s.store.ListExecutions(ctx, incidentID)
}

// Status summarizes an incident's pipeline, approval, and execution state.
func (s *Service) Status(ctx context.Context, incidentID string) (*StatusSummary, error) {
	inc, ok, err := s.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("incident %s: %w", incidentID, ErrNotFound)
	}

	summary := &StatusSummary{IncidentID: incidentID, Severity: inc.Severity}

	if result, ok, err := s.store.GetResult(ctx, incidentID); err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	} else if ok {
		summary.PipelineStatus = result.Status
		summary.Candidates = len(result.Candidates)
	}

	if approved, err := s.store.GetApproval(ctx, incidentID); err == nil {
		summary.Approved = approved
	}

	if execs, err := s.store.ListExecutions(ctx, incidentID); err == nil {
		summary.Executions = len(execs)
	}

	return summary, nil
}
