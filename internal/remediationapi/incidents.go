package remediationapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/remedy/internal/remediation"
)

func (a *API) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req remediation.DetectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if req.Service == "" {
		http.Error(w, `{"error":"service is required"}`, http.StatusBadRequest)
		return
	}

	inc, err := a.svc.Detect(r.Context(), &req)
	if err != nil {
		a.fail(w, r, err, "detect failed")
		return
	}

	a.logger.Info(r.Context(), "incident created",
		"incident_id", inc.ID,
		"service", inc.Service,
		"severity", string(inc.Severity),
	)
	a.writeJSON(w, http.StatusAccepted, inc)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	incidents, err := a.svc.List(r.Context())
	if err != nil {
		a.fail(w, r, err, "list incidents failed")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"incidents": incidents})
}

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	annotateSpan(r, id)

	inc, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, "get incident failed")
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	a.writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	annotateSpan(r, id)

	summary, err := a.svc.Status(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, "status failed")
		return
	}
	a.writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleCandidates(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	annotateSpan(r, id)

	result, ok, err := a.svc.Result(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, "get result failed")
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"incident_id":    result.IncidentID,
		"status":         result.Status,
		"candidates":     result.Candidates,
		"policy_summary": result.PolicySummary,
	})
}

func (a *API) handleRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	annotateSpan(r, id)

	result, err := a.svc.Run(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, "pipeline run failed")
		return
	}
	a.writeJSON(w, http.StatusOK, result)
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	annotateSpan(r, id)

	// Default to granting; {"approved": false} revokes.
	body := struct {
		Approved *bool `json:"approved"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	approved := body.Approved == nil || *body.Approved

	if err := a.svc.Approve(r.Context(), id, approved); err != nil {
		a.fail(w, r, err, "approve failed")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"incident_id": id, "approved": approved})
}

func (a *API) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	annotateSpan(r, id)

	body := struct {
		PlanID string `json:"plan_id"`
		DryRun *bool  `json:"dry_run"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if body.PlanID == "" {
		http.Error(w, `{"error":"plan_id is required"}`, http.StatusBadRequest)
		return
	}
	// Dry run unless the caller explicitly asks for a live execution.
	dryRun := body.DryRun == nil || *body.DryRun

	rec, err := a.svc.Execute(r.Context(), id, body.PlanID, dryRun)
	if err != nil {
		a.fail(w, r, err, "execute failed")
		return
	}

	status := http.StatusOK
	if rec.Status == remediation.ExecutionBlocked {
		status = http.StatusConflict
	}
	a.writeJSON(w, status, rec)
}

func (a *API) handleExecutions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	annotateSpan(r, id)

	recs, err := a.svc.Executions(r.Context(), id)
	if err != nil {
		a.fail(w, r, err, "list executions failed")
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"incident_id": id, "executions": recs})
}
