package remediation

import (
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/remedy/internal/incident"
	"github.com/linnemanlabs/remedy/internal/plan"
	"github.com/linnemanlabs/remedy/internal/policy"
)

// Generator produces deterministic remediation plan drafts. No randomness,
// no external calls: the same incident always yields the same candidates,
// which keeps re-runs idempotent and tests reproducible.
type Generator struct {
	engine *policy.Engine
	now    func() time.Time
}

// NewGenerator creates a Generator backed by the given policy engine.
func NewGenerator(engine *policy.Engine) *Generator {
	return &Generator{engine: engine, now: time.Now}
}

// candidateID derives a stable plan ID from the playbook kind and incident.
func candidateID(kind, incidentID string) string {
	short := incidentID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s-%s", kind, strings.ToLower(short))
}

// Candidates drafts the fixed playbook set for an incident. Every draft is
// pre-annotated with a conservative policy evaluation (approved=false);
// execution re-evaluates live and never trusts this annotation.
func (g *Generator) Candidates(inc *incident.Incident, evidence []plan.Evidence) []plan.Candidate {
	service := strings.ToLower(strings.TrimSpace(inc.Service))
	if service == "" {
		service = "generic"
	}
	env := planEnv(inc)

	candidates := []plan.Candidate{
		deployRollback(inc.ID, env, service),
		dbPoolTune(inc.ID, env, service),
		cacheWarm(inc.ID, env, service),
	}

	now := g.now()
	for i := range candidates {
		ev := g.engine.EvaluatePlan(candidates[i], false, now)
		candidates[i].PolicyOK = ev.PolicyOK
		candidates[i].PolicyViolations = ev.Violations
		candidates[i].ViolationsByStep = ev.ViolationsByStep
	}
	return candidates
}

// planEnv picks the target environment for drafts. An explicit "env" note on
// the incident wins; otherwise staging is the safe default.
func planEnv(inc *incident.Incident) string {
	if env := strings.ToLower(strings.TrimSpace(inc.Notes["env"])); env != "" {
		return env
	}
	return "staging"
}

func deployRollback(incidentID, env, service string) plan.Candidate {
	return plan.Candidate{
		ID:        candidateID("rollback", incidentID),
		Title:     fmt.Sprintf("Rollback recent deploy for %s", service),
		Env:       env,
		Service:   service,
		Rationale: "Recent deploy suspected; roll back to last known good.",
		PredictedImpact: map[string]float64{
			"error_rate_pct": -0.5,
			"latency_p95_ms": -200,
		},
		Steps: []plan.Step{
			{ActionType: plan.ActionRead, Env: env, Service: service, Cmd: "fetch deploy status"},
			{ActionType: plan.ActionDeploy, Env: env, Service: service, Targets: []string{service}, Version: "previous"},
			{ActionType: plan.ActionRestart, Env: env, Service: service, Targets: []string{service}},
			{ActionType: plan.ActionRead, Env: env, Service: service, Cmd: "verify health"},
		},
	}
}

func dbPoolTune(incidentID, env, service string) plan.Candidate {
	return plan.Candidate{
		ID:        candidateID("db-pool", incidentID),
		Title:     fmt.Sprintf("Tune DB pool for %s", service),
		Env:       env,
		Service:   service,
		Rationale: "High p95 with low 5xx suggests saturation; raise pool and add backoff.",
		PredictedImpact: map[string]float64{
			"error_rate_pct": -0.2,
			"latency_p95_ms": -150,
		},
		Steps: []plan.Step{
			{ActionType: plan.ActionRead, Env: env, Service: service, Cmd: "check DB pool graphs"},
			{ActionType: plan.ActionConfig, Env: env, Service: service, Targets: []string{service}, Key: "db.pool.max", Value: "+20%"},
			{ActionType: plan.ActionRestart, Env: env, Service: service, Targets: []string{service}},
		},
	}
}

func cacheWarm(incidentID, env, service string) plan.Candidate {
	return plan.Candidate{
		ID:        candidateID("cache-warm", incidentID),
		Title:     fmt.Sprintf("Warm cache for %s", service),
		Env:       env,
		Service:   service,
		Rationale: "Cache miss storm after deploy; warm critical keys.",
		PredictedImpact: map[string]float64{
			"error_rate_pct": -0.1,
			"latency_p95_ms": -100,
		},
		Steps: []plan.Step{
			{ActionType: plan.ActionRead, Env: env, Service: service, Cmd: "inspect cache hit-rate"},
			{ActionType: plan.ActionConfig, Env: env, Service: service, Targets: []string{service}, Key: "cache.prefill", Value: "on"},
		},
	}
}
