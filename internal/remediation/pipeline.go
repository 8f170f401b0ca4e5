package remediation

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/remedy/internal/audit"
	"github.com/linnemanlabs/remedy/internal/incident"
	"github.com/linnemanlabs/remedy/internal/plan"
)

// Pipeline sequences a full remediation analysis for an incident:
// evidence retrieval, candidate generation, and per-candidate validation.
// Retrieval must complete before generation; one candidate's validation
// failure never prevents the others from being validated.
type Pipeline struct {
	retriever Retriever
	generator *Generator
	validator Validator
	sink      audit.Sink
	logger    log.Logger
	now       func() time.Time
}

// NewPipeline assembles the orchestrator. sink may be nil.
func NewPipeline(retriever Retriever, generator *Generator, validator Validator, sink audit.Sink, logger log.Logger) *Pipeline {
	if sink == nil {
		sink = audit.Nop{}
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Pipeline{
		retriever: retriever,
		generator: generator,
		validator: validator,
		sink:      sink,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes the pipeline phases in strict order and returns the bundled
// result. A retriever failure is a pipeline-level error; validator failures
// are isolated per candidate.
func (p *Pipeline) Run(ctx context.Context, inc *incident.Incident) (*Result, error) {
	start := p.now().UTC()

	p.sink.Emit(ctx, "pipeline_start", map[string]any{
		"incident_id": inc.ID,
		"service":     inc.Service,
		"severity":    string(inc.Severity),
	})

	evidence, err := p.retriever.Retrieve(ctx, inc)
	if err != nil {
		return nil, fmt.Errorf("retrieve evidence: %w", err)
	}
	p.sink.Emit(ctx, "pipeline_evidence", map[string]any{
		"incident_id": inc.ID,
		"count":       len(evidence),
		"top_titles":  topTitles(evidence, 3),
	})

	candidates := p.generator.Candidates(inc, evidence)

	okCount := 0
	for _, c := range candidates {
		if c.PolicyOK {
			okCount++
		}
	}
	p.sink.Emit(ctx, "pipeline_candidates", map[string]any{
		"incident_id": inc.ID,
		"count":       len(candidates),
		"ok":          okCount,
		"violating":   len(candidates) - okCount,
	})

	validations := make([]ValidationEntry, 0, len(candidates))
	for i := range candidates {
		v := p.validateOne(ctx, inc, candidates[i])
		candidates[i].Validation = &v
		validations = append(validations, ValidationEntry{PlanID: candidates[i].ID, Result: v})

		p.sink.Emit(ctx, "pipeline_validate", map[string]any{
			"incident_id": inc.ID,
			"plan_id":     candidates[i].ID,
			"status":      string(v.Status),
			"deltas":      v.KPIDeltas,
		})
	}

	violationsTotal := 0
	for _, c := range candidates {
		violationsTotal += len(c.PolicyViolations)
	}
	summary := "all policies passed"
	if violationsTotal > 0 {
		summary = fmt.Sprintf("%d policy violation(s) across candidates", violationsTotal)
	}

	end := p.now().UTC()
	result := &Result{
		IncidentID:    inc.ID,
		Status:        ResultComplete,
		Evidence:      evidence,
		Candidates:    candidates,
		Validations:   validations,
		PolicySummary: summary,
		StartedAt:     start,
		CompletedAt:   end,
		Duration:      end.Sub(start).Seconds(),
	}

	p.sink.Emit(ctx, "pipeline_end", map[string]any{"incident_id": inc.ID})
	return result, nil
}

// validateOne isolates a single candidate's validation failure scope.
func (p *Pipeline) validateOne(ctx context.Context, inc *incident.Incident, c plan.Candidate) plan.Validation {
	v, err := p.validator.Validate(ctx, inc, c)
	if err != nil {
		p.logger.Error(ctx, err, "candidate validation failed", "incident_id", inc.ID, "plan_id", c.ID)
		return plan.Validation{
			Status: plan.ValidationUnknown,
			Notes:  fmt.Sprintf("validator error: %v", err),
		}
	}
	return v
}

func topTitles(evidence []plan.Evidence, n int) []string {
	if len(evidence) < n {
		n = len(evidence)
	}
	out := make([]string, 0, n)
	for _, e := range evidence[:n] {
		out = append(out, e.Title)
	}
	return out
}
