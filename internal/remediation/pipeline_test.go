package remediation

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/linnemanlabs/remedy/internal/audit"
	"github.com/linnemanlabs/remedy/internal/incident"
	"github.com/linnemanlabs/remedy/internal/plan"
	"github.com/linnemanlabs/remedy/internal/policy"
)

type mockRetriever struct {
	evidence []plan.Evidence
	err      error
}

func (m mockRetriever) Retrieve(_ context.Context, _ *incident.Incident) ([]plan.Evidence, error) {
	return m.evidence, m.err
}

type mockValidator struct {
	// failFor makes Validate error for the given plan ID
	failFor string
}

func (m mockValidator) Validate(_ context.Context, _ *incident.Incident, c plan.Candidate) (plan.Validation, error) {
	if c.ID == m.failFor {
		return plan.Validation{}, errors.New("simulator unavailable")
	}
	return plan.Validation{
		Status:    plan.ValidationPass,
		KPIDeltas: map[string]float64{"error_rate_pct": -0.4},
	}, nil
}

func newTestPipeline(r Retriever, v Validator, sink audit.Sink) *Pipeline {
	g := NewGenerator(policy.MustNew(policy.DefaultConfig()))
	return NewPipeline(r, g, v, sink, nil)
}

func TestPipelineRun(t *testing.T) {
	t.Parallel()

	evidence := []plan.Evidence{
		{Title: "rollback runbook", Score: 0.92},
		{Title: "pool tuning", Score: 0.80},
	}
	sink := audit.NewMemory()
	p := newTestPipeline(mockRetriever{evidence: evidence}, mockValidator{}, sink)

	inc := &incident.Incident{ID: "01J0ABCDEF", Service: "checkout", Severity: incident.SeverityHigh}
	result, err := p.Run(context.Background(), inc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Status != ResultComplete {
		t.Errorf("Status = %q, want %q", result.Status, ResultComplete)
	}
	if result.IncidentID != inc.ID {
		t.Errorf("IncidentID = %q, want %q", result.IncidentID, inc.ID)
	}
	if !reflect.DeepEqual(result.Evidence, evidence) {
		t.Errorf("Evidence = %v, want %v", result.Evidence, evidence)
	}
	if len(result.Candidates) != 3 {
		t.Fatalf("len(Candidates) = %d, want 3", len(result.Candidates))
	}
	if len(result.Validations) != 3 {
		t.Fatalf("len(Validations) = %d, want 3", len(result.Validations))
	}
	for i, c := range result.Candidates {
		if c.Validation == nil {
			t.Fatalf("candidate %s has no validation", c.ID)
		}
		if c.Validation.Status != plan.ValidationPass {
			t.Errorf("candidate %s validation = %q, want PASS", c.ID, c.Validation.Status)
		}
		if result.Validations[i].PlanID != c.ID {
			t.Errorf("validation %d plan = %q, want %q", i, result.Validations[i].PlanID, c.ID)
		}
	}
	// default playbooks carry unapproved writes, so the summary reports them
	if !strings.Contains(result.PolicySummary, "policy violation(s)") {
		t.Errorf("PolicySummary = %q", result.PolicySummary)
	}
	if result.CompletedAt.Before(result.StartedAt) {
		t.Error("CompletedAt before StartedAt")
	}

	want := []string{
		"pipeline_start",
		"pipeline_evidence",
		"pipeline_candidates",
		"pipeline_validate", "pipeline_validate", "pipeline_validate",
		"pipeline_end",
	}
	if got := sink.Kinds(); !reflect.DeepEqual(got, want) {
		t.Errorf("audit kinds = %v, want %v", got, want)
	}
}

func TestPipelineRetrieverFailure(t *testing.T) {
	t.Parallel()

	sink := audit.NewMemory()
	p := newTestPipeline(mockRetriever{err: errors.New("kb offline")}, mockValidator{}, sink)

	_, err := p.Run(context.Background(), &incident.Incident{ID: "01J0ABCDEF", Service: "checkout"})
	if err == nil {
		t.Fatal("Run succeeded, want error")
	}
	if !strings.Contains(err.Error(), "retrieve evidence") {
		t.Errorf("error = %v, want retrieve evidence wrap", err)
	}
	if got, want := sink.Kinds(), []string{"pipeline_start"}; !reflect.DeepEqual(got, want) {
		t.Errorf("audit kinds = %v, want %v", got, want)
	}
}

func TestPipelineValidatorFailureIsolated(t *testing.T) {
	t.Parallel()

	// Fail validation for the second candidate only.
	p := newTestPipeline(mockRetriever{}, mockValidator{failFor: "db-pool-01j0abcd"}, nil)

	inc := &incident.Incident{ID: "01J0ABCDEF1234", Service: "checkout"}
	result, err := p.Run(context.Background(), inc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	statuses := make(map[string]plan.ValidationStatus, len(result.Candidates))
	for _, c := range result.Candidates {
		statuses[c.ID] = c.Validation.Status
	}
	if statuses["db-pool-01j0abcd"] != plan.ValidationUnknown {
		t.Errorf("failed candidate status = %q, want UNKNOWN", statuses["db-pool-01j0abcd"])
	}
	if statuses["rollback-01j0abcd"] != plan.ValidationPass || statuses["cache-warm-01j0abcd"] != plan.ValidationPass {
		t.Errorf("sibling candidates affected: %v", statuses)
	}

	for _, c := range result.Candidates {
		if c.ID == "db-pool-01j0abcd" && !strings.Contains(c.Validation.Notes, "validator error") {
			t.Errorf("failed candidate notes = %q", c.Validation.Notes)
		}
	}
}

func TestStaticRetrieverByCause(t *testing.T) {
	t.Parallel()

	r := StaticRetriever{}

	deploy, err := r.Retrieve(context.Background(), &incident.Incident{ID: "a", SuspectedCause: "bad deploy"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(deploy) == 0 {
		t.Fatal("no evidence for deploy cause")
	}

	generic, err := r.Retrieve(context.Background(), &incident.Incident{ID: "b"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(generic) == 0 {
		t.Fatal("no evidence for generic cause")
	}
}
