package remediationapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/remedy/internal/incident"
	"github.com/linnemanlabs/remedy/internal/remediation"
)

// fakeService implements RemediationService with canned responses.
type fakeService struct {
	incidents map[string]*incident.Incident
	results   map[string]*remediation.Result
	execs     map[string][]*remediation.ExecutionRecord
	approvals map[string]bool

	executeRec *remediation.ExecutionRecord
	executeErr error

	lastExecutePlan string
	lastExecuteDry  bool
}

func newFakeService() *fakeService {
	return &fakeService{
		incidents: make(map[string]*incident.Incident),
		results:   make(map[string]*remediation.Result),
		execs:     make(map[string][]*remediation.ExecutionRecord),
		approvals: make(map[string]bool),
	}
}

func (f *fakeService) Detect(_ context.Context, req *remediation.DetectRequest) (*incident.Incident, error) {
	inc := &incident.Incident{
		ID:        "01J0APITEST",
		Service:   req.Service,
		Severity:  incident.SeverityMedium,
		CreatedAt: time.Now().UTC(),
	}
	f.incidents[inc.ID] = inc
	return inc, nil
}

func (f *fakeService) Get(_ context.Context, id string) (*incident.Incident, bool, error) {
	inc, ok := f.incidents[id]
	return inc, ok, nil
}

func (f *fakeService) List(_ context.Context) ([]*incident.Incident, error) {
	out := make([]*incident.Incident, 0, len(f.incidents))
	for _, inc := range f.incidents {
		out = append(out, inc)
	}
	return out, nil
}

func (f *fakeService) Result(_ context.Context, id string) (*remediation.Result, bool, error) {
	r, ok := f.results[id]
	return r, ok, nil
}

func (f *fakeService) Run(_ context.Context, id string) (*remediation.Result, error) {
	if r, ok := f.results[id]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("incident %s: %w", id, remediation.ErrNotFound)
}

func (f *fakeService) Approve(_ context.Context, id string, approved bool) error {
	if _, ok := f.incidents[id]; !ok {
		return fmt.Errorf("incident %s: %w", id, remediation.ErrNotFound)
	}
	f.approvals[id] = approved
	return nil
}

func (f *fakeService) Execute(_ context.Context, id, planID string, dryRun bool) (*remediation.ExecutionRecord, error) {
	f.lastExecutePlan = planID
	f.lastExecuteDry = dryRun
	if f.executeErr != nil {
		return nil, f.executeErr
	}
	return f.executeRec, nil
}

func (f *fakeService) Executions(_ context.Context, id string) ([]*remediation.ExecutionRecord, error) {
	return f.execs[id], nil
}

func (f *fakeService) Status(_ context.Context, id string) (*remediation.StatusSummary, error) {
	inc, ok := f.incidents[id]
	if !ok {
		return nil, fmt.Errorf("incident %s: %w", id, remediation.ErrNotFound)
	}
	return &remediation.StatusSummary{
		IncidentID: id,
		Severity:   inc.Severity,
		Approved:   f.approvals[id],
	}, nil
}

func newTestServer(svc RemediationService) *httptest.Server {
	r := chi.NewRouter()
	New(nil, svc).RegisterRoutes(r)
	return httptest.NewServer(r)
}

func TestNewPanicsOnNilService(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("New(nil, nil) did not panic")
		}
	}()
	New(nil, nil)
}

func TestHandleDetect(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	srv := newTestServer(svc)
	defer srv.Close()

	body := `{"service":"checkout","signals":[{"name":"error_rate","value":2.0,"unit":"percent"}]}`
	resp, err := http.Post(srv.URL+"/api/v1/incidents/detect", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var inc incident.Incident
	if err := json.NewDecoder(resp.Body).Decode(&inc); err != nil {
		t.Fatal(err)
	}
	if inc.Service != "checkout" {
		t.Errorf("service = %q", inc.Service)
	}
}

func TestHandleDetectBadRequests(t *testing.T) {
	t.Parallel()

	srv := newTestServer(newFakeService())
	t.Cleanup(srv.Close)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"missing service", `{"signals":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, err := http.Post(srv.URL+"/api/v1/incidents/detect", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestHandleGetIncident(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.incidents["abc"] = &incident.Incident{ID: "abc", Service: "checkout"}
	srv := newTestServer(svc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/incidents/abc")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/v1/incidents/missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", resp.StatusCode)
	}
}

func TestHandleCandidates(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.results["abc"] = &remediation.Result{
		IncidentID:    "abc",
		Status:        remediation.ResultComplete,
		PolicySummary: "2 policy violation(s) across candidates",
	}
	srv := newTestServer(svc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/incidents/abc/candidates")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["policy_summary"] != "2 policy violation(s) across candidates" {
		t.Errorf("policy_summary = %v", body["policy_summary"])
	}
}

func TestHandleApproveDefaultsToGrant(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.incidents["abc"] = &incident.Incident{ID: "abc"}
	srv := newTestServer(svc)
	defer srv.Close()

	// empty body means approve
	resp, err := http.Post(srv.URL+"/api/v1/incidents/abc/approve", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !svc.approvals["abc"] {
		t.Error("approval not granted")
	}

	resp, err = http.Post(srv.URL+"/api/v1/incidents/abc/approve", "application/json", strings.NewReader(`{"approved":false}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if svc.approvals["abc"] {
		t.Error("approval not revoked")
	}
}

func TestHandleExecute(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.executeRec = &remediation.ExecutionRecord{
		ExecutionID: "exec-1",
		IncidentID:  "abc",
		PlanID:      "rollback-abc",
		Status:      remediation.ExecutionSuccess,
	}
	srv := newTestServer(svc)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/incidents/abc/execute", "application/json", strings.NewReader(`{"plan_id":"rollback-abc"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if svc.lastExecutePlan != "rollback-abc" {
		t.Errorf("plan = %q", svc.lastExecutePlan)
	}
	if !svc.lastExecuteDry {
		t.Error("dry_run did not default to true")
	}

	resp, err = http.Post(srv.URL+"/api/v1/incidents/abc/execute", "application/json", strings.NewReader(`{"plan_id":"rollback-abc","dry_run":false}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if svc.lastExecuteDry {
		t.Error("explicit dry_run=false ignored")
	}
}

func TestHandleExecuteBlockedIsConflict(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.executeRec = &remediation.ExecutionRecord{
		ExecutionID: "exec-1",
		Status:      remediation.ExecutionBlocked,
		BlockedBy:   []string{"approval_required"},
	}
	srv := newTestServer(svc)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/incidents/abc/execute", "application/json", strings.NewReader(`{"plan_id":"p"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
	var rec remediation.ExecutionRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatal(err)
	}
	if len(rec.BlockedBy) != 1 || rec.BlockedBy[0] != "approval_required" {
		t.Errorf("BlockedBy = %v", rec.BlockedBy)
	}
}

func TestHandleExecuteRequiresPlanID(t *testing.T) {
	t.Parallel()

	srv := newTestServer(newFakeService())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/incidents/abc/execute", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.executeErr = errors.New("pg down")
	srv := newTestServer(svc)
	defer srv.Close()

	// unknown internal error becomes a 500 without leaking details
	resp, err := http.Post(srv.URL+"/api/v1/incidents/abc/execute", "application/json", strings.NewReader(`{"plan_id":"p"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}

	// ErrNotFound becomes 404
	resp, err = http.Post(srv.URL+"/api/v1/incidents/missing/run", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("run status = %d, want 404", resp.StatusCode)
	}
}

func TestHandleStatus(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.incidents["abc"] = &incident.Incident{ID: "abc", Severity: incident.SeverityHigh}
	svc.approvals["abc"] = true
	srv := newTestServer(svc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/incidents/abc/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var sum remediation.StatusSummary
	if err := json.NewDecoder(resp.Body).Decode(&sum); err != nil {
		t.Fatal(err)
	}
	if sum.Severity != incident.SeverityHigh || !sum.Approved {
		t.Errorf("summary = %+v", sum)
	}
}

func TestHandleExecutions(t *testing.T) {
	t.Parallel()

	svc := newFakeService()
	svc.execs["abc"] = []*remediation.ExecutionRecord{
		{ExecutionID: "exec-1", Status: remediation.ExecutionBlocked},
		{ExecutionID: "exec-2", Status: remediation.ExecutionSuccess},
	}
	srv := newTestServer(svc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/incidents/abc/executions")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		IncidentID string                         `json:"incident_id"`
		Executions []*remediation.ExecutionRecord `json:"executions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Executions) != 2 || body.Executions[0].ExecutionID != "exec-1" {
		t.Errorf("executions = %+v", body.Executions)
	}
}

func TestHandlersAnnotateSpan(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	svc := newFakeService()
	svc.incidents["abc"] = &incident.Incident{ID: "abc", Service: "checkout"}

	r := chi.NewRouter()
	// give every request a recording span, the way the server's otelhttp
	// middleware does
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx, span := tp.Tracer("test").Start(req.Context(), "http.server")
			defer span.End()
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	New(nil, svc).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/incidents/abc")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	found := false
	for _, s := range exporter.GetSpans() {
		for _, attr := range s.Attributes {
			if attr.Key == "remedy.incident.id" && attr.Value.AsString() == "abc" {
				found = true
			}
		}
	}
	if !found {
		t.Error("no span carries remedy.incident.id=abc")
	}
}
