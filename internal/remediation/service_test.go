package remediation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/remedy/internal/incident"
	"github.com/linnemanlabs/remedy/internal/policy"
)

// mockStore is a minimal in-memory Store for service tests.
type mockStore struct {
	mu         sync.Mutex
	incidents  map[string]*incident.Incident
	results    map[string]*Result
	approvals  map[string]bool
	executions map[string][]*ExecutionRecord

	putResultErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		incidents:  make(map[string]*incident.Incident),
		results:    make(map[string]*Result),
		approvals:  make(map[string]bool),
		executions: make(map[string][]*ExecutionRecord),
	}
}

func (m *mockStore) PutIncident(_ context.Context, inc *incident.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incidents[inc.ID] = inc
	return nil
}

func (m *mockStore) GetIncident(_ context.Context, id string) (*incident.Incident, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	return inc, ok, nil
}

func (m *mockStore) ListIncidents(_ context.Context) ([]*incident.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*incident.Incident, 0, len(m.incidents))
	for _, inc := range m.incidents {
		out = append(out, inc)
	}
	return out, nil
}

func (m *mockStore) PutResult(_ context.Context, r *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putResultErr != nil {
		return m.putResultErr
	}
	m.results[r.IncidentID] = r
	return nil
}

func (m *mockStore) GetResult(_ context.Context, incidentID string) (*Result, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[incidentID]
	return r, ok, nil
}

func (m *mockStore) SetApproval(_ context.Context, incidentID string, approved bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[incidentID] = approved
	return nil
}

func (m *mockStore) GetApproval(_ context.Context, incidentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.approvals[incidentID], nil
}

func (m *mockStore) AppendExecution(_ context.Context, rec *ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions[rec.IncidentID] = append(m.executions[rec.IncidentID], rec)
	return nil
}

func (m *mockStore) ListExecutions(_ context.Context, incidentID string) ([]*ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ExecutionRecord(nil), m.executions[incidentID]...), nil
}

type mockNotifier struct {
	mu   sync.Mutex
	sent int
	err  error
}

func (m *mockNotifier) Send(_ context.Context, _ *incident.Incident, _ *ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent++
	return m.err
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

func newTestService(store Store, notifier Notifier) *Service {
	engine := policy.MustNew(policy.DefaultConfig())
	pipeline := NewPipeline(StaticRetriever{}, NewGenerator(engine), StubValidator{}, nil, nil)
	executor := NewExecutor(engine, nil, nil)
	return NewService(store, pipeline, executor, nil, nil, notifier)
}

func waitForComplete(t *testing.T, store Store, incidentID string) *Result {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r, ok, _ := store.GetResult(context.Background(), incidentID); ok && r.Status == ResultComplete {
			return r
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("pipeline did not complete in time")
	return nil
}

func TestDetectCreatesIncidentAndRunsPipeline(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	svc := newTestService(store, nil)

	inc, err := svc.Detect(context.Background(), &DetectRequest{
		Service: "checkout",
		Signals: []incident.Signal{
			{Name: "error_rate", Value: 2.5, Unit: "percent"},
			{Name: "latency_p95", Value: 1400, Unit: "ms"},
		},
		SuspectedCause: "recent deploy",
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if inc.ID == "" {
		t.Fatal("incident has no ID")
	}
	if inc.Severity != incident.SeverityHigh {
		t.Errorf("Severity = %q, want HIGH", inc.Severity)
	}

	got, ok, _ := svc.Get(context.Background(), inc.ID)
	if !ok || got.Service != "checkout" {
		t.Fatalf("stored incident = %+v, ok=%v", got, ok)
	}

	result := waitForComplete(t, store, inc.ID)
	if len(result.Candidates) != 3 {
		t.Errorf("len(Candidates) = %d, want 3", len(result.Candidates))
	}
}

func TestDetectRequiresService(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), nil)
	if _, err := svc.Detect(context.Background(), &DetectRequest{}); err == nil {
		t.Fatal("Detect with empty service succeeded")
	}
}

func TestRunUnknownIncident(t *testing.T) {
	t.Parallel()

	svc := newTestService(newMockStore(), nil)
	_, err := svc.Run(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestApproveLifecycle(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	svc := newTestService(store, nil)

	if err := svc.Approve(context.Background(), "missing", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("Approve missing = %v, want ErrNotFound", err)
	}

	inc := &incident.Incident{ID: "01J0SVCTEST000", Service: "checkout", CreatedAt: time.Now().UTC()}
	if err := store.PutIncident(context.Background(), inc); err != nil {
		t.Fatal(err)
	}

	if err := svc.Approve(context.Background(), inc.ID, true); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved, _ := store.GetApproval(context.Background(), inc.ID); !approved {
		t.Error("approval flag not set")
	}

	if err := svc.Approve(context.Background(), inc.ID, false); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if approved, _ := store.GetApproval(context.Background(), inc.ID); approved {
		t.Error("approval flag not revoked")
	}
}

func TestExecuteLifecycle(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	notifier := &mockNotifier{}
	svc := newTestService(store, notifier)

	inc := &incident.Incident{ID: "01J0SVCTEST001", Service: "checkout", CreatedAt: time.Now().UTC()}
	if err := store.PutIncident(context.Background(), inc); err != nil {
		t.Fatal(err)
	}

	// no completed pipeline yet
	if _, err := svc.Execute(context.Background(), inc.ID, "rollback-01j0svct", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("Execute before pipeline = %v, want ErrNotFound", err)
	}

	result, err := svc.Run(context.Background(), inc.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	planID := result.Candidates[0].ID

	if _, err := svc.Execute(context.Background(), inc.ID, "no-such-plan", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("Execute unknown plan = %v, want ErrNotFound", err)
	}

	// unapproved: blocked, but the record is still persisted
	rec, err := svc.Execute(context.Background(), inc.ID, planID, true)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rec.Status != ExecutionBlocked {
		t.Errorf("unapproved Status = %q, want blocked", rec.Status)
	}
	if notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", notifier.count())
	}

	if err := svc.Approve(context.Background(), inc.ID, true); err != nil {
		t.Fatal(err)
	}

	rec, err = svc.Execute(context.Background(), inc.ID, planID, true)
	if err != nil {
		t.Fatalf("Execute approved: %v", err)
	}
	if rec.Status != ExecutionSuccess {
		t.Errorf("approved Status = %q, want success", rec.Status)
	}

	execs, err := svc.Executions(context.Background(), inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(execs) != 2 {
		t.Errorf("len(Executions) = %d, want 2", len(execs))
	}
	if execs[0].ExecutionID == execs[1].ExecutionID {
		t.Error("execution IDs not unique")
	}
}

func TestExecuteNotifierFailureTolerated(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	notifier := &mockNotifier{err: errors.New("webhook down")}
	svc := newTestService(store, notifier)

	inc := &incident.Incident{ID: "01J0SVCTEST002", Service: "checkout", CreatedAt: time.Now().UTC()}
	if err := store.PutIncident(context.Background(), inc); err != nil {
		t.Fatal(err)
	}
	result, err := svc.Run(context.Background(), inc.ID)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Execute(context.Background(), inc.ID, result.Candidates[0].ID, true); err != nil {
		t.Errorf("Execute = %v, want nil despite notifier error", err)
	}
}

func TestStatusSummary(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	svc := newTestService(store, nil)

	if _, err := svc.Status(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Status missing = %v, want ErrNotFound", err)
	}

	inc := &incident.Incident{ID: "01J0SVCTEST003", Service: "checkout", Severity: incident.SeverityMedium, CreatedAt: time.Now().UTC()}
	if err := store.PutIncident(context.Background(), inc); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Run(context.Background(), inc.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.Approve(context.Background(), inc.ID, true); err != nil {
		t.Fatal(err)
	}

	sum, err := svc.Status(context.Background(), inc.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if sum.Severity != incident.SeverityMedium {
		t.Errorf("Severity = %q, want MEDIUM", sum.Severity)
	}
	if sum.PipelineStatus != ResultComplete {
		t.Errorf("PipelineStatus = %q, want complete", sum.PipelineStatus)
	}
	if !sum.Approved {
		t.Error("Approved = false, want true")
	}
	if sum.Candidates != 3 {
		t.Errorf("Candidates = %d, want 3", sum.Candidates)
	}
}

func TestPipelineFailureRecordsFailedResult(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	engine := policy.MustNew(policy.DefaultConfig())
	pipeline := NewPipeline(mockRetriever{err: errors.New("kb offline")}, NewGenerator(engine), StubValidator{}, nil, nil)
	svc := NewService(store, pipeline, NewExecutor(engine, nil, nil), nil, nil, nil)

	inc := &incident.Incident{ID: "01J0SVCTEST004", Service: "checkout", CreatedAt: time.Now().UTC()}
	if err := store.PutIncident(context.Background(), inc); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Run(context.Background(), inc.ID); err == nil {
		t.Fatal("Run succeeded, want retriever error")
	}

	r, ok, _ := store.GetResult(context.Background(), inc.ID)
	if !ok || r.Status != ResultFailed {
		t.Fatalf("stored result = %+v, want failed", r)
	}
	if r.Error == "" {
		t.Error("failed result has no error message")
	}
}
