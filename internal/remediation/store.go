package remediation

import (
	"context"

	"github.com/linnemanlabs/remedy/internal/incident"
	"github.com/linnemanlabs/remedy/internal/plan"
)

// Store is the persistence interface for incidents, pipeline results,
// approval flags, and execution records. Implementations are free to be
// in-memory or durable; the engines never touch storage directly.
//
// Concurrent Approve and Execute calls for the same incident are not
// serialized by this package. The window between reading the approval flag
// and finishing policy re-evaluation is not atomic, so callers that need
// strict ordering must serialize per incident ID themselves. The race is
// benign: execution uses the approval value read at the evaluation instant,
// never a more permissive later one.
type Store interface {
	PutIncident(ctx context.Context, inc *incident.Incident) error
	GetIncident(ctx context.Context, id string) (*incident.Incident, bool, error)
	ListIncidents(ctx context.Context) ([]*incident.Incident, error)

	PutResult(ctx context.Context, r *Result) error
	GetResult(ctx context.Context, incidentID string) (*Result, bool, error)

	SetApproval(ctx context.Context, incidentID string, approved bool) error
	GetApproval(ctx context.Context, incidentID string) (bool, error)

	AppendExecution(ctx context.Context, rec *ExecutionRecord) error
	ListExecutions(ctx context.Context, incidentID string) ([]*ExecutionRecord, error)
}

// Retriever fetches supporting evidence for an incident. It is an external,
// fallible collaborator; a retrieval failure aborts the pipeline run.
type Retriever interface {
	Retrieve(ctx context.Context, inc *incident.Incident) ([]plan.Evidence, error)
}

// Validator replays before/after metrics for one candidate and returns a
// verdict. Each candidate is validated in its own failure scope: an error
// here marks that candidate UNKNOWN without stopping the others.
type Validator interface {
	Validate(ctx context.Context, inc *incident.Incident, c plan.Candidate) (plan.Validation, error)
}

// Notifier delivers execution outcomes to an external channel (e.g. Slack).
// Delivery is best-effort; errors are logged, never propagated.
type Notifier interface {
	Send(ctx context.Context, inc *incident.Incident, rec *ExecutionRecord) error
}
