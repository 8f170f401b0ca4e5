package remediation

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/remedy/internal/incident"
	"github.com/linnemanlabs/remedy/internal/plan"
)

// StaticRetriever serves canned playbook notes keyed by suspected cause.
// It stands in for real evidence retrieval in dev wiring and tests; the
// production deployment injects an external retriever instead.
type StaticRetriever struct{}

// Retrieve implements Retriever deterministically and never fails.
func (StaticRetriever) Retrieve(_ context.Context, inc *incident.Incident) ([]plan.Evidence, error) {
	cause := strings.ToLower(inc.SuspectedCause)
	switch {
	case strings.Contains(cause, "deploy"):
		return []plan.Evidence{
			{Title: "Rollback runbook", Score: 0.92, Snippet: "Roll back to the last known good release when a deploy correlates with an error spike.", URI: "kb://runbooks/rollback", Service: inc.Service},
			{Title: "Post-deploy verification", Score: 0.74, Snippet: "Watch 5xx and p95 for ten minutes after any rollback.", URI: "kb://runbooks/verify"},
		}, nil
	case strings.Contains(cause, "db"):
		return []plan.Evidence{
			{Title: "Connection pool tuning", Score: 0.88, Snippet: "Raise pool size conservatively and restart one instance at a time.", URI: "kb://runbooks/db-pool", Service: inc.Service},
		}, nil
	default:
		return []plan.Evidence{
			{Title: "Generic latency playbook", Score: 0.61, Snippet: "Warm caches and add headroom before risky changes.", URI: "kb://runbooks/latency"},
		}, nil
	}
}

// StubValidator returns UNKNOWN for every candidate. It stands in for the
// offline metric-replay validator, which lives outside this service.
type StubValidator struct{}

// Validate implements Validator.
func (StubValidator) Validate(_ context.Context, inc *incident.Incident, c plan.Candidate) (plan.Validation, error) {
	return plan.Validation{
		Status: plan.ValidationUnknown,
		Notes:  fmt.Sprintf("no validator configured for %s/%s", inc.ID, c.ID),
	}, nil
}
