package remediation

import (
	"time"

	"github.com/linnemanlabs/remedy/internal/plan"
	"github.com/linnemanlabs/remedy/internal/policy"
)

// ExecutionStatus is the terminal state of an execute call.
type ExecutionStatus string

const (
	// ExecutionBlocked means policy refused the plan; no handler ran.
	ExecutionBlocked ExecutionStatus = "blocked"

	// ExecutionSuccess means every step completed.
	ExecutionSuccess ExecutionStatus = "success"

	// ExecutionFailed means a step failed; later steps were not attempted.
	ExecutionFailed ExecutionStatus = "failed"
)

// StepResult is the outcome of one executed (or simulated) step.
type StepResult struct {
	StepIndex  int             `json:"step_index"`
	ActionType plan.ActionType `json:"action_type"`
	OK         bool            `json:"ok"`
	Message    string          `json:"message"`
	StartedAt  time.Time       `json:"started_at"`
	EndedAt    time.Time       `json:"ended_at"`
	Sample     map[string]any  `json:"sample,omitempty"`
}

// ExecutionRecord is the audited result of a single execute call. Records
// are appended per call and never mutated afterwards.
type ExecutionRecord struct {
	ExecutionID    string            `json:"execution_id"`
	IncidentID     string            `json:"incident_id"`
	PlanID         string            `json:"plan_id"`
	Status         ExecutionStatus   `json:"status"`
	DryRun         bool              `json:"dry_run"`
	BlockedBy      []string          `json:"blocked_by,omitempty"`
	PolicySnapshot policy.Evaluation `json:"policy_snapshot"`
	Steps          []StepResult      `json:"steps"`
	StartedAt      time.Time         `json:"started_at"`
	EndedAt        time.Time         `json:"ended_at"`
}

// ResultStatus tracks where a pipeline run is in its lifecycle.
type ResultStatus string

const (
	// ResultPending means created, not yet started.
	ResultPending ResultStatus = "pending"

	// ResultRunning means the pipeline is currently processing.
	ResultRunning ResultStatus = "running"

	// ResultComplete means finished successfully.
	ResultComplete ResultStatus = "complete"

	// ResultFailed means a collaborator failed and the run aborted.
	ResultFailed ResultStatus = "failed"
)

// ValidationEntry pairs a candidate plan with its validator verdict.
type ValidationEntry struct {
	PlanID string          `json:"plan_id"`
	Result plan.Validation `json:"result"`
}

// Result is the persisted outcome of one pipeline run for an incident.
type Result struct {
	IncidentID    string            `json:"incident_id"`
	Status        ResultStatus      `json:"status"`
	Error         string            `json:"error,omitempty"`
	Evidence      []plan.Evidence   `json:"evidence"`
	Candidates    []plan.Candidate  `json:"candidates"`
	Validations   []ValidationEntry `json:"validations"`
	PolicySummary string            `json:"policy_summary"`
	StartedAt     time.Time         `json:"started_at"`
	CompletedAt   time.Time         `json:"completed_at,omitempty"`
	Duration      float64           `json:"duration_seconds,omitempty"`
}
