// Package plan defines the remediation plan data model shared by the
// policy engine, candidate generator, and execution engine.
package plan

import "strings"

// ActionType identifies what kind of operation a step performs.
type ActionType string

const (
	ActionRead        ActionType = "read"
	ActionObserve     ActionType = "observe"
	ActionConfig      ActionType = "config_change"
	ActionRestart     ActionType = "restart"
	ActionDeploy      ActionType = "deploy"
	ActionFeatureFlag ActionType = "feature_flag"
	ActionDBSchema    ActionType = "db_schema"
	ActionScale       ActionType = "scale"
	ActionRollback    ActionType = "rollback"
)

// writeActions are the action types that mutate infrastructure.
var writeActions = map[ActionType]bool{
	ActionConfig:      true,
	ActionDBSchema:    true,
	ActionRestart:     true,
	ActionDeploy:      true,
	ActionFeatureFlag: true,
	ActionScale:       true,
	ActionRollback:    true,
}

// Known reports whether t is one of the recognized action types.
func (t ActionType) Known() bool {
	switch t {
	case ActionRead, ActionObserve, ActionConfig, ActionRestart, ActionDeploy,
		ActionFeatureFlag, ActionDBSchema, ActionScale, ActionRollback:
		return true
	}
	return false
}

// Write reports whether t mutates infrastructure. Unknown action types are
// treated as read-only; the policy engine documents this permissive default.
func (t ActionType) Write() bool {
	return writeActions[t]
}

// Step is a single remediation action within a candidate plan.
type Step struct {
	ActionType ActionType `json:"action_type"`
	Env        string     `json:"env"`
	Service    string     `json:"service"`
	Targets    []string   `json:"targets,omitempty"`

	// Action-specific fields; handlers validate their own requirements.
	Key      string `json:"key,omitempty"`
	Value    string `json:"value,omitempty"`
	Op       string `json:"op,omitempty"`
	Version  string `json:"version,omitempty"`
	BackupID string `json:"backup_id,omitempty"`
	Replicas int    `json:"replicas,omitempty"`
	Change   string `json:"change,omitempty"`
	Cmd      string `json:"cmd,omitempty"`
}

// WildcardService reports whether the step targets every service at once.
func (s Step) WildcardService() bool {
	switch strings.ToLower(strings.TrimSpace(s.Service)) {
	case "*", "all":
		return true
	}
	return false
}

// ValidationStatus is the outcome of offline before/after validation.
type ValidationStatus string

const (
	ValidationPass    ValidationStatus = "PASS"
	ValidationFail    ValidationStatus = "FAIL"
	ValidationUnknown ValidationStatus = "UNKNOWN"
)

// Validation is the validator's verdict for one candidate, attached verbatim.
type Validation struct {
	Status    ValidationStatus   `json:"status"`
	Before    map[string]float64 `json:"before,omitempty"`
	After     map[string]float64 `json:"after,omitempty"`
	KPIDeltas map[string]float64 `json:"kpi_deltas,omitempty"`
	Notes     string             `json:"notes,omitempty"`
}

// Evidence is one retrieved knowledge-base item supporting a candidate.
type Evidence struct {
	Title   string  `json:"title"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet"`
	URI     string  `json:"uri"`
	Service string  `json:"service,omitempty"`
}

// Candidate is a drafted remediation plan. The policy fields hold the
// conservative draft-time evaluation; execution always re-evaluates live.
type Candidate struct {
	ID              string             `json:"id"`
	Title           string             `json:"title"`
	Env             string             `json:"env"`
	Service         string             `json:"service"`
	Steps           []Step             `json:"steps"`
	Rationale       string             `json:"rationale"`
	PredictedImpact map[string]float64 `json:"predicted_impact,omitempty"`

	PolicyOK         bool          `json:"policy_ok"`
	PolicyViolations []Violation   `json:"policy_violations"`
	ViolationsByStep [][]Violation `json:"violations_by_step"`

	Validation *Validation `json:"validation,omitempty"`
}

// Violation is a structured policy finding. It is data, never an error.
type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
