package remediation

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/remedy/internal/audit"
	"github.com/linnemanlabs/remedy/internal/incident"
	"github.com/linnemanlabs/remedy/internal/plan"
	"github.com/linnemanlabs/remedy/internal/policy"
)

// StepOutcome is what a handler reports for one step.
type StepOutcome struct {
	OK      bool
	Message string
	Sample  map[string]any
}

func stepOK(msg string) StepOutcome  { return StepOutcome{OK: true, Message: msg} }
func stepErr(msg string) StepOutcome { return StepOutcome{OK: false, Message: msg} }

// stepHandler executes (or simulates) one step. Handlers validate their own
// required fields and report failures as outcomes, never as panics.
type stepHandler func(step plan.Step, dryRun bool) StepOutcome

// Executor runs candidate plans under live policy gating. Steps execute
// strictly in order because later steps may depend on earlier ones (backup
// before schema migration); this is a correctness requirement.
type Executor struct {
	engine   *policy.Engine
	sink     audit.Sink
	logger   log.Logger
	now      func() time.Time
	handlers map[plan.ActionType]stepHandler
}

// NewExecutor creates an Executor. sink may be nil (auditing disabled).
func NewExecutor(engine *policy.Engine, sink audit.Sink, logger log.Logger) *Executor {
	if sink == nil {
		sink = audit.Nop{}
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Executor{
		engine:   engine,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
		handlers: defaultHandlers(),
	}
}

// defaultHandlers maps every known action type to its handler. Unknown
// action types are rejected at dispatch with a step-level failure.
func defaultHandlers() map[plan.ActionType]stepHandler {
	return map[plan.ActionType]stepHandler{
		plan.ActionRead:        execRead,
		plan.ActionObserve:     execRead,
		plan.ActionConfig:      execConfigChange,
		plan.ActionRestart:     execRestart,
		plan.ActionDeploy:      execDeploy,
		plan.ActionFeatureFlag: execFeatureFlag,
		plan.ActionDBSchema:    execDBSchema,
		plan.ActionScale:       execScale,
		plan.ActionRollback:    execRollback,
	}
}

// Execute runs one candidate plan for an incident and returns the audited
// record. The live policy evaluation here is authoritative; the draft-time
// annotation on the candidate is never consulted.
func (e *Executor) Execute(ctx context.Context, inc *incident.Incident, c plan.Candidate, approved, dryRun bool) *ExecutionRecord {
	rec := &ExecutionRecord{
		ExecutionID: "exec-" + ulid.Make().String(),
		IncidentID:  inc.ID,
		PlanID:      c.ID,
		DryRun:      dryRun,
		Steps:       []StepResult{},
		StartedAt:   e.now().UTC(),
	}

	eval := e.engine.EvaluatePlan(c, approved, e.now())
	rec.PolicySnapshot = eval

	if hard := eval.HardCodes(); len(hard) > 0 {
		rec.Status = ExecutionBlocked
		rec.BlockedBy = hard
		rec.EndedAt = e.now().UTC()
		e.sink.Emit(ctx, "execute_blocked", map[string]any{
			"incident_id": inc.ID,
			"plan_id":     c.ID,
			"reason":      "hard_policy_block",
			"blocked_by":  hard,
		})
		return rec
	}

	if !eval.PolicyOK && !approved {
		rec.Status = ExecutionBlocked
		rec.BlockedBy = eval.Codes()
		rec.EndedAt = e.now().UTC()
		e.sink.Emit(ctx, "execute_blocked", map[string]any{
			"incident_id": inc.ID,
			"plan_id":     c.ID,
			"reason":      "approval_required",
			"blocked_by":  rec.BlockedBy,
		})
		return rec
	}

	e.sink.Emit(ctx, "execute_start", map[string]any{
		"incident_id": inc.ID,
		"plan_id":     c.ID,
		"dry_run":     dryRun,
		"step_count":  len(c.Steps),
	})

	L := e.logger.With("incident_id", inc.ID, "plan_id", c.ID, "execution_id", rec.ExecutionID)

	status := ExecutionSuccess
	for i, step := range c.Steps {
		e.sink.Emit(ctx, "execute_step_begin", map[string]any{
			"incident_id": inc.ID,
			"plan_id":     c.ID,
			"index":       i,
			"action_type": string(step.ActionType),
		})

		sr := e.executeStep(i, step, dryRun)
		rec.Steps = append(rec.Steps, sr)

		e.sink.Emit(ctx, "execute_step_end", map[string]any{
			"incident_id": inc.ID,
			"plan_id":     c.ID,
			"index":       i,
			"ok":          sr.OK,
			"message":     sr.Message,
		})

		// Fail fast: later steps may assume this one succeeded.
		if !sr.OK {
			L.Warn(ctx, "step failed, halting plan", "index", i, "action", string(step.ActionType), "message", sr.Message)
			status = ExecutionFailed
			break
		}
	}

	rec.Status = status
	rec.EndedAt = e.now().UTC()

	e.sink.Emit(ctx, "execute_end", map[string]any{
		"incident_id": inc.ID,
		"plan_id":     c.ID,
		"status":      string(status),
	})

	L.Info(ctx, "execution finished",
		"status", string(status),
		"dry_run", dryRun,
		"steps", len(rec.Steps),
	)
	return rec
}

func (e *Executor) executeStep(idx int, step plan.Step, dryRun bool) StepResult {
	started := e.now().UTC()

	action := step.ActionType
	if action == "" {
		action = plan.ActionRead
	}

	var out StepOutcome
	if h, ok := e.handlers[action]; ok {
		out = h(step, dryRun)
	} else {
		out = stepErr(fmt.Sprintf("unsupported action_type %q", action))
	}

	return StepResult{
		StepIndex:  idx,
		ActionType: action,
		OK:         out.OK,
		Message:    out.Message,
		StartedAt:  started,
		EndedAt:    e.now().UTC(),
		Sample:     out.Sample,
	}
}

// Handlers simulate infrastructure operations. Real mutation is out of
// scope; in dry-run mode they only describe what would happen.

func execRead(_ plan.Step, _ bool) StepOutcome {
	return StepOutcome{OK: true, Message: "read-only observation", Sample: map[string]any{"status": "healthy"}}
}

func execConfigChange(step plan.Step, dryRun bool) StepOutcome {
	if step.Key == "" {
		return stepErr("config_change requires 'key'")
	}
	if dryRun {
		return stepOK(fmt.Sprintf("would change config %s -> %q", step.Key, step.Value))
	}
	return stepOK(fmt.Sprintf("changed config %s -> %q", step.Key, step.Value))
}

func execRestart(step plan.Step, dryRun bool) StepOutcome {
	if len(step.Targets) == 0 {
		return stepErr("restart requires non-empty 'targets'")
	}
	if dryRun {
		return stepOK(fmt.Sprintf("would restart %v", step.Targets))
	}
	return stepOK(fmt.Sprintf("restarted %v", step.Targets))
}

func execDeploy(step plan.Step, dryRun bool) StepOutcome {
	if len(step.Targets) == 0 {
		return stepErr("deploy requires non-empty 'targets'")
	}
	version := step.Version
	if version == "" {
		version = "latest"
	}
	if dryRun {
		return stepOK(fmt.Sprintf("would deploy %s to %v", version, step.Targets))
	}
	return stepOK(fmt.Sprintf("deployed %s to %v", version, step.Targets))
}

func execFeatureFlag(step plan.Step, dryRun bool) StepOutcome {
	if step.Key == "" || step.Op == "" {
		return stepErr("feature_flag requires 'key' and 'op'")
	}
	if dryRun {
		return stepOK(fmt.Sprintf("would set feature %q -> %s", step.Key, step.Op))
	}
	return stepOK(fmt.Sprintf("feature %q -> %s", step.Key, step.Op))
}

func execDBSchema(step plan.Step, dryRun bool) StepOutcome {
	if step.BackupID == "" {
		return stepErr("db_schema requires 'backup_id'")
	}
	change := step.Change
	if change == "" {
		change = "migration"
	}
	if dryRun {
		return stepOK(fmt.Sprintf("would apply schema change %q (backup %s)", change, step.BackupID))
	}
	return stepOK(fmt.Sprintf("applied schema change %q (backup %s)", change, step.BackupID))
}

func execScale(step plan.Step, dryRun bool) StepOutcome {
	// Replicas is a plain int, so an omitted count is indistinguishable from
	// an explicit zero. Both are rejected rather than silently scaling to 0.
	if len(step.Targets) == 0 || step.Replicas <= 0 {
		return stepErr("scale requires 'targets' and 'replicas'")
	}
	if dryRun {
		return stepOK(fmt.Sprintf("would scale %v to %d replicas", step.Targets, step.Replicas))
	}
	return stepOK(fmt.Sprintf("scaled %v to %d replicas", step.Targets, step.Replicas))
}

func execRollback(step plan.Step, dryRun bool) StepOutcome {
	target := step.Service
	if len(step.Targets) > 0 {
		target = step.Targets[0]
	}
	if target == "" {
		target = "service"
	}
	if dryRun {
		return stepOK(fmt.Sprintf("would rollback %s to previous version", target))
	}
	return stepOK(fmt.Sprintf("rolled back %s to previous version", target))
}
