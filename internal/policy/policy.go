// Package policy evaluates remediation plans against environment, time, and
// safety rules. Evaluation is pure: given the same plan, approval flag, and
// clock reading it always produces the same violations, touches no shared
// state, and never panics.
package policy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/linnemanlabs/remedy/internal/plan"
)

// Violation codes form a closed set. Execution partitions them into hard
// blocks (approval can never override) and soft violations (overridable
// once approved).
const (
	CodeEnvNotAllowlisted      = "env_not_allowlisted"
	CodeApprovalRequired       = "approval_required"
	CodeWildcardServiceBlocked = "wildcard_service_blocked"
	CodeSensitiveNeedsApproval = "sensitive_requires_approval"
	CodeBlockedInPeak          = "blocked_in_peak"
	CodeBackupRequired         = "backup_required"
	CodeGlobalFFDisableBlocked = "global_ff_disable_blocked"
	CodeExcessiveBlastRadius   = "excessive_blast_radius"
)

// hardCodes are violations approval can never override.
var hardCodes = map[string]bool{
	CodeEnvNotAllowlisted:      true,
	CodeWildcardServiceBlocked: true,
	CodeGlobalFFDisableBlocked: true,
	CodeExcessiveBlastRadius:   true,
	CodeBlockedInPeak:          true,
	CodeBackupRequired:         true,
}

// Hard reports whether code is a hard block.
func Hard(code string) bool {
	return hardCodes[code]
}

// Config holds the tunable rule inputs. All fields have safe defaults.
type Config struct {
	EnvAllowlist      []string
	ProdEnvs          []string
	PeakStart         string // HH:MM:SS
	PeakEnd           string // HH:MM:SS; before PeakStart means overnight span
	RequireApproval   bool   // write actions need approval
	BlockGlobalFF     bool   // block global feature-flag disable in prod
	RequireBackup     bool   // db_schema needs a backup reference
	MaxProdTargets    int
	SensitiveServices []string
}

// DefaultConfig returns the stock rule set.
func DefaultConfig() Config {
	return Config{
		EnvAllowlist:      []string{"dev", "staging", "prod"},
		ProdEnvs:          []string{"prod", "production"},
		PeakStart:         "09:00:00",
		PeakEnd:           "21:00:00",
		RequireApproval:   true,
		BlockGlobalFF:     true,
		RequireBackup:     true,
		MaxProdTargets:    5,
		SensitiveServices: []string{"auth", "payments"},
	}
}

// Evaluation summarizes a whole-plan policy check. ViolationsByStep is
// index-aligned with the plan's steps.
type Evaluation struct {
	PolicyOK         bool               `json:"policy_ok"`
	Violations       []plan.Violation   `json:"policy_violations"`
	ViolationsByStep [][]plan.Violation `json:"violations_by_step"`
}

// Codes returns the distinct violation codes in first-seen order.
func (e Evaluation) Codes() []string {
	seen := make(map[string]bool, len(e.Violations))
	var out []string
	for _, v := range e.Violations {
		if !seen[v.Code] {
			seen[v.Code] = true
			out = append(out, v.Code)
		}
	}
	return out
}

// HardCodes returns the hard-block codes present in the evaluation.
func (e Evaluation) HardCodes() []string {
	var out []string
	for _, c := range e.Codes() {
		if Hard(c) {
			out = append(out, c)
		}
	}
	return out
}

// Engine applies the configured rule set. Zero-value fields in the supplied
// Config are normalized at construction so evaluation itself stays total.
type Engine struct {
	cfg       Config
	allow     map[string]bool
	prod      map[string]bool
	sensitive map[string]bool
	peakStart clock
	peakEnd   clock
}

type clock struct {
	h, m, s int
}

func (c clock) seconds() int { return c.h*3600 + c.m*60 + c.s }

func parseClock(s string) (clock, error) {
	var c clock
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &c.h, &c.m, &c.s); err != nil {
		return clock{}, fmt.Errorf("parse clock %q: %w", s, err)
	}
	if c.h < 0 || c.h > 23 || c.m < 0 || c.m > 59 || c.s < 0 || c.s > 59 {
		return clock{}, fmt.Errorf("parse clock %q: out of range", s)
	}
	return c, nil
}

// New builds an Engine from cfg. Invalid peak-window strings are rejected
// here so EvaluateStep never has to fail.
func New(cfg Config) (*Engine, error) {
	if len(cfg.EnvAllowlist) == 0 {
		cfg.EnvAllowlist = DefaultConfig().EnvAllowlist
	}
	if len(cfg.ProdEnvs) == 0 {
		cfg.ProdEnvs = DefaultConfig().ProdEnvs
	}
	if cfg.PeakStart == "" {
		cfg.PeakStart = DefaultConfig().PeakStart
	}
	if cfg.PeakEnd == "" {
		cfg.PeakEnd = DefaultConfig().PeakEnd
	}
	if cfg.MaxProdTargets <= 0 {
		cfg.MaxProdTargets = DefaultConfig().MaxProdTargets
	}

	start, err := parseClock(cfg.PeakStart)
	if err != nil {
		return nil, err
	}
	end, err := parseClock(cfg.PeakEnd)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:       cfg,
		allow:     lowerSet(cfg.EnvAllowlist),
		prod:      lowerSet(cfg.ProdEnvs),
		sensitive: lowerSet(cfg.SensitiveServices),
		peakStart: start,
		peakEnd:   end,
	}, nil
}

// MustNew is New for known-good configs, e.g. DefaultConfig in tests.
func MustNew(cfg Config) *Engine {
	e, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return e
}

func lowerSet(vals []string) map[string]bool {
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			m[v] = true
		}
	}
	return m
}

// InPeak reports whether t falls inside the configured peak window.
// A window whose start is after its end wraps midnight (e.g. 22:00-06:00).
func (e *Engine) InPeak(t time.Time) bool {
	now := clock{t.Hour(), t.Minute(), t.Second()}.seconds()
	start, end := e.peakStart.seconds(), e.peakEnd.seconds()
	if start <= end {
		return now >= start && now <= end
	}
	return now >= start || now <= end
}

// EvaluateStep checks one step against every rule independently and returns
// all violations found. approved reflects the caller's live approval flag;
// now is the evaluation instant for the peak-window rule.
func (e *Engine) EvaluateStep(step plan.Step, approved bool, now time.Time) []plan.Violation {
	var out []plan.Violation

	action := step.ActionType
	if action == "" {
		action = plan.ActionRead
	}
	env := strings.ToLower(strings.TrimSpace(step.Env))
	if env == "" {
		env = "dev"
	}
	isProd := e.prod[env]
	write := action.Write()

	if !e.allow[env] {
		out = append(out, plan.Violation{
			Code:    CodeEnvNotAllowlisted,
			Message: fmt.Sprintf("env %q not in allowlist %v", env, sortedKeys(e.allow)),
		})
	}

	if e.cfg.RequireApproval && write && !approved {
		out = append(out, plan.Violation{
			Code:    CodeApprovalRequired,
			Message: fmt.Sprintf("write action %q requires approval", action),
		})
	}

	if step.WildcardService() {
		out = append(out, plan.Violation{
			Code:    CodeWildcardServiceBlocked,
			Message: "wildcard service target is not allowed",
		})
	}

	svc := strings.ToLower(strings.TrimSpace(step.Service))
	if e.sensitive[svc] && write && !approved {
		out = append(out, plan.Violation{
			Code:    CodeSensitiveNeedsApproval,
			Message: fmt.Sprintf("writes on sensitive service %q require approval", svc),
		})
	}

	if isProd && e.InPeak(now) && (action == plan.ActionRestart || action == plan.ActionDeploy) {
		out = append(out, plan.Violation{
			Code: CodeBlockedInPeak,
			Message: fmt.Sprintf("%q blocked during peak window %s-%s in %s",
				action, e.cfg.PeakStart, e.cfg.PeakEnd, env),
		})
	}

	if action == plan.ActionDBSchema && e.cfg.RequireBackup && step.BackupID == "" {
		out = append(out, plan.Violation{
			Code:    CodeBackupRequired,
			Message: "db schema changes require a backup reference",
		})
	}

	if isProd && action == plan.ActionFeatureFlag && e.cfg.BlockGlobalFF {
		op := strings.ToLower(step.Op)
		key := strings.ToLower(step.Key)
		if (op == "disable" || op == "off") && (key == "*" || key == "all") {
			out = append(out, plan.Violation{
				Code:    CodeGlobalFFDisableBlocked,
				Message: "disabling all feature flags in prod is blocked",
			})
		}
	}

	if isProd {
		wildcardTargets := len(step.Targets) == 1 && step.Targets[0] == "*"
		if wildcardTargets || len(step.Targets) > e.cfg.MaxProdTargets {
			out = append(out, plan.Violation{
				Code: CodeExcessiveBlastRadius,
				Message: fmt.Sprintf("targets %v exceed prod limit (%d)",
					step.Targets, e.cfg.MaxProdTargets),
			})
		}
	}

	return out
}

// EvaluatePlan runs EvaluateStep over every step and summarizes. PolicyOK is
// true iff no step produced a violation.
func (e *Engine) EvaluatePlan(c plan.Candidate, approved bool, now time.Time) Evaluation {
	all := make([]plan.Violation, 0)
	byStep := make([][]plan.Violation, 0, len(c.Steps))

	for _, s := range c.Steps {
		vs := e.EvaluateStep(s, approved, now)
		if vs == nil {
			vs = []plan.Violation{}
		}
		byStep = append(byStep, vs)
		all = append(all, vs...)
	}

	return Evaluation{
		PolicyOK:         len(all) == 0,
		Violations:       all,
		ViolationsByStep: byStep,
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
