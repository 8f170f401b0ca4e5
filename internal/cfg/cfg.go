// Package cfg holds application-level configuration for the remedy server,
// following the common cfg.Registerable and cfg.Validatable interfaces.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/remedy/internal/policy"
)

// Config adds remedy-specific configuration fields.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	DatabaseURL           string
	AuditFile             string
	SlackWebhookURL       string

	EnvAllowlist      string
	ProdEnvs          string
	PeakStart         string
	PeakEnd           string
	RequireApproval   bool
	BlockGlobalFF     bool
	RequireBackup     bool
	MaxProdTargets    int
	SensitiveServices string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	def := policy.DefaultConfig()

	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API routes (empty = auth disabled)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.AuditFile, "audit-file", "", "path for the JSONL audit trail (empty = log-only auditing)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for execution notifications")

	fs.StringVar(&c.EnvAllowlist, "env-allowlist", strings.Join(def.EnvAllowlist, ","), "comma-separated environments plans may target")
	fs.StringVar(&c.ProdEnvs, "prod-envs", strings.Join(def.ProdEnvs, ","), "comma-separated environments treated as production")
	fs.StringVar(&c.PeakStart, "peak-start", def.PeakStart, "peak window start (HH:MM:SS)")
	fs.StringVar(&c.PeakEnd, "peak-end", def.PeakEnd, "peak window end (HH:MM:SS); before peak-start means overnight")
	fs.BoolVar(&c.RequireApproval, "require-approval", def.RequireApproval, "write actions require an approval flag")
	fs.BoolVar(&c.BlockGlobalFF, "block-global-ff", def.BlockGlobalFF, "block global feature-flag disable in production")
	fs.BoolVar(&c.RequireBackup, "require-backup", def.RequireBackup, "db schema changes require a backup reference")
	fs.IntVar(&c.MaxProdTargets, "max-prod-targets", def.MaxProdTargets, "maximum targets a production step may touch")
	fs.StringVar(&c.SensitiveServices, "sensitive-services", strings.Join(def.SensitiveServices, ","), "comma-separated services needing approval for any write")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if _, err := time.Parse("15:04:05", c.PeakStart); err != nil {
		errs = append(errs, fmt.Errorf("invalid PEAK_START %q (must be HH:MM:SS)", c.PeakStart))
	}
	if _, err := time.Parse("15:04:05", c.PeakEnd); err != nil {
		errs = append(errs, fmt.Errorf("invalid PEAK_END %q (must be HH:MM:SS)", c.PeakEnd))
	}

	if c.MaxProdTargets <= 0 {
		errs = append(errs, fmt.Errorf("invalid MAX_PROD_TARGETS %d (must be positive)", c.MaxProdTargets))
	}

	if strings.TrimSpace(c.EnvAllowlist) == "" {
		errs = append(errs, errors.New("ENV_ALLOWLIST must not be empty"))
	}
	if strings.TrimSpace(c.ProdEnvs) == "" {
		errs = append(errs, errors.New("PROD_ENVS must not be empty"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// PolicyConfig converts the flat flag fields into the policy engine's Config.
func (c *Config) PolicyConfig() policy.Config {
	return policy.Config{
		EnvAllowlist:      splitList(c.EnvAllowlist),
		ProdEnvs:          splitList(c.ProdEnvs),
		PeakStart:         c.PeakStart,
		PeakEnd:           c.PeakEnd,
		RequireApproval:   c.RequireApproval,
		BlockGlobalFF:     c.BlockGlobalFF,
		RequireBackup:     c.RequireBackup,
		MaxProdTargets:    c.MaxProdTargets,
		SensitiveServices: splitList(c.SensitiveServices),
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
