package remediation

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the remediation subsystem.
type Metrics struct {
	DetectsTotal      *prometheus.CounterVec
	PipelinesTotal    *prometheus.CounterVec
	PipelineDuration  prometheus.Histogram
	CandidatesPerRun  prometheus.Histogram
	ViolationsTotal   *prometheus.CounterVec
	ExecutionsTotal   *prometheus.CounterVec
	StepsTotal        *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	ApprovalsTotal    *prometheus.CounterVec
}

// NewMetrics registers and returns remediation metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DetectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remedy_detects_total",
			Help: "Total incidents created by detection, by inferred severity.",
		}, []string{"severity"}),
		PipelinesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remedy_pipelines_total",
			Help: "Total pipeline runs by final status.",
		}, []string{"status"}),
		PipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "remedy_pipeline_duration_seconds",
			Help:    "Duration of pipeline runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~40s
		}),
		CandidatesPerRun: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "remedy_candidates_per_run",
			Help:    "Candidate plans generated per pipeline run.",
			Buckets: prometheus.LinearBuckets(0, 1, 8), // 0 .. 7
		}),
		ViolationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remedy_policy_violations_total",
			Help: "Total policy violations observed at execution time, by code.",
		}, []string{"code"}),
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remedy_executions_total",
			Help: "Total plan executions by final status and dry-run flag.",
		}, []string{"status", "dry_run"}),
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remedy_steps_total",
			Help: "Total step executions by action type and outcome.",
		}, []string{"action", "outcome"}),
		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "remedy_execution_duration_seconds",
			Help:    "Duration of plan executions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~4s
		}, []string{"status"}),
		ApprovalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "remedy_approvals_total",
			Help: "Total approval flag changes by decision.",
		}, []string{"decision"}),
	}

	reg.MustRegister(
		m.DetectsTotal,
		m.PipelinesTotal,
		m.PipelineDuration,
		m.CandidatesPerRun,
		m.ViolationsTotal,
		m.ExecutionsTotal,
		m.StepsTotal,
		m.ExecutionDuration,
		m.ApprovalsTotal,
	)

	return m
}

// observeExecution records the metrics for one finished execution.
func (m *Metrics) observeExecution(rec *ExecutionRecord) {
	if m == nil {
		return
	}
	dryRun := "false"
	if rec.DryRun {
		dryRun = "true"
	}
	m.ExecutionsTotal.WithLabelValues(string(rec.Status), dryRun).Inc()
	m.ExecutionDuration.WithLabelValues(string(rec.Status)).Observe(rec.EndedAt.Sub(rec.StartedAt).Seconds())
	for _, v := range rec.PolicySnapshot.Violations {
		m.ViolationsTotal.WithLabelValues(v.Code).Inc()
	}
	for _, s := range rec.Steps {
		outcome := "ok"
		if !s.OK {
			outcome = "error"
		}
		m.StepsTotal.WithLabelValues(string(s.ActionType), outcome).Inc()
	}
}

// observePipeline records the metrics for one finished pipeline run.
func (m *Metrics) observePipeline(r *Result) {
	if m == nil {
		return
	}
	m.PipelinesTotal.WithLabelValues(string(r.Status)).Inc()
	if r.Status == ResultComplete {
		m.PipelineDuration.Observe(r.Duration)
		m.CandidatesPerRun.Observe(float64(len(r.Candidates)))
	}
}
