// Package metrics exposes Prometheus collectors for the runtime.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the runtime's collectors.
type Metrics struct {
	registry *prometheus.Registry

	RunsStarted   prometheus.Counter
	RunsCompleted prometheus.Counter
	RunsFailed    prometheus.Counter
	RunsRetried   prometheus.Counter
	RunsCancelled prometheus.Counter

	RunDuration prometheus.Histogram
	QueueDepth  prometheus.Gauge

	ApprovalsRequested prometheus.Counter
	ApprovalsApproved  prometheus.Counter
	ApprovalsDenied    prometheus.Counter
	ApprovalsTimedOut  prometheus.Counter

	CommandsBlocked prometheus.Counter
	TokensUsed      prometheus.Counter
	HookExecutions  *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "nightshift_runs_started_total",
			Help: "Background agent runs started.",
		}),
		RunsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "nightshift_runs_completed_total",
			Help: "Background agent runs that completed successfully.",
		}),
		RunsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "nightshift_runs_failed_total",
			Help: "Background agent runs that failed after exhausting retries.",
		}),
		RunsRetried: factory.NewCounter(prometheus.CounterOpts{
			Name: "nightshift_runs_retried_total",
			Help: "Run attempts scheduled by the retry policy.",
		}),
		RunsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "nightshift_runs_cancelled_total",
			Help: "Runs cancelled by an operator.",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nightshift_run_duration_seconds",
			Help:    "Wall-clock duration of agent runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nightshift_worker_queue_depth",
			Help: "Runs waiting for a worker.",
		}),
		ApprovalsRequested: factory.NewCounter(prometheus.CounterOpts{
			Name: "nightshift_approvals_requested_total",
			Help: "Commands escalated to operator approval.",
		}),
		ApprovalsApproved: factory.NewCounter(prometheus.CounterOpts{
			Name: "nightshift_approvals_approved_total",
			Help: "Approval requests granted.",
		}),
		ApprovalsDenied: factory.NewCounter(prometheus.CounterOpts{
			Name: "nightshift_approvals_denied_total",
			Help: "Approval requests denied by an operator.",
		}),
		ApprovalsTimedOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "nightshift_approvals_timed_out_total",
			Help: "Approval requests that expired without a response.",
		}),
		CommandsBlocked: factory.NewCounter(prometheus.CounterOpts{
			Name: "nightshift_commands_blocked_total",
			Help: "Commands rejected by the security policy.",
		}),
		TokensUsed: factory.NewCounter(prometheus.CounterOpts{
			Name: "nightshift_tokens_used_total",
			Help: "LLM tokens consumed across all runs.",
		}),
		HookExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nightshift_hook_executions_total",
			Help: "Hook action executions by outcome.",
		}, []string{"action", "outcome"}),
	}
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
