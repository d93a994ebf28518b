package gate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for governance checkpoints.
type Metrics struct {
	decisionsTotal    *prometheus.CounterVec
	checkpointLatency *prometheus.HistogramVec
	approvalsPending  prometheus.Gauge
	approvalsTotal    *prometheus.CounterVec
	reportsTotal      *prometheus.CounterVec
	feedbackTotal     prometheus.Counter
}

// NewMetrics creates the gate metrics and registers them on reg. A nil
// registry leaves the instruments unregistered, which unit tests use.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_governance_decisions_total",
				Help: "Total governance checkpoint decisions by phase, outcome, and fail-safe substitution",
			},
			[]string{"phase", "outcome", "fail_safe"},
		),

		checkpointLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "steward_governance_checkpoint_duration_seconds",
				Help:    "Governance checkpoint latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase"},
		),

		approvalsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "steward_approvals_pending",
				Help: "Number of tasks currently paused for human approval",
			},
		),

		approvalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_approvals_total",
				Help: "Total approval resolutions by result",
			},
			[]string{"result"},
		),

		reportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steward_execution_reports_total",
				Help: "Total execution report deliveries by status",
			},
			[]string{"status"},
		),

		feedbackTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "steward_feedback_total",
				Help: "Total feedback submissions accepted",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.decisionsTotal,
			m.checkpointLatency,
			m.approvalsPending,
			m.approvalsTotal,
			m.reportsTotal,
			m.feedbackTotal,
		)
	}

	return m
}

// RecordDecision records one checkpoint decision.
func (m *Metrics) RecordDecision(phase, outcome string, failSafe bool, latency time.Duration) {
	failSafeLabel := "false"
	if failSafe {
		failSafeLabel = "true"
	}
	m.decisionsTotal.WithLabelValues(phase, outcome, failSafeLabel).Inc()
	m.checkpointLatency.WithLabelValues(phase).Observe(latency.Seconds())
}

// ApprovalStarted marks a task entering the pending-approval state.
func (m *Metrics) ApprovalStarted() {
	m.approvalsPending.Inc()
}

// ApprovalFinished marks a pending approval leaving the broker.
func (m *Metrics) ApprovalFinished(result string) {
	m.approvalsPending.Dec()
	m.approvalsTotal.WithLabelValues(result).Inc()
}

// RecordReport records one detached report delivery attempt.
func (m *Metrics) RecordReport(status string) {
	m.reportsTotal.WithLabelValues(status).Inc()
}

// RecordFeedback records an accepted feedback submission.
func (m *Metrics) RecordFeedback() {
	m.feedbackTotal.Inc()
}
