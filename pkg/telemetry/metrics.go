package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/stewardai/steward-oss/pkg/domain"
)

var (
	metricsOnce          sync.Once
	metricsInitErr       error
	taskExecutionCounter metric.Int64Counter
	taskSkipCounter      metric.Int64Counter
	taskTimeoutCounter   metric.Int64Counter
	taskLatencyHistogram metric.Float64Histogram
	routingCounter       metric.Int64Counter
	routingConfidence    metric.Float64Histogram
)

// TaskMetrics captures the fields needed to record task execution telemetry.
type TaskMetrics struct {
	WorkflowID string
	TaskID     string
	WorkerID   string
	Status     domain.TaskStatus
	FailSafe   bool
	Duration   time.Duration
}

// RecordTaskMetrics emits counters and histograms that describe task
// execution behaviour.
func RecordTaskMetrics(ctx context.Context, metrics TaskMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	failSafe := "false"
	if metrics.FailSafe {
		failSafe = "true"
	}
	attrs := []attribute.KeyValue{
		attribute.String("workflow.id", metrics.WorkflowID),
		attribute.String("task.id", metrics.TaskID),
		attribute.String("worker.id", metrics.WorkerID),
		attribute.String("task.status", string(metrics.Status)),
		attribute.String("governance.fail_safe", failSafe),
	}

	taskExecutionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if metrics.Duration > 0 {
		taskLatencyHistogram.Record(ctx, float64(metrics.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}

	switch metrics.Status {
	case domain.TaskSkipped:
		taskSkipCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	case domain.TaskTimedOut:
		taskTimeoutCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordRoutingMetrics emits the selected worker and score confidence for one
// routing decision.
func RecordRoutingMetrics(ctx context.Context, decision *domain.RoutingDecision) {
	if decision == nil {
		return
	}
	if err := ensureMetrics(); err != nil {
		return
	}

	fallback := "false"
	if decision.FallbackUsed {
		fallback = "true"
	}
	attrs := []attribute.KeyValue{
		attribute.String("worker.id", decision.Selected.WorkerID),
		attribute.String("routing.fallback", fallback),
	}

	routingCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	routingConfidence.Record(ctx, decision.Selected.Confidence, metric.WithAttributes(attrs...))
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("steward.engine")

		taskExecutionCounter, metricsInitErr = meter.Int64Counter(
			"steward.task.executions_total",
			metric.WithDescription("Task executions partitioned by terminal status"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		taskSkipCounter, metricsInitErr = meter.Int64Counter(
			"steward.task.skips_total",
			metric.WithDescription("Tasks skipped because a predecessor did not succeed"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		taskTimeoutCounter, metricsInitErr = meter.Int64Counter(
			"steward.task.timeouts_total",
			metric.WithDescription("Tasks cancelled at their deadline"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		taskLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"steward.task.duration_ms",
			metric.WithDescription("Observed task execution latency"),
			metric.WithUnit("ms"),
		)
		if metricsInitErr != nil {
			return
		}

		routingCounter, metricsInitErr = meter.Int64Counter(
			"steward.routing.decisions_total",
			metric.WithDescription("Routing decisions partitioned by selected worker"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		routingConfidence, metricsInitErr = meter.Float64Histogram(
			"steward.routing.confidence",
			metric.WithDescription("Confidence of the selected routing candidate"),
			metric.WithUnit("1"),
		)
	})

	return metricsInitErr
}
