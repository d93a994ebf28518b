package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/stewardai/steward-oss/pkg/domain"
)

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}
	return metrics
}

func withTestMeterProvider(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
	})

	ResetMetricsForTest()
	return reader
}

func TestRecordTaskMetrics(t *testing.T) {
	reader := withTestMeterProvider(t)
	ctx := context.Background()

	RecordTaskMetrics(ctx, TaskMetrics{
		WorkflowID: "wf-1",
		TaskID:     "chart",
		WorkerID:   "chart-worker",
		Status:     domain.TaskTimedOut,
		FailSafe:   false,
		Duration:   150 * time.Millisecond,
	})

	metrics := collectMetrics(t, reader)

	sumExec, ok := metrics["steward.task.executions_total"]
	if !ok {
		t.Fatalf("missing steward.task.executions_total metric")
	}
	execData, ok := sumExec.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type for executions metric")
	}
	if len(execData.DataPoints) != 1 {
		t.Fatalf("expected 1 datapoint, got %d", len(execData.DataPoints))
	}
	if execData.DataPoints[0].Value != 1 {
		t.Fatalf("expected executions count 1, got %d", execData.DataPoints[0].Value)
	}
	if value, ok := execData.DataPoints[0].Attributes.Value(attribute.Key("task.status")); !ok || value.AsString() != "timed-out" {
		t.Fatalf("expected task.status attribute timed-out, got %v", value)
	}

	sumTimeout, ok := metrics["steward.task.timeouts_total"]
	if !ok {
		t.Fatalf("missing steward.task.timeouts_total metric")
	}
	timeoutData := sumTimeout.Data.(metricdata.Sum[int64])
	if timeoutData.DataPoints[0].Value != 1 {
		t.Fatalf("expected timeout count 1, got %d", timeoutData.DataPoints[0].Value)
	}

	hist, ok := metrics["steward.task.duration_ms"]
	if !ok {
		t.Fatalf("missing steward.task.duration_ms metric")
	}
	histData := hist.Data.(metricdata.Histogram[float64])
	if histData.DataPoints[0].Count != 1 {
		t.Fatalf("expected histogram count 1, got %d", histData.DataPoints[0].Count)
	}
	if histData.DataPoints[0].Sum != 150 {
		t.Fatalf("expected histogram sum 150, got %v", histData.DataPoints[0].Sum)
	}
}

func TestRecordTaskMetricsSkipCounter(t *testing.T) {
	reader := withTestMeterProvider(t)

	RecordTaskMetrics(context.Background(), TaskMetrics{
		WorkflowID: "wf-1",
		TaskID:     "notify",
		WorkerID:   "fallback-worker",
		Status:     domain.TaskSkipped,
	})

	metrics := collectMetrics(t, reader)

	sumSkip, ok := metrics["steward.task.skips_total"]
	if !ok {
		t.Fatalf("missing steward.task.skips_total metric")
	}
	skipData := sumSkip.Data.(metricdata.Sum[int64])
	if skipData.DataPoints[0].Value != 1 {
		t.Fatalf("expected skip count 1, got %d", skipData.DataPoints[0].Value)
	}

	// A skipped task never ran, so no latency is observed.
	if _, ok := metrics["steward.task.duration_ms"]; ok {
		t.Fatalf("unexpected duration datapoint for skipped task")
	}
}

func TestRecordRoutingMetrics(t *testing.T) {
	reader := withTestMeterProvider(t)

	RecordRoutingMetrics(context.Background(), &domain.RoutingDecision{
		Selected: domain.RoutingScore{
			WorkerID:   "chart-worker",
			Confidence: 0.85,
		},
	})
	RecordRoutingMetrics(context.Background(), nil)

	metrics := collectMetrics(t, reader)

	sumDecisions, ok := metrics["steward.routing.decisions_total"]
	if !ok {
		t.Fatalf("missing steward.routing.decisions_total metric")
	}
	decisionData := sumDecisions.Data.(metricdata.Sum[int64])
	if len(decisionData.DataPoints) != 1 {
		t.Fatalf("expected 1 datapoint, got %d", len(decisionData.DataPoints))
	}
	if decisionData.DataPoints[0].Value != 1 {
		t.Fatalf("expected decision count 1, got %d", decisionData.DataPoints[0].Value)
	}
	if value, ok := decisionData.DataPoints[0].Attributes.Value(attribute.Key("worker.id")); !ok || value.AsString() != "chart-worker" {
		t.Fatalf("expected worker.id attribute chart-worker, got %v", value)
	}

	hist, ok := metrics["steward.routing.confidence"]
	if !ok {
		t.Fatalf("missing steward.routing.confidence metric")
	}
	histData := hist.Data.(metricdata.Histogram[float64])
	if histData.DataPoints[0].Sum != 0.85 {
		t.Fatalf("expected confidence sum 0.85, got %v", histData.DataPoints[0].Sum)
	}
}
