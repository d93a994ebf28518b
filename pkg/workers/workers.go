// Package workers provides the builtin worker set: chart rendering, anomaly
// detection, text analysis, and the general-purpose fallback. Deployments
// replace or extend these through the worker manifest.
package workers

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/stewardai/steward-oss/pkg/domain"
	"github.com/stewardai/steward-oss/pkg/registry"
)

// Builtin pairs a worker descriptor with its implementation.
type Builtin struct {
	Descriptor domain.WorkerDescriptor
	Worker     domain.Worker
}

// Builtins returns the shipped worker set.
func Builtins(logger *slog.Logger) []Builtin {
	if logger == nil {
		logger = slog.Default()
	}
	return []Builtin{
		{
			Descriptor: domain.WorkerDescriptor{
				ID:             "chart-worker",
				Name:           "Chart Renderer",
				Capabilities:   []string{"visualization"},
				Keywords:       []string{"chart", "plot", "graph", "visualize", "visualization"},
				TriggerPhrases: []string{"create a chart", "draw a graph", "plot the data"},
				Priority:       8,
				Resources: domain.ResourceRequirements{
					RequiresResource: true,
					AllowedTypes:     []string{"dataset", "table"},
				},
				MaxConcurrent: 4,
				Timeout:       60 * time.Second,
			},
			Worker: &chartWorker{logger: logger},
		},
		{
			Descriptor: domain.WorkerDescriptor{
				ID:             "anomaly-worker",
				Name:           "Anomaly Detector",
				Capabilities:   []string{"analysis"},
				Keywords:       []string{"anomaly", "outlier", "spike", "unusual", "deviation"},
				TriggerPhrases: []string{"find anomalies", "detect outliers"},
				Priority:       7,
				Resources: domain.ResourceRequirements{
					RequiresResource: true,
					AllowedTypes:     []string{"dataset", "timeseries"},
				},
				MaxConcurrent: 2,
				Timeout:       120 * time.Second,
			},
			Worker: &anomalyWorker{logger: logger},
		},
		{
			Descriptor: domain.WorkerDescriptor{
				ID:             "analysis-worker",
				Name:           "Text Analyst",
				Capabilities:   []string{"analysis"},
				Keywords:       []string{"analyze", "summarize", "summary", "report", "insight"},
				TriggerPhrases: []string{"analyze this", "summarize the"},
				Priority:       6,
				MaxConcurrent:  8,
				Timeout:        60 * time.Second,
			},
			Worker: &analysisWorker{logger: logger},
		},
		{
			Descriptor: domain.WorkerDescriptor{
				ID:       "fallback-worker",
				Name:     "General Assistant",
				Priority: 1,
				Fallback: true,
				Timeout:  30 * time.Second,
			},
			Worker: &fallbackWorker{logger: logger},
		},
	}
}

// Install registers and binds the builtin workers.
func Install(reg *registry.Registry, logger *slog.Logger) error {
	for _, b := range Builtins(logger) {
		if err := reg.Register(b.Descriptor); err != nil {
			return fmt.Errorf("register builtin %s: %w", b.Descriptor.ID, err)
		}
		if err := reg.Bind(b.Descriptor.ID, b.Worker); err != nil {
			return fmt.Errorf("bind builtin %s: %w", b.Descriptor.ID, err)
		}
	}
	return nil
}

// chartWorker produces a declarative chart specification from the first
// tabular resource.
type chartWorker struct {
	logger *slog.Logger
}

func (w *chartWorker) Invoke(_ context.Context, input domain.WorkInput) (domain.WorkOutput, error) {
	if len(input.Resources) == 0 {
		return domain.WorkOutput{Status: domain.WorkStatusError}, fmt.Errorf("chart worker requires a dataset resource")
	}

	chartType := "bar"
	if t, ok := input.Params["chart_type"].(string); ok && t != "" {
		chartType = t
	}

	resource := input.Resources[0]
	w.logger.Debug("rendering chart", "task_id", input.TaskID, "resource", resource.Name, "type", chartType)

	return domain.WorkOutput{
		Status: domain.WorkStatusOK,
		Body: map[string]any{
			"chart": map[string]any{
				"type":   chartType,
				"source": resource.Name,
				"title":  titleFromRequest(input.Request),
			},
		},
	}, nil
}

// anomalyWorker flags values more than three standard deviations from the
// mean of params["values"].
type anomalyWorker struct {
	logger *slog.Logger
}

func (w *anomalyWorker) Invoke(_ context.Context, input domain.WorkInput) (domain.WorkOutput, error) {
	values := floatSlice(input.Params["values"])
	if len(values) == 0 {
		return domain.WorkOutput{Status: domain.WorkStatusError}, fmt.Errorf("anomaly worker requires a values series")
	}

	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	stddev := math.Sqrt(variance / float64(len(values)))

	var anomalies []map[string]any
	for i, v := range values {
		if stddev > 0 && math.Abs(v-mean) > 3*stddev {
			anomalies = append(anomalies, map[string]any{"index": i, "value": v})
		}
	}

	w.logger.Debug("anomaly scan complete", "task_id", input.TaskID, "points", len(values), "anomalies", len(anomalies))

	return domain.WorkOutput{
		Status: domain.WorkStatusOK,
		Body: map[string]any{
			"mean":      mean,
			"stddev":    stddev,
			"anomalies": anomalies,
			"count":     len(anomalies),
		},
	}, nil
}

// analysisWorker produces coarse text statistics and the most frequent terms.
type analysisWorker struct {
	logger *slog.Logger
}

func (w *analysisWorker) Invoke(_ context.Context, input domain.WorkInput) (domain.WorkOutput, error) {
	text := input.Request
	if t, ok := input.Params["text"].(string); ok && t != "" {
		text = t
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return domain.WorkOutput{Status: domain.WorkStatusError}, fmt.Errorf("analysis worker requires text")
	}

	freq := make(map[string]int)
	for _, word := range words {
		cleaned := strings.ToLower(strings.Trim(word, ".,!?;:\"'"))
		if len(cleaned) > 3 {
			freq[cleaned]++
		}
	}
	terms := make([]string, 0, len(freq))
	for term := range freq {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > 10 {
		terms = terms[:10]
	}

	return domain.WorkOutput{
		Status: domain.WorkStatusOK,
		Body: map[string]any{
			"words":     len(words),
			"top_terms": terms,
		},
	}, nil
}

// fallbackWorker acknowledges requests nothing else matched.
type fallbackWorker struct {
	logger *slog.Logger
}

func (w *fallbackWorker) Invoke(_ context.Context, input domain.WorkInput) (domain.WorkOutput, error) {
	w.logger.Debug("fallback handling request", "task_id", input.TaskID)
	return domain.WorkOutput{
		Status: domain.WorkStatusOK,
		Body: map[string]any{
			"handled_by": "fallback-worker",
			"request":    input.Request,
			"note":       "no specialised worker matched this request",
		},
	}, nil
}

func titleFromRequest(request string) string {
	request = strings.TrimSpace(request)
	if request == "" {
		return "Untitled chart"
	}
	if len(request) > 60 {
		return request[:60]
	}
	return request
}

func floatSlice(raw any) []float64 {
	switch values := raw.(type) {
	case []float64:
		return values
	case []any:
		out := make([]float64, 0, len(values))
		for _, v := range values {
			switch n := v.(type) {
			case float64:
				out = append(out, n)
			case int:
				out = append(out, float64(n))
			}
		}
		return out
	default:
		return nil
	}
}
