package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/stewardai/steward-oss/pkg/domain"
	"github.com/stewardai/steward-oss/pkg/router"
	"github.com/stewardai/steward-oss/pkg/telemetry"
)

// Planner turns a routed request into a single-task workflow and hands it to
// the executor. Multi-task workflows are submitted directly with explicit
// worker bindings; routing picks the worker only when the caller names none.
type Planner struct {
	router   *router.Router
	executor *Executor
	logger   *slog.Logger
}

// NewPlanner creates a planner over the supplied router and executor.
func NewPlanner(r *router.Router, e *Executor, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{router: r, executor: e, logger: logger}
}

// Run routes the request, builds a one-task workflow for the selected
// worker, and executes it. The routing decision is attached to the workflow
// result so callers can see why a worker was chosen.
func (p *Planner) Run(ctx context.Context, req domain.RoutingRequest) (domain.WorkflowResult, error) {
	decision, err := p.router.Route(req)
	if err != nil {
		return domain.WorkflowResult{}, fmt.Errorf("route request: %w", err)
	}
	telemetry.RecordRoutingMetrics(ctx, &decision)

	taskID := uuid.NewString()
	p.logger.Info("request routed",
		"task_id", taskID,
		"worker_id", decision.Selected.WorkerID,
		"score", decision.Selected.Score,
		"confidence", decision.Selected.Confidence,
		"fallback", decision.FallbackUsed,
	)

	result, err := p.executor.Execute(ctx, "", []domain.ExecutionTask{{
		ID:       taskID,
		WorkerID: decision.Selected.WorkerID,
		Input: domain.WorkInput{
			TaskID:    taskID,
			Request:   req.Text,
			Resources: req.Resources,
			Params:    req.Context,
		},
	}})
	if err != nil {
		return domain.WorkflowResult{}, err
	}

	result.Routing = &decision
	return result, nil
}

// Submit executes a caller-assembled task set as one workflow.
func (p *Planner) Submit(ctx context.Context, workflowID string, tasks []domain.ExecutionTask) (domain.WorkflowResult, error) {
	return p.executor.Execute(ctx, workflowID, tasks)
}
