package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stewardai/steward-oss/internal/governance"
	"github.com/stewardai/steward-oss/pkg/domain"
	"github.com/stewardai/steward-oss/pkg/gate"
	"github.com/stewardai/steward-oss/pkg/registry"
	"github.com/stewardai/steward-oss/pkg/telemetry"
	"github.com/stewardai/steward-oss/pkg/trust"
)

// DefaultTaskDeadline bounds a task end to end, governance checkpoints
// included, when the task carries no deadline of its own.
const DefaultTaskDeadline = 300 * time.Second

// ExecutorConfig holds dependencies for creating an Executor.
type ExecutorConfig struct {
	Registry *registry.Registry
	Gate     *gate.Gate
	Trust    *trust.Store
	Limiter  *governance.ConcurrencyLimiter
	Logger   *slog.Logger
	// DefaultDeadline overrides DefaultTaskDeadline when positive.
	DefaultDeadline time.Duration
}

// Executor runs workflows wave by wave: tasks whose dependencies have all
// succeeded execute concurrently; tasks whose predecessors did not succeed
// are skipped, and skips cascade through the remaining waves.
type Executor struct {
	registry *registry.Registry
	gate     *gate.Gate
	trust    *trust.Store
	limiter  *governance.ConcurrencyLimiter
	logger   *slog.Logger
	deadline time.Duration
}

// NewExecutor creates an executor with the given configuration.
func NewExecutor(cfg ExecutorConfig) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	deadline := cfg.DefaultDeadline
	if deadline <= 0 {
		deadline = DefaultTaskDeadline
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = governance.NewConcurrencyLimiter()
	}

	return &Executor{
		registry: cfg.Registry,
		gate:     cfg.Gate,
		trust:    cfg.Trust,
		limiter:  limiter,
		logger:   logger,
		deadline: deadline,
	}
}

// Execute runs a workflow to completion. It validates the dependency graph
// before any worker is invoked; a cyclic or malformed task set fails the
// whole workflow up front. Task-level failures never abort the batch: they
// settle as failed results and cascade skips to their dependents.
func (e *Executor) Execute(ctx context.Context, workflowID string, tasks []domain.ExecutionTask) (domain.WorkflowResult, error) {
	if workflowID == "" {
		workflowID = uuid.NewString()
	}
	if len(tasks) == 0 {
		return domain.WorkflowResult{}, fmt.Errorf("workflow %q has no tasks", workflowID)
	}

	graph, err := buildGraph(tasks)
	if err != nil {
		return domain.WorkflowResult{}, fmt.Errorf("workflow %q: %w", workflowID, err)
	}

	e.logger.Info("executing workflow", "workflow_id", workflowID, "tasks", len(tasks))

	tracer := otel.Tracer("steward.engine")
	ctx, span := tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String("workflow.id", workflowID),
		attribute.Int("workflow.tasks", len(tasks)),
	))
	defer span.End()

	start := time.Now()
	result := domain.WorkflowResult{
		WorkflowID: workflowID,
		Tasks:      make(map[string]domain.TaskResult, len(tasks)),
	}

	var mu sync.Mutex
	for _, wave := range graph.waves() {
		// Settle skips first: skip decisions depend only on earlier waves,
		// which are complete before this wave is scheduled.
		var runnable []domain.ExecutionTask
		for _, taskID := range wave {
			task := graph.tasks[taskID]

			if skip, reason := e.shouldSkip(graph, taskID, result.Tasks); skip {
				result.Tasks[taskID] = domain.TaskResult{
					TaskID:     taskID,
					WorkerID:   task.WorkerID,
					Status:     domain.TaskSkipped,
					SkipReason: reason,
				}
				result.Skipped = append(result.Skipped, taskID)
				e.logger.Info("task skipped", "workflow_id", workflowID, "task_id", taskID, "reason", reason)
				telemetry.RecordTaskMetrics(ctx, telemetry.TaskMetrics{
					WorkflowID: workflowID,
					TaskID:     taskID,
					WorkerID:   task.WorkerID,
					Status:     domain.TaskSkipped,
				})
				continue
			}

			result.ExecutionOrder = append(result.ExecutionOrder, taskID)
			runnable = append(runnable, task)
		}

		var wg sync.WaitGroup
		for _, task := range runnable {
			wg.Add(1)
			go func(task domain.ExecutionTask) {
				defer wg.Done()
				taskResult := e.runTask(ctx, tracer, workflowID, task)
				mu.Lock()
				result.Tasks[task.ID] = taskResult
				mu.Unlock()
			}(task)
		}
		wg.Wait()
	}

	result.TotalDuration = time.Since(start)
	result.Success = workflowSucceeded(result.Tasks)
	sort.Strings(result.Skipped)

	if !result.Success {
		span.SetStatus(codes.Error, "workflow completed with failures")
	}
	span.SetAttributes(
		attribute.Bool("workflow.success", result.Success),
		attribute.Int("workflow.skipped", len(result.Skipped)),
	)
	e.logger.Info("workflow complete",
		"workflow_id", workflowID,
		"success", result.Success,
		"skipped", len(result.Skipped),
		"duration", result.TotalDuration,
	)
	return result, nil
}

// shouldSkip reports whether any predecessor settled without success. Results
// of earlier waves are complete by the time a wave is scheduled, so the read
// needs no lock.
func (e *Executor) shouldSkip(graph *taskGraph, taskID string, settled map[string]domain.TaskResult) (bool, string) {
	for _, depID := range graph.dependencies(taskID) {
		dep, ok := settled[depID]
		if !ok {
			return true, fmt.Sprintf("dependency %q did not settle", depID)
		}
		if dep.Status != domain.TaskSucceeded {
			return true, fmt.Sprintf("dependency %q %s", depID, dep.Status)
		}
	}
	return false, ""
}

func workflowSucceeded(results map[string]domain.TaskResult) bool {
	ran := 0
	for _, r := range results {
		if r.Status == domain.TaskSkipped {
			continue
		}
		ran++
		if r.Status != domain.TaskSucceeded {
			return false
		}
	}
	return ran > 0
}

// runTask executes one task inside the governance gate. The returned result
// is always terminal.
func (e *Executor) runTask(ctx context.Context, tracer trace.Tracer, workflowID string, task domain.ExecutionTask) domain.TaskResult {
	deadline := task.Deadline
	if deadline <= 0 {
		deadline = e.deadline
	}
	taskCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	taskCtx, span := tracer.Start(taskCtx, "workflow.task", trace.WithAttributes(
		attribute.String("workflow.id", workflowID),
		attribute.String("task.id", task.ID),
		attribute.String("worker.id", task.WorkerID),
	))
	defer span.End()

	start := time.Now()
	result := e.runTaskGoverned(taskCtx, workflowID, task, start)
	result.Duration = time.Since(start)

	span.SetAttributes(attribute.String("task.status", string(result.Status)))
	if result.Status != domain.TaskSucceeded {
		if result.Err != "" {
			span.SetStatus(codes.Error, result.Err)
		} else {
			span.SetStatus(codes.Error, string(result.Status))
		}
	}

	failSafe := (result.Permission != nil && result.Permission.FailSafe) ||
		(result.Validation != nil && result.Validation.FailSafe)
	telemetry.RecordTaskMetrics(ctx, telemetry.TaskMetrics{
		WorkflowID: workflowID,
		TaskID:     task.ID,
		WorkerID:   task.WorkerID,
		Status:     result.Status,
		FailSafe:   failSafe,
		Duration:   result.Duration,
	})
	return result
}

func (e *Executor) runTaskGoverned(ctx context.Context, workflowID string, task domain.ExecutionTask, start time.Time) domain.TaskResult {
	result := domain.TaskResult{TaskID: task.ID, WorkerID: task.WorkerID, Status: domain.TaskRunning}

	worker, err := e.registry.Worker(task.WorkerID)
	if err != nil {
		result.Status = domain.TaskFailed
		result.Err = err.Error()
		return result
	}

	release, err := e.limiter.Acquire(ctx, task.WorkerID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			result.Status = domain.TaskTimedOut
			result.Err = fmt.Errorf("%w: waiting for a %s slot", domain.ErrTaskTimeout, task.WorkerID).Error()
		} else {
			result.Status = domain.TaskFailed
			result.Err = fmt.Errorf("%w: %w", domain.ErrWorkerConcurrencyLimit, err).Error()
		}
		return result
	}
	defer release()

	permission := e.gate.Authorize(ctx, domain.PermissionRequest{
		WorkerID: task.WorkerID,
		Action:   task.Input.Request,
		Context: map[string]any{
			"task_id":     task.ID,
			"workflow_id": workflowID,
			"params":      task.Input.Params,
		},
	})
	result.Permission = &permission

	if permission.Outcome != string(domain.PermissionAllow) {
		result.Status = domain.TaskFailed
		result.Err = fmt.Errorf("%w: %s", domain.ErrGovernanceDenied, permission.Reason).Error()
		e.settle(task, &result, start, false, false)
		return result
	}

	workerStart := time.Now()
	output, workerErr := worker.Invoke(ctx, task.Input)
	workerDuration := time.Since(workerStart)

	if ctx.Err() == context.DeadlineExceeded {
		result.Status = domain.TaskTimedOut
		result.Err = fmt.Errorf("%w: %s elapsed", domain.ErrTaskTimeout, deadlineOf(task, e.deadline)).Error()
		e.settleWithDuration(task, &result, start, workerDuration, workerErr != nil, false)
		return result
	}
	if workerErr != nil {
		result.Status = domain.TaskFailed
		result.Err = workerErr.Error()
		e.settleWithDuration(task, &result, start, workerDuration, true, false)
		return result
	}
	result.Output = output

	validation, validationResult := e.gate.Validate(ctx, domain.ValidationRequest{
		WorkerID: task.WorkerID,
		Action:   task.Input.Request,
		Result:   output,
		Context: map[string]any{
			"task_id":     task.ID,
			"workflow_id": workflowID,
		},
	})
	result.Validation = &validation
	result.ShouldRetry = validationResult.ShouldRetry

	violation := false
	switch validationResult.Decision {
	case domain.ValidationReject:
		result.Status = domain.TaskFailed
		result.Err = fmt.Errorf("%w: %s", domain.ErrValidationRejected, validation.Reason).Error()
		violation = !validation.FailSafe
	default:
		// ACCEPT and FLAG_FOR_REVIEW both complete the task; the flag
		// travels in the validation decision for downstream review.
		result.Status = domain.TaskSucceeded
	}

	e.settleWithDuration(task, &result, start, workerDuration, false, violation)
	return result
}

// settle reports the execution and updates trust for tasks that never reached
// the worker.
func (e *Executor) settle(task domain.ExecutionTask, result *domain.TaskResult, start time.Time, workerErrored, violation bool) {
	e.settleWithDuration(task, result, start, 0, workerErrored, violation)
}

func (e *Executor) settleWithDuration(task domain.ExecutionTask, result *domain.TaskResult, start time.Time, workerDuration time.Duration, workerErrored, violation bool) {
	report := domain.ExecutionReport{
		TaskID:         task.ID,
		WorkerID:       task.WorkerID,
		Status:         result.Status,
		WorkerErrored:  workerErrored,
		WorkerDuration: workerDuration,
		TotalDuration:  time.Since(start),
		Permission:     result.Permission,
		Validation:     result.Validation,
		Violation:      violation,
	}
	e.gate.Report(report)

	// A fail-safe denial reflects collaborator health, not worker behaviour,
	// so it leaves the worker's trust untouched.
	if result.Permission != nil && result.Permission.FailSafe &&
		result.Permission.Outcome == string(domain.PermissionDeny) {
		return
	}
	if e.trust != nil {
		e.trust.RecordExecution(report)
	}
}

func deadlineOf(task domain.ExecutionTask, fallback time.Duration) time.Duration {
	if task.Deadline > 0 {
		return task.Deadline
	}
	return fallback
}
