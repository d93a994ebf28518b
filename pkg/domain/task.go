package domain

import "time"

// TaskStatus tracks an ExecutionTask through its lifecycle.
type TaskStatus string

const (
	// TaskPending means the task has not started; predecessors may still be running.
	TaskPending TaskStatus = "pending"
	// TaskPendingApproval means the permission checkpoint returned
	// REQUIRE_APPROVAL and the task is parked awaiting an external resume.
	TaskPendingApproval TaskStatus = "pending-approval"
	// TaskRunning means the task is executing inside the governance gate.
	TaskRunning TaskStatus = "running"
	// TaskSucceeded means the worker ran and validation did not reject the result.
	TaskSucceeded TaskStatus = "succeeded"
	// TaskFailed means the task terminated without success (denied, rejected,
	// or worker error).
	TaskFailed TaskStatus = "failed"
	// TaskSkipped means the task never ran because a predecessor did not succeed.
	TaskSkipped TaskStatus = "skipped"
	// TaskTimedOut means the task exceeded its deadline and was cancelled.
	TaskTimedOut TaskStatus = "timed-out"
)

// Terminal reports whether the status is a terminal state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskSkipped, TaskTimedOut:
		return true
	}
	return false
}

// ExecutionTask is one unit of work in a workflow. DependsOn edges across a
// task set must form a DAG; the orchestrator rejects cycles before invoking
// any worker.
type ExecutionTask struct {
	ID        string
	WorkerID  string
	Input     WorkInput
	DependsOn []string
	// Deadline bounds the task end to end, including governance checkpoints.
	// Zero means use the orchestrator default.
	Deadline time.Duration
}

// TaskResult captures one task's terminal outcome, including the governance
// decisions that shaped it, so callers can explain why a step did not run.
type TaskResult struct {
	TaskID     string
	WorkerID   string
	Status     TaskStatus
	Output     WorkOutput
	Err        string
	Permission *GovernanceDecision
	Validation *GovernanceDecision
	// ShouldRetry carries the validation checkpoint's retry hint.
	ShouldRetry bool
	// SkipReason names the predecessor outcome that caused a skip.
	SkipReason string
	Duration   time.Duration
}

// WorkflowResult aggregates all task outcomes for one request. Success is the
// logical AND of every non-skipped task outcome.
type WorkflowResult struct {
	WorkflowID     string
	Success        bool
	Tasks          map[string]TaskResult
	ExecutionOrder []string
	Skipped        []string
	TotalDuration  time.Duration
	Routing        *RoutingDecision
}
