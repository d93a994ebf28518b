package domain

import (
	"context"
	"time"
)

// GovernancePhase identifies which checkpoint produced a decision.
type GovernancePhase string

const (
	// PhasePermission is the pre-execution checkpoint.
	PhasePermission GovernancePhase = "permission"
	// PhaseValidation is the post-execution checkpoint.
	PhaseValidation GovernancePhase = "validation"
)

// PermissionOutcome enumerates pre-execution decisions.
type PermissionOutcome string

const (
	PermissionAllow           PermissionOutcome = "ALLOW"
	PermissionDeny            PermissionOutcome = "DENY"
	PermissionRequireApproval PermissionOutcome = "REQUIRE_APPROVAL"
)

// ValidationOutcome enumerates post-execution decisions.
type ValidationOutcome string

const (
	ValidationAccept        ValidationOutcome = "ACCEPT"
	ValidationReject        ValidationOutcome = "REJECT"
	ValidationFlagForReview ValidationOutcome = "FLAG_FOR_REVIEW"
)

// GovernanceDecision records one checkpoint's answer, its reason, and the
// measured collaborator latency.
type GovernanceDecision struct {
	Phase   GovernancePhase
	Outcome string
	Reason  string
	Latency time.Duration
	// FailSafe marks a decision substituted locally because the collaborator
	// was slow or unreachable.
	FailSafe bool
}

// PermissionRequest is the payload for the pre-execution checkpoint.
type PermissionRequest struct {
	WorkerID string
	Action   string
	Context  map[string]any
}

// PermissionResult is the collaborator's pre-execution answer.
type PermissionResult struct {
	Decision PermissionOutcome
	Reason   string
}

// ValidationRequest is the payload for the post-execution checkpoint.
type ValidationRequest struct {
	WorkerID string
	Action   string
	Result   WorkOutput
	Context  map[string]any
}

// ValidationResult is the collaborator's post-execution answer.
type ValidationResult struct {
	Decision    ValidationOutcome
	Reason      string
	ShouldRetry bool
}

// ExecutionReport is the fire-and-forget metadata sent after each task.
// Delivery failure is logged only; it never blocks or fails the task.
type ExecutionReport struct {
	ExecutionID    string
	TaskID         string
	WorkerID       string
	Status         TaskStatus
	// WorkerErrored distinguishes a worker-side error from a governance
	// failure when Status is failed.
	WorkerErrored  bool
	WorkerDuration time.Duration
	TotalDuration  time.Duration
	Permission     *GovernanceDecision
	Validation     *GovernanceDecision
	Violation      bool
	Timestamp      time.Time
}

// Feedback is an out-of-band user signal about a past execution. Rating runs
// from 1 (worst) to 5 (best).
type Feedback struct {
	WorkerID    string
	ExecutionID string
	Rating      int
	Comment     string
}

// GovernanceService is the external collaborator contract. CheckPermission
// and ValidateResult are synchronous checkpoints; ReportExecution and
// SubmitFeedback are best-effort and must never block the execution path
// (callers detach them).
type GovernanceService interface {
	CheckPermission(ctx context.Context, req PermissionRequest) (PermissionResult, error)
	ValidateResult(ctx context.Context, req ValidationRequest) (ValidationResult, error)
	ReportExecution(ctx context.Context, report ExecutionReport) error
	SubmitFeedback(ctx context.Context, fb Feedback) (float64, error)
}
