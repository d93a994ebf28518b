package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stewardai/steward-oss/internal/governance"
	"github.com/stewardai/steward-oss/pkg/domain"
)

// Config holds the gate's timeout and fail-safe knobs. Zero values select
// defaults.
type Config struct {
	// PermissionTimeout bounds the pre-execution checkpoint call.
	PermissionTimeout time.Duration `yaml:"permission_timeout"`
	// ValidationTimeout bounds the post-execution checkpoint call.
	ValidationTimeout time.Duration `yaml:"validation_timeout"`
	// ReportTimeout bounds each detached report delivery.
	ReportTimeout time.Duration `yaml:"report_timeout"`
	// ApprovalTimeout is how long a task waits in REQUIRE_APPROVAL before
	// the pending decision hardens into DENY.
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`
	// FailSafePermission is the outcome substituted when the permission
	// checkpoint cannot answer. ALLOW or DENY; empty selects DENY.
	FailSafePermission string `yaml:"fail_safe_permission"`
	// FailSafeValidation is the outcome substituted when the validation
	// checkpoint cannot answer. ACCEPT or FLAG_FOR_REVIEW; empty selects
	// FLAG_FOR_REVIEW.
	FailSafeValidation string `yaml:"fail_safe_validation"`
}

// DefaultConfig returns the gate's default timeouts and fail-safe outcomes.
func DefaultConfig() Config {
	return Config{
		PermissionTimeout:  3 * time.Second,
		ValidationTimeout:  5 * time.Second,
		ReportTimeout:      5 * time.Second,
		ApprovalTimeout:    5 * time.Minute,
		FailSafePermission: string(domain.PermissionDeny),
		FailSafeValidation: string(domain.ValidationFlagForReview),
	}
}

// Validate rejects fail-safe outcomes that are not legal checkpoint answers.
func (c Config) Validate() error {
	switch c.FailSafePermission {
	case "", string(domain.PermissionDeny), string(domain.PermissionAllow):
	default:
		return fmt.Errorf("%w: fail_safe_permission %q must be ALLOW or DENY", domain.ErrConfigInvalid, c.FailSafePermission)
	}
	switch c.FailSafeValidation {
	case "", string(domain.ValidationFlagForReview), string(domain.ValidationAccept):
	default:
		return fmt.Errorf("%w: fail_safe_validation %q must be ACCEPT or FLAG_FOR_REVIEW", domain.ErrConfigInvalid, c.FailSafeValidation)
	}
	return nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PermissionTimeout <= 0 {
		c.PermissionTimeout = def.PermissionTimeout
	}
	if c.ValidationTimeout <= 0 {
		c.ValidationTimeout = def.ValidationTimeout
	}
	if c.ReportTimeout <= 0 {
		c.ReportTimeout = def.ReportTimeout
	}
	if c.ApprovalTimeout <= 0 {
		c.ApprovalTimeout = def.ApprovalTimeout
	}
	if c.FailSafePermission == "" {
		c.FailSafePermission = def.FailSafePermission
	}
	if c.FailSafeValidation == "" {
		c.FailSafeValidation = def.FailSafeValidation
	}
	return c
}

// Options configure gate construction.
type Options struct {
	Config  Config
	Breaker governance.CircuitBreakerConfig
	Metrics *Metrics
	Logger  *slog.Logger
}

// Gate runs the governance checkpoints around worker execution. All
// collaborator calls flow through one circuit breaker so a failing
// collaborator short-circuits to fail-safe outcomes instead of stacking
// timeouts.
type Gate struct {
	service   domain.GovernanceService
	breaker   *governance.CircuitBreaker
	approvals *ApprovalBroker
	metrics   *Metrics
	logger    *slog.Logger
	cfg       Config

	reports sync.WaitGroup
}

// New builds a gate around the supplied collaborator.
func New(service domain.GovernanceService, opts Options) *Gate {
	breakerCfg := opts.Breaker
	if breakerCfg.MaxFailures == 0 {
		breakerCfg = governance.DefaultCircuitBreakerConfig()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Gate{
		service:   service,
		breaker:   governance.NewCircuitBreaker(breakerCfg),
		approvals: NewApprovalBroker(),
		metrics:   metrics,
		logger:    logger,
		cfg:       opts.Config.withDefaults(),
	}
}

// Approvals exposes the broker so transport surfaces can list and resolve
// pending approvals.
func (g *Gate) Approvals() *ApprovalBroker {
	return g.approvals
}

// Authorize runs the pre-execution checkpoint. Collaborator failure, timeout,
// or an open circuit resolves to the configured fail-safe outcome, DENY by
// default. A REQUIRE_APPROVAL answer
// parks the task on the approval broker until a decision arrives or the
// approval window closes, at which point the decision hardens into DENY.
func (g *Gate) Authorize(ctx context.Context, req domain.PermissionRequest) domain.GovernanceDecision {
	start := time.Now()

	var result domain.PermissionResult
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.PermissionTimeout)
	err := g.breaker.Execute(callCtx, func(ctx context.Context) error {
		var callErr error
		result, callErr = g.service.CheckPermission(ctx, req)
		return callErr
	})
	cancel()

	if err != nil {
		decision := domain.GovernanceDecision{
			Phase:    domain.PhasePermission,
			Outcome:  g.cfg.FailSafePermission,
			Reason:   failSafeReason(err),
			Latency:  time.Since(start),
			FailSafe: true,
		}
		g.logger.Warn("permission checkpoint failed, applying fail-safe outcome",
			"worker_id", req.WorkerID, "action", req.Action, "outcome", decision.Outcome, "error", err)
		g.metrics.RecordDecision(string(domain.PhasePermission), decision.Outcome, true, decision.Latency)
		return decision
	}

	decision := domain.GovernanceDecision{
		Phase:   domain.PhasePermission,
		Outcome: string(result.Decision),
		Reason:  result.Reason,
		Latency: time.Since(start),
	}

	if result.Decision == domain.PermissionRequireApproval {
		decision = g.awaitApproval(ctx, req, decision)
	}

	g.metrics.RecordDecision(string(domain.PhasePermission), decision.Outcome, decision.FailSafe, decision.Latency)
	return decision
}

func (g *Gate) awaitApproval(ctx context.Context, req domain.PermissionRequest, decision domain.GovernanceDecision) domain.GovernanceDecision {
	taskID, _ := req.Context["task_id"].(string)
	if taskID == "" {
		taskID = uuid.NewString()
	}

	g.metrics.ApprovalStarted()
	g.logger.Info("task paused for approval",
		"task_id", taskID, "worker_id", req.WorkerID, "action", req.Action, "reason", decision.Reason)

	resp, err := g.approvals.Await(ctx, ApprovalRequest{
		TaskID:   taskID,
		WorkerID: req.WorkerID,
		Action:   req.Action,
		Reason:   decision.Reason,
	}, g.cfg.ApprovalTimeout)

	switch {
	case errors.Is(err, domain.ErrApprovalTimeout):
		g.metrics.ApprovalFinished("timeout")
		decision.Outcome = string(domain.PermissionDeny)
		decision.Reason = "approval window closed without a decision"
		decision.FailSafe = true
	case err != nil:
		g.metrics.ApprovalFinished("error")
		decision.Outcome = string(domain.PermissionDeny)
		decision.Reason = err.Error()
		decision.FailSafe = true
	case resp.Approved:
		g.metrics.ApprovalFinished("approved")
		decision.Outcome = string(domain.PermissionAllow)
		decision.Reason = approvalReason(resp.Reason, "approved by operator")
	default:
		g.metrics.ApprovalFinished("denied")
		decision.Outcome = string(domain.PermissionDeny)
		decision.Reason = approvalReason(resp.Reason, "denied by operator")
	}
	return decision
}

func approvalReason(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}

// Validate runs the post-execution checkpoint. Collaborator failure resolves
// to the configured fail-safe outcome, FLAG_FOR_REVIEW by default, so results
// are never silently accepted or discarded.
func (g *Gate) Validate(ctx context.Context, req domain.ValidationRequest) (domain.GovernanceDecision, domain.ValidationResult) {
	start := time.Now()

	var result domain.ValidationResult
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.ValidationTimeout)
	err := g.breaker.Execute(callCtx, func(ctx context.Context) error {
		var callErr error
		result, callErr = g.service.ValidateResult(ctx, req)
		return callErr
	})
	cancel()

	if err != nil {
		decision := domain.GovernanceDecision{
			Phase:    domain.PhaseValidation,
			Outcome:  g.cfg.FailSafeValidation,
			Reason:   failSafeReason(err),
			Latency:  time.Since(start),
			FailSafe: true,
		}
		g.logger.Warn("validation checkpoint failed, applying fail-safe outcome",
			"worker_id", req.WorkerID, "action", req.Action, "outcome", decision.Outcome, "error", err)
		g.metrics.RecordDecision(string(domain.PhaseValidation), decision.Outcome, true, decision.Latency)
		return decision, domain.ValidationResult{Decision: domain.ValidationOutcome(g.cfg.FailSafeValidation), Reason: decision.Reason}
	}

	decision := domain.GovernanceDecision{
		Phase:   domain.PhaseValidation,
		Outcome: string(result.Decision),
		Reason:  result.Reason,
		Latency: time.Since(start),
	}
	g.metrics.RecordDecision(string(domain.PhaseValidation), decision.Outcome, false, decision.Latency)
	return decision, result
}

// Report delivers the execution report on a detached goroutine. Delivery
// failure is logged and counted, never surfaced to the execution path.
func (g *Gate) Report(report domain.ExecutionReport) {
	if report.ExecutionID == "" {
		report.ExecutionID = uuid.NewString()
	}
	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now()
	}

	g.reports.Add(1)
	go func() {
		defer g.reports.Done()

		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.ReportTimeout)
		defer cancel()

		if err := g.service.ReportExecution(ctx, report); err != nil {
			g.metrics.RecordReport("error")
			g.logger.Warn("execution report delivery failed",
				"execution_id", report.ExecutionID, "task_id", report.TaskID, "error", err)
			return
		}
		g.metrics.RecordReport("delivered")
	}()
}

// SubmitFeedback forwards feedback to the collaborator and returns its
// aggregated score.
func (g *Gate) SubmitFeedback(ctx context.Context, fb domain.Feedback) (float64, error) {
	score, err := g.service.SubmitFeedback(ctx, fb)
	if err != nil {
		return 0, err
	}
	g.metrics.RecordFeedback()
	return score, nil
}

// Wait blocks until all detached report deliveries finish. Called during
// shutdown.
func (g *Gate) Wait() {
	g.reports.Wait()
}

// BreakerState reports the collaborator circuit state for health surfaces.
func (g *Gate) BreakerState() governance.CircuitState {
	return g.breaker.State()
}

func failSafeReason(err error) string {
	switch {
	case errors.Is(err, governance.ErrCircuitOpen):
		return "governance collaborator circuit open"
	case errors.Is(err, context.DeadlineExceeded):
		return "governance collaborator timed out"
	default:
		return "governance collaborator unavailable: " + err.Error()
	}
}
