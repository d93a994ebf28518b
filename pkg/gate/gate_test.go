package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardai/steward-oss/internal/governance"
	"github.com/stewardai/steward-oss/pkg/domain"
)

type fakeService struct {
	mu sync.Mutex

	permission    domain.PermissionResult
	permissionErr error
	permissionLag time.Duration

	validation    domain.ValidationResult
	validationErr error

	reports   []domain.ExecutionReport
	reportErr error

	feedbackScore float64
	feedbackErr   error
}

func (f *fakeService) CheckPermission(ctx context.Context, _ domain.PermissionRequest) (domain.PermissionResult, error) {
	if f.permissionLag > 0 {
		select {
		case <-time.After(f.permissionLag):
		case <-ctx.Done():
			return domain.PermissionResult{}, ctx.Err()
		}
	}
	return f.permission, f.permissionErr
}

func (f *fakeService) ValidateResult(_ context.Context, _ domain.ValidationRequest) (domain.ValidationResult, error) {
	return f.validation, f.validationErr
}

func (f *fakeService) ReportExecution(_ context.Context, report domain.ExecutionReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report)
	return f.reportErr
}

func (f *fakeService) SubmitFeedback(_ context.Context, _ domain.Feedback) (float64, error) {
	return f.feedbackScore, f.feedbackErr
}

func (f *fakeService) reportCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reports)
}

func TestGate_AuthorizeAllow(t *testing.T) {
	svc := &fakeService{permission: domain.PermissionResult{Decision: domain.PermissionAllow, Reason: "ok"}}
	g := New(svc, Options{})

	decision := g.Authorize(context.Background(), domain.PermissionRequest{WorkerID: "w", Action: "a"})
	assert.Equal(t, string(domain.PermissionAllow), decision.Outcome)
	assert.False(t, decision.FailSafe)
}

func TestGate_AuthorizeFailSafeDenyOnError(t *testing.T) {
	svc := &fakeService{permissionErr: errors.New("connection refused")}
	g := New(svc, Options{})

	decision := g.Authorize(context.Background(), domain.PermissionRequest{WorkerID: "w", Action: "a"})
	assert.Equal(t, string(domain.PermissionDeny), decision.Outcome)
	assert.True(t, decision.FailSafe)
}

func TestGate_AuthorizeFailSafeDenyOnTimeout(t *testing.T) {
	svc := &fakeService{
		permission:    domain.PermissionResult{Decision: domain.PermissionAllow},
		permissionLag: 200 * time.Millisecond,
	}
	g := New(svc, Options{Config: Config{PermissionTimeout: 20 * time.Millisecond}})

	decision := g.Authorize(context.Background(), domain.PermissionRequest{WorkerID: "w", Action: "a"})
	assert.Equal(t, string(domain.PermissionDeny), decision.Outcome)
	assert.True(t, decision.FailSafe)
	assert.Contains(t, decision.Reason, "timed out")
}

func TestGate_AuthorizeFailSafeOutcomeConfigurable(t *testing.T) {
	svc := &fakeService{permissionErr: errors.New("connection refused")}
	g := New(svc, Options{Config: Config{FailSafePermission: string(domain.PermissionAllow)}})

	decision := g.Authorize(context.Background(), domain.PermissionRequest{WorkerID: "w", Action: "a"})
	assert.Equal(t, string(domain.PermissionAllow), decision.Outcome)
	assert.True(t, decision.FailSafe)
}

func TestGate_ValidateFailSafeOutcomeConfigurable(t *testing.T) {
	svc := &fakeService{validationErr: errors.New("down")}
	g := New(svc, Options{Config: Config{FailSafeValidation: string(domain.ValidationAccept)}})

	decision, result := g.Validate(context.Background(), domain.ValidationRequest{WorkerID: "w", Action: "a"})
	assert.Equal(t, string(domain.ValidationAccept), decision.Outcome)
	assert.True(t, decision.FailSafe)
	assert.Equal(t, domain.ValidationAccept, result.Decision)
}

func TestConfig_ValidateRejectsUnknownFailSafeOutcome(t *testing.T) {
	err := Config{FailSafePermission: "SHRUG"}.Validate()
	require.ErrorIs(t, err, domain.ErrConfigInvalid)

	err = Config{FailSafeValidation: "REJECT"}.Validate()
	require.ErrorIs(t, err, domain.ErrConfigInvalid)

	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, Config{}.Validate())
}

func TestGate_OpenCircuitShortCircuits(t *testing.T) {
	svc := &fakeService{permissionErr: errors.New("down")}
	g := New(svc, Options{
		Breaker: governance.CircuitBreakerConfig{MaxFailures: 2, Cooldown: time.Minute, MaxHalfOpenProbes: 1},
	})

	for i := 0; i < 2; i++ {
		g.Authorize(context.Background(), domain.PermissionRequest{WorkerID: "w", Action: "a"})
	}
	require.Equal(t, governance.StateOpen, g.BreakerState())

	decision := g.Authorize(context.Background(), domain.PermissionRequest{WorkerID: "w", Action: "a"})
	assert.Equal(t, string(domain.PermissionDeny), decision.Outcome)
	assert.True(t, decision.FailSafe)
	assert.Contains(t, decision.Reason, "circuit open")
}

func TestGate_ApprovalResumeAllow(t *testing.T) {
	svc := &fakeService{permission: domain.PermissionResult{Decision: domain.PermissionRequireApproval, Reason: "sensitive"}}
	g := New(svc, Options{Config: Config{ApprovalTimeout: 5 * time.Second}})

	done := make(chan domain.GovernanceDecision, 1)
	go func() {
		done <- g.Authorize(context.Background(), domain.PermissionRequest{
			WorkerID: "w",
			Action:   "a",
			Context:  map[string]any{"task_id": "t1"},
		})
	}()

	require.Eventually(t, func() bool {
		return len(g.Approvals().Pending()) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, g.Approvals().Resolve(ApprovalResponse{TaskID: "t1", Approved: true}))

	decision := <-done
	assert.Equal(t, string(domain.PermissionAllow), decision.Outcome)
	assert.False(t, decision.FailSafe)
}

func TestGate_ApprovalTimeoutHardensToDeny(t *testing.T) {
	svc := &fakeService{permission: domain.PermissionResult{Decision: domain.PermissionRequireApproval}}
	g := New(svc, Options{Config: Config{ApprovalTimeout: 20 * time.Millisecond}})

	decision := g.Authorize(context.Background(), domain.PermissionRequest{
		WorkerID: "w",
		Action:   "a",
		Context:  map[string]any{"task_id": "t1"},
	})
	assert.Equal(t, string(domain.PermissionDeny), decision.Outcome)
	assert.True(t, decision.FailSafe)
	assert.Empty(t, g.Approvals().Pending())
}

func TestGate_ApprovalDenied(t *testing.T) {
	svc := &fakeService{permission: domain.PermissionResult{Decision: domain.PermissionRequireApproval}}
	g := New(svc, Options{Config: Config{ApprovalTimeout: 5 * time.Second}})

	done := make(chan domain.GovernanceDecision, 1)
	go func() {
		done <- g.Authorize(context.Background(), domain.PermissionRequest{
			WorkerID: "w",
			Action:   "a",
			Context:  map[string]any{"task_id": "t1"},
		})
	}()

	require.Eventually(t, func() bool {
		return g.Approvals().Resolve(ApprovalResponse{TaskID: "t1", Approved: false, Reason: "too risky"}) == nil
	}, time.Second, 5*time.Millisecond)

	decision := <-done
	assert.Equal(t, string(domain.PermissionDeny), decision.Outcome)
	assert.Equal(t, "too risky", decision.Reason)
}

func TestGate_ValidateFailSafeFlagsForReview(t *testing.T) {
	svc := &fakeService{validationErr: errors.New("down")}
	g := New(svc, Options{})

	decision, result := g.Validate(context.Background(), domain.ValidationRequest{WorkerID: "w", Action: "a"})
	assert.Equal(t, string(domain.ValidationFlagForReview), decision.Outcome)
	assert.True(t, decision.FailSafe)
	assert.Equal(t, domain.ValidationFlagForReview, result.Decision)
	assert.False(t, result.ShouldRetry)
}

func TestGate_ValidatePassesThroughRetry(t *testing.T) {
	svc := &fakeService{validation: domain.ValidationResult{Decision: domain.ValidationReject, ShouldRetry: true}}
	g := New(svc, Options{})

	decision, result := g.Validate(context.Background(), domain.ValidationRequest{WorkerID: "w", Action: "a"})
	assert.Equal(t, string(domain.ValidationReject), decision.Outcome)
	assert.True(t, result.ShouldRetry)
}

func TestGate_ReportIsDetached(t *testing.T) {
	svc := &fakeService{}
	g := New(svc, Options{})

	g.Report(domain.ExecutionReport{TaskID: "t1", WorkerID: "w", Status: domain.TaskSucceeded})
	g.Wait()

	require.Equal(t, 1, svc.reportCount())
	svc.mu.Lock()
	report := svc.reports[0]
	svc.mu.Unlock()
	assert.NotEmpty(t, report.ExecutionID)
	assert.False(t, report.Timestamp.IsZero())
}

func TestGate_ReportFailureNeverPropagates(t *testing.T) {
	svc := &fakeService{reportErr: errors.New("audit store down")}
	g := New(svc, Options{})

	var panicked atomic.Bool
	func() {
		defer func() {
			if recover() != nil {
				panicked.Store(true)
			}
		}()
		g.Report(domain.ExecutionReport{TaskID: "t1"})
		g.Wait()
	}()
	assert.False(t, panicked.Load())
}

func TestApprovalBroker_ResolveUnknownTask(t *testing.T) {
	b := NewApprovalBroker()
	assert.Error(t, b.Resolve(ApprovalResponse{TaskID: "missing"}))
}
