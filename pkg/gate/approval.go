package gate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stewardai/steward-oss/pkg/domain"
)

// ApprovalRequest describes a paused task waiting on a human decision.
type ApprovalRequest struct {
	TaskID      string
	WorkerID    string
	Action      string
	Reason      string
	RequestedAt time.Time
}

// ApprovalResponse is the human decision for a paused task.
type ApprovalResponse struct {
	TaskID   string
	Approved bool
	Reason   string
}

// ApprovalBroker parks tasks whose permission checkpoint answered
// REQUIRE_APPROVAL and resumes them when a decision arrives. Each pending
// task owns a buffered response channel so Resolve never blocks the caller.
type ApprovalBroker struct {
	mu      sync.RWMutex
	pending map[string]*pendingApproval
}

type pendingApproval struct {
	request  ApprovalRequest
	response chan ApprovalResponse
}

// NewApprovalBroker creates an empty broker.
func NewApprovalBroker() *ApprovalBroker {
	return &ApprovalBroker{
		pending: make(map[string]*pendingApproval),
	}
}

// Await parks the calling task until Resolve delivers a decision, the
// timeout elapses, or ctx is cancelled. Timeout and cancellation both
// resolve to a denial carrying domain.ErrApprovalTimeout.
func (b *ApprovalBroker) Await(ctx context.Context, req ApprovalRequest, timeout time.Duration) (ApprovalResponse, error) {
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now()
	}
	entry := &pendingApproval{
		request:  req,
		response: make(chan ApprovalResponse, 1),
	}

	b.mu.Lock()
	if _, exists := b.pending[req.TaskID]; exists {
		b.mu.Unlock()
		return ApprovalResponse{}, fmt.Errorf("approval already pending for task %q", req.TaskID)
	}
	b.pending[req.TaskID] = entry
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, req.TaskID)
		b.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-entry.response:
		return resp, nil
	case <-timer.C:
		return ApprovalResponse{TaskID: req.TaskID}, domain.ErrApprovalTimeout
	case <-ctx.Done():
		return ApprovalResponse{TaskID: req.TaskID}, fmt.Errorf("%w: %w", domain.ErrApprovalTimeout, ctx.Err())
	}
}

// Resolve delivers a decision for a pending task. It returns
// domain.ErrWorkerNotFound semantics via a plain error when nothing is
// waiting, which callers surface as HTTP 404.
func (b *ApprovalBroker) Resolve(resp ApprovalResponse) error {
	b.mu.RLock()
	entry, ok := b.pending[resp.TaskID]
	b.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no pending approval for task %q", resp.TaskID)
	}

	select {
	case entry.response <- resp:
		return nil
	default:
		return fmt.Errorf("approval for task %q already resolved", resp.TaskID)
	}
}

// Pending lists parked requests ordered by request time.
func (b *ApprovalBroker) Pending() []ApprovalRequest {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]ApprovalRequest, 0, len(b.pending))
	for _, entry := range b.pending {
		out = append(out, entry.request)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}
