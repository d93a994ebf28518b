package governance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/stewardai/steward-oss/pkg/domain"
)

const defaultHTTPTimeout = 5 * time.Second

// HTTPOptions configure the remote governance client.
type HTTPOptions struct {
	// BaseURL is the collaborator root, e.g. "http://governance:8090".
	BaseURL string
	// Timeout bounds each request when the caller's context carries no
	// earlier deadline. Zero selects the default.
	Timeout time.Duration
	// Client overrides the HTTP client; nil builds one with an
	// OpenTelemetry-instrumented transport.
	Client *http.Client
}

// HTTPService talks JSON to a remote governance collaborator. Transport
// errors and non-2xx statuses are returned as errors so the gate can apply
// its fail-safe outcome.
type HTTPService struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

// NewHTTPService builds a client for the collaborator at baseURL.
func NewHTTPService(opts HTTPOptions) (*HTTPService, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("governance http client: %w: base url is required", domain.ErrConfigInvalid)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	return &HTTPService{baseURL: base, client: client, timeout: timeout}, nil
}

type permissionPayload struct {
	WorkerID string         `json:"worker_id"`
	Action   string         `json:"action"`
	Context  map[string]any `json:"context,omitempty"`
}

type permissionResponse struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

type validationPayload struct {
	WorkerID string         `json:"worker_id"`
	Action   string         `json:"action"`
	Status   string         `json:"status"`
	Body     map[string]any `json:"body,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

type validationResponse struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
	Retry    bool   `json:"retry"`
}

type reportPayload struct {
	ExecutionID      string    `json:"execution_id"`
	TaskID           string    `json:"task_id"`
	WorkerID         string    `json:"worker_id"`
	Status           string    `json:"status"`
	WorkerErrored    bool      `json:"worker_errored"`
	WorkerDurationMS int64     `json:"worker_duration_ms"`
	TotalDurationMS  int64     `json:"total_duration_ms"`
	Violation        bool      `json:"violation"`
	Timestamp        time.Time `json:"timestamp"`
}

type feedbackPayload struct {
	WorkerID    string `json:"worker_id"`
	ExecutionID string `json:"execution_id,omitempty"`
	Rating      int    `json:"rating"`
	Comment     string `json:"comment,omitempty"`
}

type feedbackResponse struct {
	Score float64 `json:"score"`
}

// CheckPermission calls POST /v1/permissions.
func (s *HTTPService) CheckPermission(ctx context.Context, req domain.PermissionRequest) (domain.PermissionResult, error) {
	payload := permissionPayload{WorkerID: req.WorkerID, Action: req.Action, Context: req.Context}

	var resp permissionResponse
	if err := s.post(ctx, "/v1/permissions", payload, &resp); err != nil {
		return domain.PermissionResult{}, err
	}

	switch outcome := domain.PermissionOutcome(resp.Decision); outcome {
	case domain.PermissionAllow, domain.PermissionDeny, domain.PermissionRequireApproval:
		return domain.PermissionResult{Decision: outcome, Reason: resp.Reason}, nil
	default:
		return domain.PermissionResult{}, fmt.Errorf("governance permission: unknown outcome %q", resp.Decision)
	}
}

// ValidateResult calls POST /v1/validations.
func (s *HTTPService) ValidateResult(ctx context.Context, req domain.ValidationRequest) (domain.ValidationResult, error) {
	payload := validationPayload{
		WorkerID: req.WorkerID,
		Action:   req.Action,
		Status:   req.Result.Status,
		Body:     req.Result.Body,
		Context:  req.Context,
	}

	var resp validationResponse
	if err := s.post(ctx, "/v1/validations", payload, &resp); err != nil {
		return domain.ValidationResult{}, err
	}

	switch outcome := domain.ValidationOutcome(resp.Decision); outcome {
	case domain.ValidationAccept, domain.ValidationReject, domain.ValidationFlagForReview:
		return domain.ValidationResult{Decision: outcome, Reason: resp.Reason, ShouldRetry: resp.Retry}, nil
	default:
		return domain.ValidationResult{}, fmt.Errorf("governance validation: unknown outcome %q", resp.Decision)
	}
}

// ReportExecution calls POST /v1/reports.
func (s *HTTPService) ReportExecution(ctx context.Context, report domain.ExecutionReport) error {
	payload := reportPayload{
		ExecutionID:      report.ExecutionID,
		TaskID:           report.TaskID,
		WorkerID:         report.WorkerID,
		Status:           string(report.Status),
		WorkerErrored:    report.WorkerErrored,
		WorkerDurationMS: report.WorkerDuration.Milliseconds(),
		TotalDurationMS:  report.TotalDuration.Milliseconds(),
		Violation:        report.Violation,
		Timestamp:        report.Timestamp,
	}
	return s.post(ctx, "/v1/reports", payload, nil)
}

// SubmitFeedback calls POST /v1/feedback and returns the collaborator's
// aggregated feedback score.
func (s *HTTPService) SubmitFeedback(ctx context.Context, fb domain.Feedback) (float64, error) {
	if fb.Rating < 1 || fb.Rating > 5 {
		return 0, fmt.Errorf("feedback rating %d out of range [1, 5]", fb.Rating)
	}
	payload := feedbackPayload{
		WorkerID:    fb.WorkerID,
		ExecutionID: fb.ExecutionID,
		Rating:      fb.Rating,
		Comment:     fb.Comment,
	}

	var resp feedbackResponse
	if err := s.post(ctx, "/v1/feedback", payload, &resp); err != nil {
		return 0, err
	}
	return resp.Score, nil
}

func (s *HTTPService) post(ctx context.Context, path string, payload, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("governance request: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("governance request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("governance request %s: %w: %w", path, domain.ErrGovernanceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("governance request %s: %w: status %d: %s",
			path, domain.ErrGovernanceUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("governance response %s: decode: %w", path, err)
	}
	return nil
}
