package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/stewardai/steward-oss/pkg/domain"
	"github.com/stewardai/steward-oss/pkg/gate"
)

// apiServer exposes the routing, workflow, approval, feedback, and
// introspection endpoints over HTTP.
type apiServer struct {
	app *app
}

func newHTTPServer(a *app) *http.Server {
	s := &apiServer{app: a}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/route", s.handleRoute)
	mux.HandleFunc("POST /v1/workflows", s.handleWorkflow)
	mux.HandleFunc("POST /v1/feedback", s.handleFeedback)
	mux.HandleFunc("GET /v1/approvals", s.handleListApprovals)
	mux.HandleFunc("POST /v1/approvals/{task}", s.handleResolveApproval)
	mux.HandleFunc("GET /v1/workers", s.handleListWorkers)
	mux.HandleFunc("GET /v1/trust", s.handleTrust)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.promReg, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:              a.cfg.Server.Address,
		Handler:           otelhttp.NewHandler(mux, "steward.api"),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

type resourceRef struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	URI  string `json:"uri,omitempty"`
}

type routeRequest struct {
	Text      string         `json:"text"`
	Resources []resourceRef  `json:"resources,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

type taskSpec struct {
	ID              string         `json:"id"`
	WorkerID        string         `json:"worker_id"`
	Request         string         `json:"request,omitempty"`
	Params          map[string]any `json:"params,omitempty"`
	Resources       []resourceRef  `json:"resources,omitempty"`
	DependsOn       []string       `json:"depends_on,omitempty"`
	DeadlineSeconds int            `json:"deadline_seconds,omitempty"`
}

type workflowRequest struct {
	WorkflowID string     `json:"workflow_id,omitempty"`
	Tasks      []taskSpec `json:"tasks"`
}

type decisionView struct {
	Phase     string `json:"phase"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
	FailSafe  bool   `json:"fail_safe,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type taskResultView struct {
	TaskID      string         `json:"task_id"`
	WorkerID    string         `json:"worker_id"`
	Status      string         `json:"status"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	ShouldRetry bool           `json:"should_retry,omitempty"`
	SkipReason  string         `json:"skip_reason,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
	Permission  *decisionView  `json:"permission,omitempty"`
	Validation  *decisionView  `json:"validation,omitempty"`
}

type routingScoreView struct {
	WorkerID   string   `json:"worker_id"`
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Rank       int      `json:"rank"`
	Reasons    []string `json:"reasons,omitempty"`
}

type routingView struct {
	Selected      routingScoreView   `json:"selected"`
	Candidates    []routingScoreView `json:"candidates"`
	LowConfidence bool               `json:"low_confidence"`
	FallbackUsed  bool               `json:"fallback_used"`
}

type workflowView struct {
	WorkflowID      string                    `json:"workflow_id"`
	Success         bool                      `json:"success"`
	ExecutionOrder  []string                  `json:"execution_order"`
	Skipped         []string                  `json:"skipped,omitempty"`
	TotalDurationMS int64                     `json:"total_duration_ms"`
	Tasks           map[string]taskResultView `json:"tasks"`
	Routing         *routingView              `json:"routing,omitempty"`
}

func (s *apiServer) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	result, err := s.app.planner.Run(r.Context(), domain.RoutingRequest{
		Text:      req.Text,
		Resources: toDomainResources(req.Resources),
		Context:   req.Context,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workflowToView(result))
}

func (s *apiServer) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	tasks := make([]domain.ExecutionTask, 0, len(req.Tasks))
	for _, spec := range req.Tasks {
		tasks = append(tasks, domain.ExecutionTask{
			ID:       spec.ID,
			WorkerID: spec.WorkerID,
			Input: domain.WorkInput{
				TaskID:    spec.ID,
				Request:   spec.Request,
				Resources: toDomainResources(spec.Resources),
				Params:    spec.Params,
			},
			DependsOn: spec.DependsOn,
			Deadline:  time.Duration(spec.DeadlineSeconds) * time.Second,
		})
	}

	result, err := s.app.planner.Submit(r.Context(), req.WorkflowID, tasks)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workflowToView(result))
}

type feedbackRequest struct {
	WorkerID    string `json:"worker_id"`
	ExecutionID string `json:"execution_id,omitempty"`
	Rating      int    `json:"rating"`
	Comment     string `json:"comment,omitempty"`
}

type feedbackResponse struct {
	Recorded        bool    `json:"recorded"`
	GovernanceScore float64 `json:"governance_score"`
	TrustScore      float64 `json:"trust_score"`
}

// handleFeedback forwards the signal to the governance collaborator and to
// the local trust store. Both updates happen or neither is reported.
func (s *apiServer) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	fb := domain.Feedback{
		WorkerID:    req.WorkerID,
		ExecutionID: req.ExecutionID,
		Rating:      req.Rating,
		Comment:     req.Comment,
	}
	governanceScore, err := s.app.gate.SubmitFeedback(r.Context(), fb)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	trustScore, err := s.app.trust.RecordFeedback(fb)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, feedbackResponse{
		Recorded:        true,
		GovernanceScore: governanceScore,
		TrustScore:      trustScore,
	})
}

type approvalView struct {
	TaskID      string    `json:"task_id"`
	WorkerID    string    `json:"worker_id"`
	Action      string    `json:"action"`
	Reason      string    `json:"reason,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func (s *apiServer) handleListApprovals(w http.ResponseWriter, _ *http.Request) {
	pending := s.app.gate.Approvals().Pending()
	out := make([]approvalView, 0, len(pending))
	for _, req := range pending {
		out = append(out, approvalView{
			TaskID:      req.TaskID,
			WorkerID:    req.WorkerID,
			Action:      req.Action,
			Reason:      req.Reason,
			RequestedAt: req.RequestedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type approvalDecision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

func (s *apiServer) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task")

	var req approvalDecision
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	err := s.app.gate.Approvals().Resolve(gate.ApprovalResponse{
		TaskID:   taskID,
		Approved: req.Approved,
		Reason:   req.Reason,
	})
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"resolved": true})
}

type workerView struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Priority       int      `json:"priority"`
	Capabilities   []string `json:"capabilities,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
	TriggerPhrases []string `json:"trigger_phrases,omitempty"`
	MaxConcurrent  int      `json:"max_concurrent,omitempty"`
	Fallback       bool     `json:"fallback,omitempty"`
}

func (s *apiServer) handleListWorkers(w http.ResponseWriter, _ *http.Request) {
	descriptors := s.app.registry.List()
	out := make([]workerView, 0, len(descriptors))
	for _, desc := range descriptors {
		out = append(out, workerView{
			ID:             desc.ID,
			Name:           desc.Name,
			Priority:       desc.Priority,
			Capabilities:   desc.Capabilities,
			Keywords:       desc.Keywords,
			TriggerPhrases: desc.TriggerPhrases,
			MaxConcurrent:  desc.MaxConcurrent,
			Fallback:       desc.Fallback,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type trustFactorsView struct {
	SuccessRate            float64 `json:"success_rate"`
	PerformanceConsistency float64 `json:"performance_consistency"`
	UserFeedback           float64 `json:"user_feedback"`
	SafetyScore            float64 `json:"safety_score"`
}

type trustView struct {
	WorkerID   string           `json:"worker_id"`
	Score      float64          `json:"score"`
	Graduated  bool             `json:"graduated"`
	Executions int64            `json:"executions"`
	Successes  int64            `json:"successes"`
	Failures   int64            `json:"failures"`
	Violations int64            `json:"violations"`
	Factors    trustFactorsView `json:"factors"`
	LastActive time.Time        `json:"last_active,omitzero"`
}

func (s *apiServer) handleTrust(w http.ResponseWriter, _ *http.Request) {
	records := s.app.trust.Snapshot()
	out := make([]trustView, 0, len(records))
	for _, rec := range records {
		out = append(out, trustView{
			WorkerID:   rec.WorkerID,
			Score:      rec.Score,
			Graduated:  rec.Graduated(),
			Executions: rec.Executions,
			Successes:  rec.Successes,
			Failures:   rec.Failures,
			Violations: rec.Violations,
			Factors: trustFactorsView{
				SuccessRate:            rec.Factors.SuccessRate,
				PerformanceConsistency: rec.Factors.PerformanceConsistency,
				UserFeedback:           rec.Factors.UserFeedback,
				SafetyScore:            rec.Factors.SafetyScore,
			},
			LastActive: rec.LastActive,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *apiServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"workers": s.app.registry.Len(),
		"breaker": string(s.app.gate.BreakerState()),
	})
}

func toDomainResources(refs []resourceRef) []domain.ResourceRef {
	if len(refs) == 0 {
		return nil
	}
	out := make([]domain.ResourceRef, len(refs))
	for i, ref := range refs {
		out[i] = domain.ResourceRef{Type: ref.Type, Name: ref.Name, URI: ref.URI}
	}
	return out
}

func workflowToView(result domain.WorkflowResult) workflowView {
	view := workflowView{
		WorkflowID:      result.WorkflowID,
		Success:         result.Success,
		ExecutionOrder:  result.ExecutionOrder,
		Skipped:         result.Skipped,
		TotalDurationMS: result.TotalDuration.Milliseconds(),
		Tasks:           make(map[string]taskResultView, len(result.Tasks)),
	}
	for id, task := range result.Tasks {
		view.Tasks[id] = taskResultView{
			TaskID:      task.TaskID,
			WorkerID:    task.WorkerID,
			Status:      string(task.Status),
			Output:      task.Output.Body,
			Error:       task.Err,
			ShouldRetry: task.ShouldRetry,
			SkipReason:  task.SkipReason,
			DurationMS:  task.Duration.Milliseconds(),
			Permission:  decisionToView(task.Permission),
			Validation:  decisionToView(task.Validation),
		}
	}
	if result.Routing != nil {
		routing := routingView{
			Selected:      scoreToView(result.Routing.Selected),
			Candidates:    make([]routingScoreView, 0, len(result.Routing.Candidates)),
			LowConfidence: result.Routing.LowConfidence,
			FallbackUsed:  result.Routing.FallbackUsed,
		}
		for _, candidate := range result.Routing.Candidates {
			routing.Candidates = append(routing.Candidates, scoreToView(candidate))
		}
		view.Routing = &routing
	}
	return view
}

func scoreToView(score domain.RoutingScore) routingScoreView {
	return routingScoreView{
		WorkerID:   score.WorkerID,
		Score:      score.Score,
		Confidence: score.Confidence,
		Rank:       score.Rank,
		Reasons:    score.Reasons,
	}
}

func decisionToView(decision *domain.GovernanceDecision) *decisionView {
	if decision == nil {
		return nil
	}
	return &decisionView{
		Phase:     string(decision.Phase),
		Outcome:   decision.Outcome,
		Reason:    decision.Reason,
		FailSafe:  decision.FailSafe,
		LatencyMS: decision.Latency.Milliseconds(),
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrConfigInvalid), errors.Is(err, domain.ErrCyclicDependency):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrWorkerNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Warn("response encode failed", "error", err)
	}
}
