package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewardai/steward-oss/pkg/config"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := config.Default()
	cfg.Logging.Level = "error"

	a, err := buildApp(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		a.close(shutdownCtx)
	})

	server := httptest.NewServer(newHTTPServer(a).Handler)
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decodeJSON(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Greater(t, body["workers"], float64(0))
}

func TestRouteEndpointSelectsChartWorker(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/v1/route", routeRequest{
		Text: "please create a chart of quarterly revenue",
		Resources: []resourceRef{
			{Type: "dataset", Name: "revenue-q2"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result workflowView
	decodeJSON(t, resp, &result)
	assert.True(t, result.Success)
	require.NotNil(t, result.Routing)
	assert.Equal(t, "chart-worker", result.Routing.Selected.WorkerID)
	assert.False(t, result.Routing.FallbackUsed)
}

func TestRouteEndpointFallsBackOnUnmatchedRequest(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/v1/route", routeRequest{
		Text: "qwzx",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result workflowView
	decodeJSON(t, resp, &result)
	require.NotNil(t, result.Routing)
	assert.True(t, result.Routing.FallbackUsed)
	assert.Equal(t, "fallback-worker", result.Routing.Selected.WorkerID)
}

func TestRouteEndpointRequiresText(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/v1/route", routeRequest{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWorkflowEndpointRunsDependentTasks(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/v1/workflows", workflowRequest{
		Tasks: []taskSpec{
			{
				ID:       "analyze",
				WorkerID: "analysis-worker",
				Request:  "summarize the incident report",
			},
			{
				ID:        "echo",
				WorkerID:  "fallback-worker",
				Request:   "echo the summary",
				DependsOn: []string{"analyze"},
			},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result workflowView
	decodeJSON(t, resp, &result)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"analyze", "echo"}, result.ExecutionOrder)
}

func TestWorkflowEndpointRejectsCycle(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/v1/workflows", workflowRequest{
		Tasks: []taskSpec{
			{ID: "a", WorkerID: "fallback-worker", DependsOn: []string{"b"}},
			{ID: "b", WorkerID: "fallback-worker", DependsOn: []string{"a"}},
		},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWorkflowEndpointRejectsDuplicateTaskID(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/v1/workflows", workflowRequest{
		Tasks: []taskSpec{
			{ID: "a", WorkerID: "fallback-worker"},
			{ID: "a", WorkerID: "fallback-worker"},
		},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWorkflowEndpointRejectsUnknownDependency(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/v1/workflows", workflowRequest{
		Tasks: []taskSpec{
			{ID: "a", WorkerID: "fallback-worker", DependsOn: []string{"ghost"}},
		},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWorkersEndpointListsBuiltins(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/v1/workers")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var views []workerView
	decodeJSON(t, resp, &views)

	ids := make([]string, 0, len(views))
	for _, v := range views {
		ids = append(ids, v.ID)
	}
	assert.Contains(t, ids, "chart-worker")
	assert.Contains(t, ids, "fallback-worker")
}

func TestFeedbackEndpoint(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/v1/feedback", feedbackRequest{
		WorkerID: "chart-worker",
		Rating:   5,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body feedbackResponse
	decodeJSON(t, resp, &body)
	assert.True(t, body.Recorded)
	assert.Equal(t, 1.0, body.GovernanceScore)
	assert.Greater(t, body.TrustScore, 0.4)
}

func TestFeedbackEndpointRejectsBadRating(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/v1/feedback", feedbackRequest{
		WorkerID: "chart-worker",
		Rating:   9,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResolveUnknownApproval(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/v1/approvals/no-such-task", approvalDecision{Approved: true})
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTrustEndpointAfterExecution(t *testing.T) {
	server := newTestServer(t)

	run := postJSON(t, server.URL+"/v1/route", routeRequest{Text: "analyze this text please"})
	require.Equal(t, http.StatusOK, run.StatusCode)
	run.Body.Close()

	resp, err := http.Get(server.URL + "/v1/trust")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var records []trustView
	decodeJSON(t, resp, &records)
	require.NotEmpty(t, records)
	assert.NotEmpty(t, records[0].WorkerID)
}

func TestMetricsEndpoint(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRootCommandWiring(t *testing.T) {
	cmd := newRootCmd()

	names := make([]string, 0, len(cmd.Commands()))
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "route")
}
