package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepline/stepline/internal/actions"
	"github.com/stepline/stepline/internal/engine"
	"github.com/stepline/stepline/internal/expressions"
	"github.com/stepline/stepline/internal/registry"
	"github.com/stepline/stepline/internal/scheduler"
	"github.com/stepline/stepline/internal/store"
)

// startInstanceRecorder satisfies scheduler.InstanceStarter for job routes.
type startInstanceRecorder struct{}

func (startInstanceRecorder) StartInstance(context.Context, string, map[string]any) (string, error) {
	return "inst-recorded", nil
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()

	memStore := store.NewMemoryStore()
	reg, err := registry.New()
	require.NoError(t, err)

	handlers := actions.NewRegistry()
	require.NoError(t, actions.RegisterBuiltins(handlers, nil))
	require.NoError(t, handlers.Register(actions.NewRouteHandler(expressions.NewExprEngine())))
	require.NoError(t, actions.RegisterCollaborators(handlers, actions.CollaboratorDeps{
		Reflect: func(_ context.Context, prompt string, _ map[string]any) (any, error) {
			return "reflected: " + prompt, nil
		},
		Render: expressions.RenderTemplate,
	}))

	exec, err := engine.NewExecutor(engine.ExecutorDeps{
		Store:       memStore,
		Registry:    handlers,
		Definitions: reg,
	})
	require.NoError(t, err)
	require.NoError(t, actions.RegisterSubWorkflowHandlers(handlers, actions.SubWorkflowDeps{
		Run: engine.SubWorkflowRunnerOf(exec),
	}))

	// No runner: tests drive instances step by step over HTTP.
	service := engine.NewService(exec, nil, reg, memStore)
	sched := scheduler.NewScheduler(startInstanceRecorder{}, nil)

	return NewServer(service, reg, nil, sched, nil).Handler(nil)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

const prdDefinition = `{
	"name": "create-prd",
	"steps": [
		{"name": "intro", "kind": "display", "params": {"prompt": "Let's write a PRD."}},
		{"name": "ask-scale", "kind": "elicit", "params": {"prompt": "Project scale?", "variable": "project_scale"}},
		{"name": "route-review", "kind": "route", "params": {
			"variable": "review_depth",
			"routes": [
				{"when": "project_scale == \"large\"", "target": "deep-review"},
				{"target": "quick-review"}
			]
		}}
	]
}`

func registerPRD(t *testing.T, h http.Handler) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/workflows", bytes.NewBufferString(prdDefinition))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestRegisterAndListWorkflows(t *testing.T) {
	h := newTestHandler(t)
	registerPRD(t, h)

	rec, body := doJSON(t, h, http.MethodGet, "/v1/workflows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"create-prd"}, body["workflows"])
}

func TestRegisterInvalidWorkflowIs400(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/workflows", bytes.NewBufferString(`{"name":"bad","steps":[]}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "DEFINITION_ERROR", body["code"])
}

func TestInstanceLifecycleOverHTTP(t *testing.T) {
	h := newTestHandler(t)
	registerPRD(t, h)

	rec, body := doJSON(t, h, http.MethodPost, "/v1/instances", map[string]any{"workflow": "create-prd"})
	require.Equal(t, http.StatusCreated, rec.Code)
	instanceID, ok := body["instance_id"].(string)
	require.True(t, ok)

	stepPath := fmt.Sprintf("/v1/instances/%s/step", instanceID)

	// Step 0: display advances.
	rec, body = doJSON(t, h, http.MethodPost, stepPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "advanced", body["status"])

	// Step 1: elicit suspends.
	rec, body = doJSON(t, h, http.MethodPost, stepPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "waiting", body["status"])

	// Wrong step index is rejected with 422 and detail payload.
	inputPath := fmt.Sprintf("/v1/instances/%s/input", instanceID)
	rec, body = doJSON(t, h, http.MethodPost, inputPath, map[string]any{"stepIndex": 5, "value": "large"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INPUT_REJECTED", body["code"])
	details, ok := body["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), details["expected"])
	assert.Equal(t, float64(5), details["got"])

	// Correct index resolves and advances.
	rec, body = doJSON(t, h, http.MethodPost, inputPath, map[string]any{"stepIndex": 1, "value": "large"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "advanced", body["status"])

	// Step 2: route, completing the workflow.
	rec, body = doJSON(t, h, http.MethodPost, stepPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])

	// The final state is readable and carries both bound variables.
	rec, body = doJSON(t, h, http.MethodGet, "/v1/instances/"+instanceID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	vars, ok := body["variables"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "large", vars["project_scale"])
	assert.Equal(t, "deep-review", vars["review_depth"])

	// Listing sees the instance; reset removes it.
	rec, body = doJSON(t, h, http.MethodGet, "/v1/instances", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body["instances"], instanceID)

	rec, _ = doJSON(t, h, http.MethodDelete, "/v1/instances/"+instanceID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = doJSON(t, h, http.MethodGet, "/v1/instances/"+instanceID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPauseBlocksStepOverHTTP(t *testing.T) {
	h := newTestHandler(t)
	registerPRD(t, h)

	_, body := doJSON(t, h, http.MethodPost, "/v1/instances", map[string]any{"workflow": "create-prd"})
	instanceID := body["instance_id"].(string)

	rec, _ := doJSON(t, h, http.MethodPost, "/v1/instances/"+instanceID+"/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = doJSON(t, h, http.MethodPost, "/v1/instances/"+instanceID+"/step", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", body["code"])

	rec, _ = doJSON(t, h, http.MethodPost, "/v1/instances/"+instanceID+"/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = doJSON(t, h, http.MethodPost, "/v1/instances/"+instanceID+"/step", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "advanced", body["status"])
}

func TestStartUnknownWorkflowIs404(t *testing.T) {
	h := newTestHandler(t)
	rec, body := doJSON(t, h, http.MethodPost, "/v1/instances", map[string]any{"workflow": "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestStartWithoutWorkflowIs400(t *testing.T) {
	h := newTestHandler(t)
	rec, body := doJSON(t, h, http.MethodPost, "/v1/instances", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}

func TestHierarchyRoute(t *testing.T) {
	h := newTestHandler(t)
	registerPRD(t, h)

	rec, body := doJSON(t, h, http.MethodGet, "/v1/workflows/create-prd/hierarchy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "create-prd", body["name"])
	assert.Equal(t, float64(3), body["step_count"])

	rec, _ = doJSON(t, h, http.MethodGet, "/v1/workflows/ghost/hierarchy", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobRoutes(t *testing.T) {
	h := newTestHandler(t)

	rec, body := doJSON(t, h, http.MethodPost, "/v1/jobs", map[string]any{
		"id": "nightly", "workflow": "create-prd", "cron_expression": "0 2 * * *", "enabled": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "nightly", body["id"])

	// Duplicate job id conflicts.
	rec, body = doJSON(t, h, http.MethodPost, "/v1/jobs", map[string]any{
		"id": "nightly", "workflow": "create-prd", "cron_expression": "0 2 * * *",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", body["code"])

	rec, body = doJSON(t, h, http.MethodGet, "/v1/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	jobs := body["jobs"].([]any)
	require.Len(t, jobs, 1)

	rec, _ = doJSON(t, h, http.MethodDelete, "/v1/jobs/nightly", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, body = doJSON(t, h, http.MethodGet, "/v1/jobs", nil)
	assert.Empty(t, body["jobs"])
}

func TestEventsRouteWithoutHubIs501(t *testing.T) {
	h := newTestHandler(t)
	rec, _ := doJSON(t, h, http.MethodGet, "/v1/events", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
