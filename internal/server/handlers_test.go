package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/common"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/executor"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/pipeline"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/queue"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/store"
	"github.com/mdharwad-acog/dproc-framework-v4-sub000/internal/submitter"
)

func writeFixtureFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newFixturePipeline(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "pipelines", "demo")
	writeFixtureFile(t, filepath.Join(dir, "spec.yml"), "name: demo\noutputFormat:\n  - mdx\ninputs:\n  - name: topic\n    type: text\n    required: true\n")
	writeFixtureFile(t, filepath.Join(dir, "config.yml"), "llm:\n  provider: openai\n  model: gpt-4o\n")
	writeFixtureFile(t, filepath.Join(dir, "processor"), "passthrough")
	return root
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := common.NewSilentLogger()
	root := newFixturePipeline(t)
	loader := pipeline.NewLoader(root)

	execStore, err := store.NewEmbeddedStore(logger, filepath.Join(root, "data", "executions"))
	require.NoError(t, err)
	t.Cleanup(func() { execStore.Close() })

	q, err := queue.NewEmbeddedQueue(logger, filepath.Join(root, "data", "queue"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	resolveKey := func(ctx context.Context, provider string) (string, error) { return "test-key", nil }
	cancellations := executor.NewCancellationRegistry()
	sub := submitter.New(loader, execStore, q, cancellations, logger, resolveKey)

	return New("127.0.0.1", 0, sub, execStore, loader, logger)
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func TestHandleExecute_ValidRequestReturnsExecutionAndJobID(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/execute", jsonBody(t, map[string]any{
		"pipelineName": "demo",
		"inputs":       map[string]any{"topic": "AI"},
		"outputFormat": "mdx",
	}))
	rec := httptest.NewRecorder()
	srv.handleExecute(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, true, resp["success"])
	assert.NotEmpty(t, resp["executionId"])
	assert.NotEmpty(t, resp["jobId"])
}

func TestHandleExecute_ValidationFailureReturns400(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/execute", jsonBody(t, map[string]any{
		"pipelineName": "demo",
		"inputs":       map[string]any{},
		"outputFormat": "mdx",
	}))
	rec := httptest.NewRecorder()
	srv.handleExecute(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	var resp errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Code)
	assert.NotEmpty(t, resp.Error)
}

func TestHandleExecute_FallsBackToUserIDHeaderViaFullMiddlewareStack(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/execute", jsonBody(t, map[string]any{
		"pipelineName": "demo",
		"inputs":       map[string]any{"topic": "AI"},
		"outputFormat": "mdx",
	}))
	req.Header.Set("X-User-Id", "user-from-header")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	executionID := resp["executionId"].(string)

	record, err := srv.store.Get(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, "user-from-header", record.UserID)
}

func TestHandleGetExecution_UnknownIDReturns404(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/executions/does-not-exist", nil)
	rec := httptest.NewRecorder()
	srv.handleGetExecution(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
}

func TestHandleExecuteThenGetExecution_ReflectsQueuedStatus(t *testing.T) {
	srv := newTestServer(t)

	execReq := httptest.NewRequest(http.MethodPost, "/execute", jsonBody(t, map[string]any{
		"pipelineName": "demo",
		"inputs":       map[string]any{"topic": "AI"},
		"outputFormat": "mdx",
	}))
	execRec := httptest.NewRecorder()
	srv.handleExecute(execRec, execReq)
	require.Equal(t, http.StatusOK, execRec.Code)

	var execResp map[string]any
	require.NoError(t, json.NewDecoder(execRec.Body).Decode(&execResp))
	executionID := execResp["executionId"].(string)

	getReq := httptest.NewRequest(http.MethodGet, "/executions/"+executionID, nil)
	getRec := httptest.NewRecorder()
	srv.handleGetExecution(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code, getRec.Body.String())

	var statusResp map[string]any
	require.NoError(t, json.NewDecoder(getRec.Body).Decode(&statusResp))
	status := statusResp["status"].(map[string]any)
	assert.Equal(t, "queued", status["status"])
	assert.Equal(t, float64(0), status["progress"])
}

func TestHandleCancel_QueuedJobSucceeds(t *testing.T) {
	srv := newTestServer(t)

	execReq := httptest.NewRequest(http.MethodPost, "/execute", jsonBody(t, map[string]any{
		"pipelineName": "demo",
		"inputs":       map[string]any{"topic": "AI"},
		"outputFormat": "mdx",
	}))
	execRec := httptest.NewRecorder()
	srv.handleExecute(execRec, execReq)
	require.Equal(t, http.StatusOK, execRec.Code)

	var execResp map[string]any
	require.NoError(t, json.NewDecoder(execRec.Body).Decode(&execResp))
	executionID := execResp["executionId"].(string)

	cancelReq := httptest.NewRequest(http.MethodPost, "/jobs/"+executionID+"/cancel", nil)
	cancelRec := httptest.NewRecorder()
	srv.handleCancel(cancelRec, cancelReq)
	require.Equal(t, http.StatusOK, cancelRec.Code, cancelRec.Body.String())

	var cancelResp map[string]any
	require.NoError(t, json.NewDecoder(cancelRec.Body).Decode(&cancelResp))
	assert.Equal(t, true, cancelResp["success"])
}

func TestHandlePipelines_ListsFixturePipeline(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/pipelines", nil)
	rec := httptest.NewRecorder()
	srv.handlePipelines(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	pipelines := resp["pipelines"].([]any)
	require.Len(t, pipelines, 1)
}

func TestHandleStats_UnknownPipelineReturnsZeroedStats(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/stats?pipeline=demo", nil)
	rec := httptest.NewRecorder()
	srv.handleStats(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	stats := resp["stats"].(map[string]any)
	assert.Equal(t, "demo", stats["pipelineName"])
}

func TestRequireMethod_WrongMethodReturns405(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/execute", nil)
	rec := httptest.NewRecorder()
	srv.handleExecute(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
