package core

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) (*APIServer, *RunController) {
	t.Helper()
	ctrl := NewRunController(nil)
	require.NoError(t, ctrl.Register(
		Task{ID: "a.md#0", InputID: "a.md"},
		Task{ID: "a.md#1", InputID: "a.md", SampleIndex: 1},
	))
	require.True(t, ctrl.TryStart("a.md#0", nil))
	return NewAPIServer(ctrl, "run-1", nil), ctrl
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPIGetRun(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := do(t, api, http.MethodGet, "/api/v1/run", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got RunStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "running", got.Level)
	assert.Equal(t, 1, got.Counts[TaskRunning])
	assert.Equal(t, 1, got.Counts[TaskPending])
}

func TestAPIStop(t *testing.T) {
	api, ctrl := newTestAPI(t)

	rec := do(t, api, http.MethodPost, "/api/v1/run/stop", `{"level":"soft","reason":"lunch"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var got StopResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Changed)
	assert.Equal(t, "soft_stop", got.Level)

	rec = do(t, api, http.MethodPost, "/api/v1/run/stop", `{"level":"soft"}`)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.False(t, got.Changed, "repeating a stop is a no-op")

	rec = do(t, api, http.MethodPost, "/api/v1/run/stop", `{"level":"hard","reason":"now"}`)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Changed)
	assert.Equal(t, HardStop, ctrl.Level())
	assert.Equal(t, "now", ctrl.Reason())
}

func TestAPIStopRejectsBadInput(t *testing.T) {
	api, ctrl := newTestAPI(t)
	assert.Equal(t, http.StatusBadRequest, do(t, api, http.MethodPost, "/api/v1/run/stop", `{"level":"medium"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, api, http.MethodPost, "/api/v1/run/stop", `not json`).Code)
	assert.Equal(t, Running, ctrl.Level())
}

func TestAPITasks(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := do(t, api, http.MethodGet, "/api/v1/tasks?state=pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tasks []Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "a.md#1", tasks[0].ID)

	rec = do(t, api, http.MethodGet, "/api/v1/tasks/a.md%230", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var task Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.Equal(t, TaskRunning, task.State)

	assert.Equal(t, http.StatusNotFound, do(t, api, http.MethodGet, "/api/v1/tasks/zzz", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, api, http.MethodGet, "/api/v1/tasks?state=lost", "").Code)
}

func TestAPICORSHeaders(t *testing.T) {
	api, _ := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/run", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	rec := httptest.NewRecorder()
	api.ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
