package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4dn-dcic/foursight-sub000/internal/checks"
	"github.com/4dn-dcic/foursight-sub000/internal/connection"
	"github.com/4dn-dcic/foursight-sub000/internal/queue"
	"github.com/4dn-dcic/foursight-sub000/internal/result"
	"github.com/4dn-dcic/foursight-sub000/internal/runner"
	"github.com/4dn-dcic/foursight-sub000/internal/store"
	"github.com/4dn-dcic/foursight-sub000/internal/store/memory"
	"github.com/4dn-dcic/foursight-sub000/internal/testutil"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

type testEnv struct {
	ts      *httptest.Server
	conn    *connection.Connection
	backend *memory.Backend
	sqs     *testutil.FakeSQS
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	return setupTestServerWithOpts(t, types.ServerConfig{}, false)
}

func setupTestServerWithOpts(t *testing.T, cfg types.ServerConfig, withQueue bool) *testEnv {
	t.Helper()
	reg, err := checks.Default()
	require.NoError(t, err)

	backend := memory.New()
	conn := connection.New("test", store.New(backend))
	conn.Names = reg.Names()

	env := &testEnv{conn: conn, backend: backend}
	var q *queue.Queue
	if withQueue {
		env.sqs = testutil.NewFakeSQS()
		q, err = queue.New(context.Background(), &types.QueueConfig{URL: "https://sqs.local/checks"}, queue.WithClient(env.sqs))
		require.NoError(t, err)
	}

	srv := New(cfg, runner.New(reg), conn, q, nil)
	env.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(env.ts.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var out map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t)

	code, body := env.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "memory", body["backend"])
}

func TestHealthEndpoint_Degraded(t *testing.T) {
	env := setupTestServer(t)
	env.backend.SetErr(assert.AnError)

	code, body := env.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", body["status"])
}

func TestListChecks(t *testing.T) {
	env := setupTestServer(t)

	resp, err := http.Get(env.ts.URL + "/api/checks")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var list []map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	names := map[string]string{}
	for _, c := range list {
		names[c["check_string"].(string)] = c["kind"].(string)
	}
	assert.Equal(t, "check", names["test_checks/always_pass"])
	assert.Equal(t, "action", names["test_checks/noop_action"])
}

func TestRunAndRetrieve(t *testing.T) {
	env := setupTestServer(t)

	code, run := env.do(t, http.MethodPost, "/api/checks/test_checks/always_pass/run", `{"kwargs":{"primary":true}}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "PASS", run["status"])
	uuid, _ := run["uuid"].(string)
	require.NotEmpty(t, uuid)

	for _, path := range []string{
		"/api/results/always_pass/latest",
		"/api/results/always_pass/primary",
		"/api/results/always_pass/closest",
		"/api/results/always_pass/" + uuid,
	} {
		code, got := env.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, code, path)
		assert.Equal(t, uuid, got["uuid"], path)
	}

	resp, err := http.Get(env.ts.URL + "/api/results/always_pass/history?limit=5")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var history []types.HistoryEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	require.Len(t, history, 1)
	assert.Equal(t, "PASS", history[0].Status)
}

func TestResultNotFound(t *testing.T) {
	env := setupTestServer(t)

	for _, path := range []string{
		"/api/results/never_ran/latest",
		"/api/results/never_ran/primary",
		"/api/results/never_ran/closest",
		"/api/results/never_ran/2024-01-01T00:00:00.000000",
	} {
		code, body := env.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, code, path)
		assert.NotEmpty(t, body["error"], path)
	}
}

func TestClosest_ExcludeErrors(t *testing.T) {
	env := setupTestServer(t)

	code, run := env.do(t, http.MethodPost, "/api/checks/test_checks/divide_by_zero/run", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ERROR", run["status"])

	code, _ = env.do(t, http.MethodGet, "/api/results/divide_by_zero/closest", "")
	assert.Equal(t, http.StatusOK, code)

	code, body := env.do(t, http.MethodGet, "/api/results/divide_by_zero/closest?exclude_errors=true", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body["error"], "no non-error results")

	code, _ = env.do(t, http.MethodGet, "/api/results/divide_by_zero/closest?hours=abc", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRun_DispatchError(t *testing.T) {
	env := setupTestServer(t)

	code, body := env.do(t, http.MethodPost, "/api/checks/nope/always_pass/run", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "ERROR. Check module is not valid. Got: nope", body["error"])

	code, body = env.do(t, http.MethodPost, "/api/checks/test_checks/nope/run", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body["error"], "Check name is not valid")
}

func TestRun_InvalidJSON(t *testing.T) {
	env := setupTestServer(t)
	code, _ := env.do(t, http.MethodPost, "/api/checks/test_checks/always_pass/run", "{")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRun_DuplicateActionSkipped(t *testing.T) {
	env := setupTestServer(t)
	body := `{"kwargs":{"check_name":"always_warn","called_by":"2024-01-01T00:00:00.000000"}}`

	code, first := env.do(t, http.MethodPost, "/api/checks/test_checks/noop_action/run", body)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "DONE", first["status"])

	code, second := env.do(t, http.MethodPost, "/api/checks/test_checks/noop_action/run", body)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "skipped", second["status"])
}

func TestRun_Queued(t *testing.T) {
	env := setupTestServerWithOpts(t, types.ServerConfig{}, true)

	code, body := env.do(t, http.MethodPost, "/api/checks/test_checks/always_pass/run", `{"queue":true}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.NotEmpty(t, body["uuid"])
	require.Len(t, env.sqs.Bodies(), 1)

	code, _ = env.do(t, http.MethodPost, "/api/checks/test_checks/missing/run", `{"queue":true}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Len(t, env.sqs.Bodies(), 1, "unknown checks are not queued")
}

func TestRun_QueueNotConfigured(t *testing.T) {
	env := setupTestServer(t)
	code, _ := env.do(t, http.MethodPost, "/api/checks/test_checks/always_pass/run", `{"queue":true}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDeleteResults(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		c := env.conn.CheckResult("always_pass")
		c.Status = types.CheckPass
		c.Kwargs = types.Kwargs{types.KwargUUID: result.NewUUID(base.Add(time.Duration(i) * time.Hour)), types.KwargPrimary: i == 0}
		_, err := c.StoreResult(ctx)
		require.NoError(t, err)
	}

	code, body := env.do(t, http.MethodDelete, "/api/results/always_pass?dry_run=true", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["deleted"], "primary is preserved")
	assert.Len(t, env.conn.Results("always_pass").GetAllResults(ctx), 3)

	code, body = env.do(t, http.MethodDelete, "/api/results/always_pass?prior_date=2024-01-01T01:30:00Z", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["deleted"])
	assert.Len(t, env.conn.Results("always_pass").GetAllResults(ctx), 2)

	code, _ = env.do(t, http.MethodDelete, "/api/results/always_pass?prior_date=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAPIKeyAuth(t *testing.T) {
	env := setupTestServerWithOpts(t, types.ServerConfig{APIKey: "test-secret"}, false)

	tests := []struct {
		name string
		path string
		key  string
		want int
	}{
		{"valid", "/api/checks", "test-secret", http.StatusOK},
		{"invalid", "/api/checks", "wrong-key", http.StatusUnauthorized},
		{"missing", "/api/checks", "", http.StatusUnauthorized},
		{"health bypass", "/api/health", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, env.ts.URL+tt.path, nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestMaxBody_Enforced(t *testing.T) {
	env := setupTestServerWithOpts(t, types.ServerConfig{MaxBodySize: 50}, false)

	big := `{"kwargs":{"note":"` + strings.Repeat("x", 200) + `"}}`
	code, _ := env.do(t, http.MethodPost, "/api/checks/test_checks/always_pass/run", big)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRequestIDHeader(t *testing.T) {
	env := setupTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "abc123", resp.Header.Get("X-Request-ID"))

	resp2, err := http.Get(env.ts.URL + "/api/health")
	require.NoError(t, err)
	defer func() { _ = resp2.Body.Close() }()
	assert.Len(t, resp2.Header.Get("X-Request-ID"), 26, "generated ids are ULIDs")
}
