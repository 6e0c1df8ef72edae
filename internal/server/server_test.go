package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kouba/internal/auth"
	"github.com/ashita-ai/kouba/internal/dispatch"
	"github.com/ashita-ai/kouba/internal/mcp"
	"github.com/ashita-ai/kouba/internal/model"
	"github.com/ashita-ai/kouba/internal/ratelimit"
	"github.com/ashita-ai/kouba/internal/registry"
	"github.com/ashita-ai/kouba/internal/server"
	"github.com/ashita-ai/kouba/internal/storage"
	"github.com/ashita-ai/kouba/internal/testutil"
	"github.com/ashita-ai/kouba/internal/tools"
)

var (
	testSrv     *httptest.Server
	testDB      *storage.DB
	testHasher  = auth.NewHasher(auth.Params{Time: 1, Memory: 64, Threads: 1, KeyLen: 32})
	testAuditor *dispatch.Auditor

	tenantA, tenantB testutil.Fixture
	keyA, keyB       string
	keyAFetchOnly    string
)

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	code := setupAndRun(m, tc)
	tc.Terminate()
	os.Exit(code)
}

func setupAndRun(m *testing.M, tc *testutil.TestContainer) int {
	ctx := context.Background()
	logger := testutil.TestLogger()

	var err error
	testDB, err = tc.NewTestDB(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "server test: create DB: %v\n", err)
		return 1
	}
	defer testDB.Close()

	// Both tenants use the same ids so isolation failures would be visible.
	if tenantA, err = testutil.SeedTenant(ctx, tc.Owner, "acme", ""); err != nil {
		fmt.Fprintf(os.Stderr, "server test: seed tenant A: %v\n", err)
		return 1
	}
	if tenantB, err = testutil.SeedTenant(ctx, tc.Owner, "globex", ""); err != nil {
		fmt.Fprintf(os.Stderr, "server test: seed tenant B: %v\n", err)
		return 1
	}

	for _, k := range []struct {
		dst     *string
		tenant  uuid.UUID
		allowed []string
	}{
		{&keyA, tenantA.TenantID, []string{model.AllTools}},
		{&keyB, tenantB.TenantID, []string{model.AllTools}},
		{&keyAFetchOnly, tenantA.TenantID, []string{"fetch_jobs"}},
	} {
		raw, _, err := mint(ctx, k.tenant, k.allowed, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "server test: mint key: %v\n", err)
			return 1
		}
		*k.dst = raw
	}

	limiter, err := ratelimit.NewMemoryLimiter(time.Minute)
	if err != nil {
		fmt.Fprintf(os.Stderr, "server test: limiter: %v\n", err)
		return 1
	}
	defer func() { _ = limiter.Close() }()

	reg := registry.New()
	tools.Register(reg, nil)
	validator := auth.NewValidator(testDB, testHasher, logger)
	defer validator.Wait()
	testAuditor = dispatch.NewAuditor(testDB, logger, dispatch.AuditorOptions{})

	d := dispatch.New(dispatch.Deps{
		Registry:  reg,
		Validator: validator,
		Limiter:   limiter,
		Binder:    testDB,
		Auditor:   testAuditor,
		Logger:    logger,
	})

	srv := server.New(server.ServerConfig{
		Dispatcher:          d,
		Logger:              logger,
		DB:                  testDB,
		MCP:                 mcp.New(d, logger, "test").HTTPHandler(),
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})
	testSrv = httptest.NewServer(srv.Handler())
	defer testSrv.Close()

	code := m.Run()
	_ = testAuditor.Drain(ctx)
	return code
}

func mint(ctx context.Context, tenantID uuid.UUID, allowed []string, rateLimit int) (string, model.APIKey, error) {
	raw, prefix, err := model.GenerateRawKey(model.EnvTest)
	if err != nil {
		return "", model.APIKey{}, err
	}
	hash, err := testHasher.Hash(raw)
	if err != nil {
		return "", model.APIKey{}, err
	}
	key, err := testutil.MintKey(ctx, testDB, tenantID, prefix, hash, allowed, rateLimit)
	return raw, key, err
}

type callResult struct {
	Data struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	} `json:"data"`
}

func (c callResult) text() string {
	if len(c.Data.Content) == 0 {
		return ""
	}
	return c.Data.Content[0].Text
}

func callTool(t *testing.T, key, tool string, args map[string]any) callResult {
	t.Helper()
	body, err := json.Marshal(map[string]any{"tool": tool, "arguments": args})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, testSrv.URL+"/v1/tools/call", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode, "tool calls always answer 200")

	var out callResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func getJSON(t *testing.T, path, key string, target any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, testSrv.URL+path, nil)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
	return resp.StatusCode
}

func drainAudits(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, testAuditor.Drain(ctx))
}

func TestHealth(t *testing.T) {
	var resp struct {
		Data struct {
			Status    string   `json:"status"`
			Name      string   `json:"name"`
			Version   string   `json:"version"`
			ToolCount int      `json:"tool_count"`
			Tools     []string `json:"tools"`
			Database  bool     `json:"database"`
		} `json:"data"`
	}
	status := getJSON(t, "/health", "", &resp)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", resp.Data.Status)
	assert.True(t, resp.Data.Database)
	assert.Equal(t, "kouba", resp.Data.Name)
	assert.Equal(t, "test", resp.Data.Version)
	assert.Equal(t, 24, resp.Data.ToolCount)
	assert.Len(t, resp.Data.Tools, 24)
	assert.Contains(t, resp.Data.Tools, "update_job")
}

func TestRequestIDRoundTrip(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, testSrv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "trace-me")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "trace-me", resp.Header.Get("X-Request-ID"))
}

func TestListTools(t *testing.T) {
	type listResp struct {
		Data struct {
			Tools []struct {
				Name     string `json:"name"`
				Category string `json:"category"`
			} `json:"tools"`
			Count int `json:"count"`
		} `json:"data"`
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}

	var none listResp
	assert.Equal(t, http.StatusUnauthorized, getJSON(t, "/v1/tools", "", &none))
	assert.Equal(t, "missing_credential", none.Error.Code)

	var bad listResp
	assert.Equal(t, http.StatusUnauthorized, getJSON(t, "/v1/tools", "kb_test_00000000_00000000000000000000000000000000", &bad))
	assert.Equal(t, "invalid_credential", bad.Error.Code)

	var restricted listResp
	require.Equal(t, http.StatusOK, getJSON(t, "/v1/tools", keyAFetchOnly, &restricted))
	require.Equal(t, 1, restricted.Data.Count)
	assert.Equal(t, "fetch_jobs", restricted.Data.Tools[0].Name)
	assert.Equal(t, "jobs", restricted.Data.Tools[0].Category)

	var all listResp
	require.Equal(t, http.StatusOK, getJSON(t, "/v1/tools", keyA, &all))
	assert.Equal(t, 24, all.Data.Count)
}

func TestCallTool_TenantIsolation(t *testing.T) {
	res := callTool(t, keyA, "update_job", map[string]any{"id": tenantA.JobID, "status": "on_hold", "notes": "waiting on steel"})
	require.False(t, res.Data.IsError, res.text())

	var job model.Job
	require.NoError(t, json.Unmarshal([]byte(res.text()), &job))
	assert.Equal(t, model.StatusOnHold, job.Status)
	assert.Equal(t, tenantA.TenantID, job.TenantID)

	res = callTool(t, keyB, "fetch_jobs", nil)
	require.False(t, res.Data.IsError, res.text())
	var list struct {
		Jobs []model.Job `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.text()), &list))
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, tenantB.TenantID, list.Jobs[0].TenantID)
	assert.Equal(t, model.StatusNotStarted, list.Jobs[0].Status, "tenant B's job with the same id is untouched")
}

func TestCallTool_Forbidden(t *testing.T) {
	res := callTool(t, keyAFetchOnly, "update_job", map[string]any{"id": tenantA.JobID, "priority": 5})
	require.True(t, res.Data.IsError)
	assert.True(t, strings.HasPrefix(res.text(), "forbidden: "), res.text())
	assert.Contains(t, res.text(), "fetch_jobs")
}

func TestCallTool_ErrorsTravelInEnvelope(t *testing.T) {
	tests := []struct {
		name string
		key  string
		tool string
		args map[string]any
		kind string
	}{
		{"missing credential", "", "fetch_jobs", nil, "missing_credential"},
		{"unknown tool", keyA, "drop_tables", nil, "unknown_tool"},
		{"bad argument type", keyA, "update_job", map[string]any{"id": 7}, "validation_error"},
		{"unknown id", keyA, "start_job", map[string]any{"id": "NOPE"}, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := callTool(t, tt.key, tt.tool, tt.args)
			require.True(t, res.Data.IsError)
			assert.True(t, strings.HasPrefix(res.text(), tt.kind+": "), res.text())
		})
	}
}

func TestCallTool_UsageRecorded(t *testing.T) {
	ctx := context.Background()
	raw, key, err := mint(ctx, tenantA.TenantID, []string{model.AllTools}, 0)
	require.NoError(t, err)

	callTool(t, raw, "fetch_operations", map[string]any{"cell": "LASER-1"})
	callTool(t, raw, "start_job", map[string]any{"id": "NOPE"})
	drainAudits(t)

	entries, err := testDB.ListUsage(ctx, tenantA.TenantID, storage.UsageFilter{KeyID: key.ID})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byTool := map[string]model.UsageLogEntry{}
	for _, e := range entries {
		byTool[e.ToolName] = e
	}
	assert.True(t, byTool["fetch_operations"].Success)
	assert.Equal(t, "LASER-1", byTool["fetch_operations"].Arguments["cell"])
	assert.False(t, byTool["start_job"].Success)
	assert.Equal(t, "not_found", byTool["start_job"].ErrorKind)
	assert.NotEmpty(t, byTool["start_job"].RequestID)
}

func TestCallTool_RevocationIsImmediate(t *testing.T) {
	ctx := context.Background()
	raw, key, err := mint(ctx, tenantA.TenantID, []string{model.AllTools}, 0)
	require.NoError(t, err)

	res := callTool(t, raw, "fetch_jobs", nil)
	require.False(t, res.Data.IsError, res.text())

	require.NoError(t, testDB.RevokeAPIKey(ctx, tenantA.TenantID, key.ID))
	res = callTool(t, raw, "fetch_jobs", nil)
	require.True(t, res.Data.IsError)
	assert.True(t, strings.HasPrefix(res.text(), "invalid_credential: "), res.text())
}

func TestCallTool_RateLimited(t *testing.T) {
	raw, _, err := mint(context.Background(), tenantA.TenantID, []string{model.AllTools}, 2)
	require.NoError(t, err)

	for range 2 {
		res := callTool(t, raw, "fetch_parts", nil)
		require.False(t, res.Data.IsError, res.text())
	}
	res := callTool(t, raw, "fetch_parts", nil)
	require.True(t, res.Data.IsError)
	assert.True(t, strings.HasPrefix(res.text(), "rate_limited: "), res.text())
}

func TestCallTool_MalformedBody(t *testing.T) {
	for _, body := range []string{`not json`, `{"tool": "fetch_jobs", "extra": 1}`, `{"arguments": {}}`} {
		resp, err := http.Post(testSrv.URL+"/v1/tools/call", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

// newMCPClient creates an MCP client that connects to the test server's /mcp
// endpoint with the given headers.
func newMCPClient(t *testing.T, headers map[string]string) *mcpclient.Client {
	t.Helper()
	c, err := mcpclient.NewStreamableHttpClient(
		testSrv.URL+"/mcp",
		mcptransport.WithHTTPHeaders(headers),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, err = c.Initialize(context.Background(), mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ProtocolVersion: mcplib.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)
	return c
}

func TestMCPInitialize(t *testing.T) {
	c, err := mcpclient.NewStreamableHttpClient(testSrv.URL + "/mcp")
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	initResult, err := c.Initialize(context.Background(), mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ProtocolVersion: mcplib.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "kouba", initResult.ServerInfo.Name)
	assert.Equal(t, "test", initResult.ServerInfo.Version)
}

func TestMCPListTools(t *testing.T) {
	ctx := context.Background()

	restricted := newMCPClient(t, map[string]string{"X-API-Key": keyAFetchOnly})
	res, err := restricted.ListTools(ctx, mcplib.ListToolsRequest{})
	require.NoError(t, err)
	require.Len(t, res.Tools, 1)
	assert.Equal(t, "fetch_jobs", res.Tools[0].Name)

	full := newMCPClient(t, map[string]string{"Authorization": "Bearer " + keyA})
	res, err = full.ListTools(ctx, mcplib.ListToolsRequest{})
	require.NoError(t, err)
	assert.Len(t, res.Tools, 24)

	anonymous := newMCPClient(t, nil)
	res, err = anonymous.ListTools(ctx, mcplib.ListToolsRequest{})
	require.NoError(t, err)
	assert.Empty(t, res.Tools)
}

func TestMCPCallTool(t *testing.T) {
	ctx := context.Background()
	c := newMCPClient(t, map[string]string{"Authorization": "Bearer " + keyB})

	result, err := c.CallTool(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "start_task",
			Arguments: map[string]any{"id": tenantB.TaskID},
		},
	})
	require.NoError(t, err)
	require.False(t, result.IsError, "start_task returned error: %v", result.Content)

	text := result.Content[0].(mcplib.TextContent).Text
	var task model.Task
	require.NoError(t, json.Unmarshal([]byte(text), &task))
	assert.Equal(t, model.StatusInProgress, task.Status)
	assert.NotNil(t, task.StartedAt)

	result, err = c.CallTool(ctx, mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      "update_task",
			Arguments: map[string]any{"id": tenantB.TaskID, "status": "exploded"},
		},
	})
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.True(t, strings.HasPrefix(result.Content[0].(mcplib.TextContent).Text, "validation_error: "))
}
