package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kanri/internal/auth"
	"github.com/ashita-ai/kanri/internal/ratelimit"
	"github.com/ashita-ai/kanri/internal/server"
	"github.com/ashita-ai/kanri/internal/testutil"
)

// newTestServer builds a server in development mode (auth disabled).
func newTestServer(t *testing.T) *server.Server {
	t.Helper()
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	return server.New(server.Config{
		Manager:             testutil.NewManager(t),
		JWTMgr:              jwtMgr,
		Logger:              testutil.TestLogger(),
		Port:                0,
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// envelope mirrors the standard response shape for assertions.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta struct {
		RequestID string `json:"request_id"`
	} `json:"meta"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func createAgent(t *testing.T, h http.Handler, name string) {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/v1/agents", map[string]any{
		"name":    name,
		"content": "# " + name,
		"tier":    "project",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	env := decodeEnvelope(t, w)
	assert.NotEmpty(t, env.Meta.RequestID)
	assert.Contains(t, string(env.Data), `"status":"ok"`)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestCreateAgentEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv.Handler(), http.MethodPost, "/v1/agents", map[string]any{
		"name":       "engineer",
		"content":    "# Engineer",
		"tier":       "project",
		"agent_type": "engineer",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var result struct {
		Operation string         `json:"operation"`
		AgentName string         `json:"agent_name"`
		Success   bool           `json:"success"`
		Metadata  map[string]any `json:"metadata"`
	}
	env := decodeEnvelope(t, w)
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, "create", result.Operation)
	assert.Equal(t, "engineer", result.AgentName)
	assert.True(t, result.Success)
	assert.Equal(t, "1.0.0", result.Metadata["new_version"])
}

func TestCreateAgentInvalidTier(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv.Handler(), http.MethodPost, "/v1/agents", map[string]any{
		"name": "engineer", "content": "#", "tier": "global",
	}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_INPUT", env.Error.Code)
}

func TestCreateAgentDuplicate(t *testing.T) {
	srv := newTestServer(t)
	createAgent(t, srv.Handler(), "engineer")

	w := doJSON(t, srv.Handler(), http.MethodPost, "/v1/agents", map[string]any{
		"name": "engineer", "content": "# dup", "tier": "project",
	}, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "ALREADY_EXISTS", env.Error.Code)
}

func TestGetAgent(t *testing.T) {
	srv := newTestServer(t)
	createAgent(t, srv.Handler(), "engineer")

	w := doJSON(t, srv.Handler(), http.MethodGet, "/v1/agents/engineer", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	assert.Contains(t, string(env.Data), `"current_state":"active"`)

	w = doJSON(t, srv.Handler(), http.MethodGet, "/v1/agents/ghost", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	env = decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestAgentContentEndpoint(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	createAgent(t, h, "engineer")

	w := doJSON(t, h, http.MethodGet, "/v1/agents/engineer/content", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	env := decodeEnvelope(t, w)
	assert.Contains(t, string(env.Data), `"agent_name":"engineer"`)
	assert.Contains(t, string(env.Data), "# engineer")

	w = doJSON(t, h, http.MethodGet, "/v1/agents/ghost/content", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	env = decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestUpdateDeleteRestoreFlow(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	createAgent(t, h, "engineer")

	w := doJSON(t, h, http.MethodPut, "/v1/agents/engineer", map[string]any{
		"content": "# Engineer v2",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, h, http.MethodDelete, "/v1/agents/engineer", map[string]any{
		"reason": "cleanup",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Backup discovery shows the snapshot taken at delete time.
	w = doJSON(t, h, http.MethodGet, "/v1/agents/engineer/backups", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var paths []string
	env := decodeEnvelope(t, w)
	require.NoError(t, json.Unmarshal(env.Data, &paths))
	require.Len(t, paths, 1)

	w = doJSON(t, h, http.MethodPost, "/v1/agents/engineer/restore", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, h, http.MethodGet, "/v1/agents/engineer", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"current_state":"active"`)
}

func TestRestoreWithoutBackup(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv.Handler(), http.MethodPost, "/v1/agents/ghost/restore", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NO_BACKUP_AVAILABLE", env.Error.Code)
}

func TestMigrateEndpoint(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	createAgent(t, h, "engineer")

	w := doJSON(t, h, http.MethodPost, "/v1/agents/engineer/migrate", map[string]any{
		"target_tier": "user",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, h, http.MethodGet, "/v1/agents/engineer", nil, nil)
	assert.Contains(t, w.Body.String(), `"tier":"user"`)
}

func TestValidateEndpoint(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	createAgent(t, h, "engineer")

	w := doJSON(t, h, http.MethodPost, "/v1/agents/engineer/validate", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestListAgentsStateFilter(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	createAgent(t, h, "alpha")
	createAgent(t, h, "beta")
	w := doJSON(t, h, http.MethodDelete, "/v1/agents/beta", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/v1/agents?state=active", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var records []map[string]any
	env := decodeEnvelope(t, w)
	require.NoError(t, json.Unmarshal(env.Data, &records))
	require.Len(t, records, 1)
	assert.Equal(t, "alpha", records[0]["agent_name"])

	w = doJSON(t, h, http.MethodGet, "/v1/agents?state=bogus", nil, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOperationsAndStats(t *testing.T) {
	srv := newTestServer(t)
	h := srv.Handler()
	createAgent(t, h, "alpha")
	createAgent(t, h, "beta")

	w := doJSON(t, h, http.MethodGet, "/v1/operations?agent=alpha", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ops []map[string]any
	env := decodeEnvelope(t, w)
	require.NoError(t, json.Unmarshal(env.Data, &ops))
	require.Len(t, ops, 1)
	assert.Equal(t, "create", ops[0]["operation"])

	w = doJSON(t, h, http.MethodGet, "/v1/stats", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		TotalAgents int `json:"total_agents"`
		Performance struct {
			TotalOperations int `json:"total_operations"`
		} `json:"performance_metrics"`
	}
	env = decodeEnvelope(t, w)
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 2, stats.TotalAgents)
	assert.Equal(t, 2, stats.Performance.TotalOperations)
}

func TestOpenAPISpecRoute(t *testing.T) {
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	srv := server.New(server.Config{
		Manager:             testutil.NewManager(t),
		JWTMgr:              jwtMgr,
		Logger:              testutil.TestLogger(),
		Port:                0,
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
		OpenAPISpec:         []byte("openapi: 3.1.0\n"),
	})

	w := doJSON(t, srv.Handler(), http.MethodGet, "/openapi.yaml", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/yaml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "openapi: 3.1.0")
}

func TestRateLimiting(t *testing.T) {
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	limiter := ratelimit.NewMemoryLimiter(1, 2)
	t.Cleanup(func() { _ = limiter.Close() })

	srv := server.New(server.Config{
		Manager:             testutil.NewManager(t),
		JWTMgr:              jwtMgr,
		Logger:              testutil.TestLogger(),
		Port:                0,
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
		RateLimiter:         limiter,
	})
	h := srv.Handler()

	// Burst of 2 is allowed, the third request from the same client is not.
	for i := 0; i < 2; i++ {
		w := doJSON(t, h, http.MethodGet, "/v1/agents", nil, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	w := doJSON(t, h, http.MethodGet, "/v1/agents", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "RATE_LIMITED", env.Error.Code)
}

func TestCustomMiddlewareWrapsAllRoutes(t *testing.T) {
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	tag := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Custom", "yes")
			next.ServeHTTP(w, r)
		})
	}

	srv := server.New(server.Config{
		Manager:             testutil.NewManager(t),
		JWTMgr:              jwtMgr,
		Logger:              testutil.TestLogger(),
		Port:                0,
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
		Middlewares:         []func(http.Handler) http.Handler{tag},
	})

	w := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "yes", w.Header().Get("X-Custom"))
}

func TestMalformedBody(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/agents", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// newAuthServer builds a server with authentication enabled and returns the
// JWT manager for minting test tokens.
func newAuthServer(t *testing.T, apiKey string) (*server.Server, *auth.JWTManager) {
	t.Helper()
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	keyHash, err := auth.HashAPIKey(apiKey)
	require.NoError(t, err)

	srv := server.New(server.Config{
		Manager:             testutil.NewManager(t),
		JWTMgr:              jwtMgr,
		Logger:              testutil.TestLogger(),
		AdminKeyHash:        keyHash,
		Port:                0,
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
	})
	return srv, jwtMgr
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newAuthServer(t, "secret-key")
	h := srv.Handler()

	w := doJSON(t, h, http.MethodGet, "/v1/agents", nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Health stays open.
	w = doJSON(t, h, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthTokenFlow(t *testing.T) {
	srv, _ := newAuthServer(t, "secret-key")
	h := srv.Handler()

	// Wrong key is rejected.
	w := doJSON(t, h, http.MethodPost, "/auth/token", map[string]any{
		"agent_id": "ops", "api_key": "wrong",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Right key yields a token that opens the API.
	w = doJSON(t, h, http.MethodPost, "/auth/token", map[string]any{
		"agent_id": "ops", "api_key": "secret-key",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var tok struct {
		Token string `json:"token"`
	}
	env := decodeEnvelope(t, w)
	require.NoError(t, json.Unmarshal(env.Data, &tok))
	require.NotEmpty(t, tok.Token)

	w = doJSON(t, h, http.MethodPost, "/v1/agents", map[string]any{
		"name": "engineer", "content": "# Engineer", "tier": "project",
	}, map[string]string{"Authorization": "Bearer " + tok.Token})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestReaderCannotMutate(t *testing.T) {
	srv, jwtMgr := newAuthServer(t, "secret-key")
	h := srv.Handler()

	readerToken, _, err := jwtMgr.IssueToken("viewer", auth.RoleReader)
	require.NoError(t, err)
	headers := map[string]string{"Authorization": "Bearer " + readerToken}

	w := doJSON(t, h, http.MethodPost, "/v1/agents", map[string]any{
		"name": "engineer", "content": "# Engineer", "tier": "project",
	}, headers)
	require.Equal(t, http.StatusForbidden, w.Code)

	// Reads are allowed.
	w = doJSON(t, h, http.MethodGet, "/v1/agents", nil, headers)
	assert.Equal(t, http.StatusOK, w.Code)
}
