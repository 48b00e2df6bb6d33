package kanri

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newAuthedServer returns a test server that issues tokens at /auth/token
// and delegates everything else to handler. tokenCalls counts issuances.
func newAuthedServer(t *testing.T, tokenCalls *atomic.Int32, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/token" {
			tokenCalls.Add(1)
			var req authRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.APIKey != "sekrit" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writeData(t, w, http.StatusOK, map[string]any{
				"token":      "test-token",
				"expires_at": time.Now().Add(time.Hour),
			})
			return
		}
		handler(w, r)
	}))
}

func writeData(t *testing.T, w http.ResponseWriter, status int, data any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"data": data}))
}

func writeAPIError(t *testing.T, w http.ResponseWriter, status int, code, msg string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": msg},
	}))
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorContains(t, err, "BaseURL is required")

	_, err = NewClient(Config{BaseURL: "http://localhost:8080", APIKey: "k"})
	assert.ErrorContains(t, err, "AgentID is required")

	// No credentials at all is fine: development-mode servers need none.
	c, err := NewClient(Config{BaseURL: "http://localhost:8080/"})
	require.NoError(t, err)
	assert.Nil(t, c.tokenMgr)
	assert.Equal(t, "http://localhost:8080", c.baseURL)
}

func TestTokenReuse(t *testing.T) {
	var tokenCalls atomic.Int32
	srv := newAuthedServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		writeData(t, w, http.StatusOK, []AgentRecord{})
	})
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, AgentID: "ops", APIKey: "sekrit"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := c.ListAgents(context.Background(), "")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), tokenCalls.Load(), "token should be cached across requests")
}

func TestCreateAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/agents", r.URL.Path)
		var req CreateAgentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "kakeru", req.Name)
		assert.Equal(t, TierProject, req.Tier)

		writeData(t, w, http.StatusCreated, OperationResult{
			Operation: "create",
			AgentName: req.Name,
			Success:   true,
			Metadata:  map[string]any{"new_version": "1.0.0"},
		})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	res, err := c.CreateAgent(context.Background(), CreateAgentRequest{
		Name:    "kakeru",
		Content: "# Kakeru",
		Tier:    TierProject,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "create", res.Operation)
	assert.Equal(t, "1.0.0", res.Metadata["new_version"])
}

func TestCreateAgentConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(t, w, http.StatusConflict, "ALREADY_EXISTS", "agent already exists")
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.CreateAgent(context.Background(), CreateAgentRequest{Name: "dup", Content: "x", Tier: TierUser})
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "ALREADY_EXISTS", apiErr.Code)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
}

func TestGetAgentNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(t, w, http.StatusNotFound, "NOT_FOUND", "no agent named \"ghost\"")
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.GetAgent(context.Background(), "ghost")
	assert.True(t, IsNotFound(err))
}

func TestDeleteAgentSendsReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "retired", body["reason"])
		writeData(t, w, http.StatusOK, OperationResult{Operation: "delete", AgentName: "old", Success: true})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	res, err := c.DeleteAgent(context.Background(), "old", "retired")
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestListAgentsStateFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, StateDeleted, r.URL.Query().Get("state"))
		writeData(t, w, http.StatusOK, []AgentRecord{
			{AgentName: "old", CurrentState: StateDeleted, Version: "1.0.2"},
		})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	records, err := c.ListAgents(context.Background(), StateDeleted)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "old", records[0].AgentName)
}

func TestAgentContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/agents/engineer/content", r.URL.Path)
		writeData(t, w, http.StatusOK, AgentContentResponse{
			AgentName: "engineer",
			Content:   "# Engineer\nYou write code.",
		})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	content, err := c.AgentContent(context.Background(), "engineer")
	require.NoError(t, err)
	assert.Equal(t, "engineer", content.AgentName)
	assert.Contains(t, content.Content, "You write code.")
}

func TestMigrateAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/agents/runner/migrate", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, TierUser, body["target_tier"])
		writeData(t, w, http.StatusOK, OperationResult{Operation: "migrate", AgentName: "runner", Success: true})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	res, err := c.MigrateAgent(context.Background(), "runner", TierUser)
	require.NoError(t, err)
	assert.Equal(t, "migrate", res.Operation)
}

func TestStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeData(t, w, http.StatusOK, StatsReport{
			TotalAgents:   2,
			AgentsByState: map[string]int{StateActive: 2},
			Performance:   OperationStats{TotalOperations: 5, SuccessfulOperations: 5},
		})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalAgents)
	assert.Equal(t, 5, stats.Performance.TotalOperations)
}

func TestHealthSkipsAuth(t *testing.T) {
	var tokenCalls atomic.Int32
	srv := newAuthedServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		writeData(t, w, http.StatusOK, HealthResponse{Status: "ok", Version: "test"})
	})
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, AgentID: "ops", APIKey: "sekrit"})
	require.NoError(t, err)

	health, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, int32(0), tokenCalls.Load(), "health must not trigger token acquisition")
}

func TestHandleResponseFallbackWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(HealthResponse{Status: "ok"}))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	health, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
}
