package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kanri/internal/testutil"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return New(testutil.NewManager(t), "test", testutil.TestLogger())
}

// toolRequest builds a CallToolRequest for the named tool with the given arguments.
func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

func mustCreate(t *testing.T, s *Server, name string) {
	t.Helper()
	result, err := s.handleCreateAgent(context.Background(), toolRequest("kanri_create_agent", map[string]any{
		"name":    name,
		"content": "# " + name + "\nYou are " + name + ".",
		"tier":    "project",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "create should succeed: %s", parseToolText(t, result))
}

func TestHandleCreateAgent(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleCreateAgent(context.Background(), toolRequest("kanri_create_agent", map[string]any{
		"name":       "kakeru",
		"content":    "# Kakeru\nYou are a build engineer.",
		"tier":       "user",
		"agent_type": "engineer",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, "expected successful create: %s", parseToolText(t, result))

	var resp struct {
		Operation string `json:"operation"`
		AgentName string `json:"agent_name"`
		Success   bool   `json:"success"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, "create", resp.Operation)
	assert.Equal(t, "kakeru", resp.AgentName)
	assert.True(t, resp.Success)
}

func TestHandleCreateAgent_MissingFields(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleCreateAgent(context.Background(), toolRequest("kanri_create_agent", map[string]any{
		"name": "incomplete",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "name, content, and tier are required")
}

func TestHandleCreateAgent_Duplicate(t *testing.T) {
	s := newTestServer(t)
	mustCreate(t, s, "futago")

	result, err := s.handleCreateAgent(context.Background(), toolRequest("kanri_create_agent", map[string]any{
		"name":    "futago",
		"content": "# Futago again",
		"tier":    "project",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "ALREADY_EXISTS")
}

func TestHandleUpdateAgent(t *testing.T) {
	s := newTestServer(t)
	mustCreate(t, s, "naoru")

	result, err := s.handleUpdateAgent(context.Background(), toolRequest("kanri_update_agent", map[string]any{
		"name":    "naoru",
		"content": "# Naoru v2",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var resp struct {
		Success  bool           `json:"success"`
		Metadata map[string]any `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "1.0.1", resp.Metadata["new_version"])
}

func TestHandleUpdateAgent_NotFound(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleUpdateAgent(context.Background(), toolRequest("kanri_update_agent", map[string]any{
		"name":    "ghost",
		"content": "# Ghost",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "NOT_FOUND")
}

func TestHandleDeleteAndRestoreAgent(t *testing.T) {
	s := newTestServer(t)
	mustCreate(t, s, "modoru")

	result, err := s.handleDeleteAgent(context.Background(), toolRequest("kanri_delete_agent", map[string]any{
		"name":   "modoru",
		"reason": "retired",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	result, err = s.handleRestoreAgent(context.Background(), toolRequest("kanri_restore_agent", map[string]any{
		"name": "modoru",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var resp struct {
		Operation string `json:"operation"`
		Success   bool   `json:"success"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, "restore", resp.Operation)
	assert.True(t, resp.Success)
}

func TestHandleAgentStatus(t *testing.T) {
	s := newTestServer(t)
	mustCreate(t, s, "shiraberu")

	result, err := s.handleAgentStatus(context.Background(), toolRequest("kanri_agent_status", map[string]any{
		"name": "shiraberu",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var rec struct {
		AgentName    string `json:"agent_name"`
		CurrentState string `json:"current_state"`
		Version      string `json:"version"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &rec))
	assert.Equal(t, "shiraberu", rec.AgentName)
	assert.Equal(t, "active", rec.CurrentState)
	assert.Equal(t, "1.0.0", rec.Version)

	result, err = s.handleAgentStatus(context.Background(), toolRequest("kanri_agent_status", map[string]any{
		"name": "ghost",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleListAgents(t *testing.T) {
	s := newTestServer(t)
	mustCreate(t, s, "hitori")
	mustCreate(t, s, "futari")

	result, err := s.handleListAgents(context.Background(), toolRequest("kanri_list_agents", nil))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var resp struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, 2, resp.Total)

	// Filtering by a state with no members returns an empty list, not an error.
	result, err = s.handleListAgents(context.Background(), toolRequest("kanri_list_agents", map[string]any{
		"state": "deleted",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &resp))
	assert.Equal(t, 0, resp.Total)

	// Unknown state strings are rejected.
	result, err = s.handleListAgents(context.Background(), toolRequest("kanri_list_agents", map[string]any{
		"state": "bogus",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
