// Package mcp implements the Model Context Protocol server for Kanri.
//
// The MCP server exposes the lifecycle manager's capabilities as tools so
// MCP-compatible AI agents can manage agent definitions the same way the
// HTTP API does.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kanri/internal/lifecycle"
	"github.com/ashita-ai/kanri/internal/model"
)

// Server wraps the MCP server around the lifecycle manager.
type Server struct {
	mcpServer *mcpserver.MCPServer
	mgr       *lifecycle.Manager
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools registered.
func New(mgr *lifecycle.Manager, version string, logger *slog.Logger) *Server {
	s := &Server{
		mgr:    mgr,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kanri",
		version,
		mcpserver.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	// kanri_create_agent — register a new agent definition.
	s.mcpServer.AddTool(
		mcplib.NewTool("kanri_create_agent",
			mcplib.WithDescription(`Create a new agent definition in a tier.

The definition is Markdown text (optionally with YAML frontmatter). Tiers
shadow each other on read: project > user > system. Fails if the name
already exists in the target tier.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithString("name",
				mcplib.Description("Agent name: 1-255 ASCII alphanumerics, dots, hyphens, underscores"),
				mcplib.Required(),
			),
			mcplib.WithString("content",
				mcplib.Description("The agent definition as Markdown text"),
				mcplib.Required(),
			),
			mcplib.WithString("tier",
				mcplib.Description("Storage tier: system, user, or project"),
				mcplib.Required(),
				mcplib.Enum("system", "user", "project"),
			),
			mcplib.WithString("agent_type",
				mcplib.Description("Optional free-form agent category (e.g. engineer, qa, research)"),
			),
		),
		s.handleCreateAgent,
	)

	// kanri_update_agent — replace an agent's content.
	s.mcpServer.AddTool(
		mcplib.NewTool("kanri_update_agent",
			mcplib.WithDescription(`Replace an existing agent's definition content.

The agent's version is bumped and the previous lifecycle state moves to
"modified". Fails if the agent does not exist or was deleted.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithString("name",
				mcplib.Description("Name of the agent to update"),
				mcplib.Required(),
			),
			mcplib.WithString("content",
				mcplib.Description("The new definition content"),
				mcplib.Required(),
			),
		),
		s.handleUpdateAgent,
	)

	// kanri_delete_agent — delete with backup-before-delete.
	s.mcpServer.AddTool(
		mcplib.NewTool("kanri_delete_agent",
			mcplib.WithDescription(`Delete an agent definition.

A timestamped backup is taken before anything is destroyed; if the backup
fails, the delete is aborted and the agent is untouched. The agent can be
brought back later with kanri_restore_agent.`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithString("name",
				mcplib.Description("Name of the agent to delete"),
				mcplib.Required(),
			),
			mcplib.WithString("reason",
				mcplib.Description("Optional reason recorded in the modification history"),
			),
		),
		s.handleDeleteAgent,
	)

	// kanri_restore_agent — restore from a backup.
	s.mcpServer.AddTool(
		mcplib.NewTool("kanri_restore_agent",
			mcplib.WithDescription(`Restore an agent from a backup.

Without backup_path the most recent backup is used. The restored agent
returns to the "active" state.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithString("name",
				mcplib.Description("Name of the agent to restore"),
				mcplib.Required(),
			),
			mcplib.WithString("backup_path",
				mcplib.Description("Optional explicit backup path; defaults to the most recent backup"),
			),
		),
		s.handleRestoreAgent,
	)

	// kanri_agent_status — one agent's lifecycle record.
	s.mcpServer.AddTool(
		mcplib.NewTool("kanri_agent_status",
			mcplib.WithDescription("Get the full lifecycle record for one agent: state, tier, version, file path, modification and backup trails."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("name",
				mcplib.Description("Name of the agent"),
				mcplib.Required(),
			),
		),
		s.handleAgentStatus,
	)

	// kanri_list_agents — all lifecycle records.
	s.mcpServer.AddTool(
		mcplib.NewTool("kanri_list_agents",
			mcplib.WithDescription("List all known agents with their lifecycle state, most recently modified first. Optionally filter by state."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("state",
				mcplib.Description("Optional state filter"),
				mcplib.Enum("active", "modified", "deleted", "conflicted", "migrating", "validating"),
			),
		),
		s.handleListAgents,
	)
}

func (s *Server) handleCreateAgent(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("name", "")
	content := request.GetString("content", "")
	tier := request.GetString("tier", "")
	if name == "" || content == "" || tier == "" {
		return errorResult("name, content, and tier are required"), nil
	}

	res := s.mgr.CreateAgent(ctx, lifecycle.CreateInput{
		Name:      name,
		Content:   content,
		Tier:      model.AgentTier(tier),
		AgentType: request.GetString("agent_type", ""),
		Author:    "mcp",
	})
	return resultFor(res), nil
}

func (s *Server) handleUpdateAgent(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("name", "")
	content := request.GetString("content", "")
	if name == "" || content == "" {
		return errorResult("name and content are required"), nil
	}

	res := s.mgr.UpdateAgent(ctx, lifecycle.UpdateInput{
		Name:    name,
		Content: content,
		Author:  "mcp",
	})
	return resultFor(res), nil
}

func (s *Server) handleDeleteAgent(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("name", "")
	if name == "" {
		return errorResult("name is required"), nil
	}

	res := s.mgr.DeleteAgent(ctx, lifecycle.DeleteInput{
		Name:   name,
		Reason: request.GetString("reason", ""),
		Author: "mcp",
	})
	return resultFor(res), nil
}

func (s *Server) handleRestoreAgent(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("name", "")
	if name == "" {
		return errorResult("name is required"), nil
	}

	res := s.mgr.RestoreAgent(ctx, lifecycle.RestoreInput{
		Name:       name,
		BackupPath: request.GetString("backup_path", ""),
		Author:     "mcp",
	})
	return resultFor(res), nil
}

func (s *Server) handleAgentStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	name := request.GetString("name", "")
	if name == "" {
		return errorResult("name is required"), nil
	}

	rec := s.mgr.GetAgentStatus(name)
	if rec == nil {
		return errorResult(fmt.Sprintf("no agent named %q", name)), nil
	}
	return jsonResult(rec), nil
}

func (s *Server) handleListAgents(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var filter *model.LifecycleState
	if stateStr := request.GetString("state", ""); stateStr != "" {
		state, err := model.ParseLifecycleState(stateStr)
		if err != nil {
			return errorResult(err.Error()), nil
		}
		filter = &state
	}

	records := s.mgr.ListAgents(filter)
	return jsonResult(map[string]any{
		"agents": records,
		"total":  len(records),
	}), nil
}

// resultFor converts a lifecycle operation result into a tool result:
// failed operations become MCP tool errors carrying the error code.
func resultFor(res model.LifecycleOperationResult) *mcplib.CallToolResult {
	if !res.Success {
		return errorResult(fmt.Sprintf("%s: %s", res.ErrorCode, res.ErrorMessage))
	}
	return jsonResult(res)
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
