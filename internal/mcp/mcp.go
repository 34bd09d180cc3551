// Package mcp exposes the orchestration core's session and routing
// operations as Model Context Protocol tools, so MCP-compatible agents can
// drive sessions and ask for routing decisions directly.
package mcp

import (
	"context"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/agentloom/orchestrator/internal/domain"
	"github.com/agentloom/orchestrator/internal/supervisor"
)

// SessionManager is the subset of *supervisor.Supervisor the MCP surface
// depends on.
type SessionManager interface {
	CreateSession(ctx context.Context, req supervisor.CreateSessionRequest) (domain.Session, error)
	TerminateSession(ctx context.Context, sessionID string) error
	SendCommand(ctx context.Context, sessionID, line string) error
}

// TaskRouter is the subset of *router.Router the MCP surface depends on.
type TaskRouter interface {
	Route(ctx context.Context, req domain.TaskRoutingRequest, cfg domain.WorkspaceRoutingConfig) (domain.RoutingDecision, error)
}

// Server wraps the MCP server with the orchestration core's session and
// routing capabilities.
type Server struct {
	mcpServer *mcpserver.MCPServer
	sessions  SessionManager
	router    TaskRouter
	logger    *slog.Logger
}

// New creates and configures an MCP server exposing create_session,
// terminate_session, send_command, and route_task.
func New(sessions SessionManager, router TaskRouter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{sessions: sessions, router: router, logger: logger}

	s.mcpServer = mcpserver.NewMCPServer(
		"orchestrator",
		"0.1.0",
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
	s.mcpServer.AddTool(
		mcplib.NewTool("create_session",
			mcplib.WithDescription("Spawn a supervised agent process and register a new session"),
			mcplib.WithString("agent_id", mcplib.Description("Agent identifier"), mcplib.Required()),
			mcplib.WithString("task", mcplib.Description("Task prompt passed to the agent"), mcplib.Required()),
			mcplib.WithString("workspace_id", mcplib.Description("Owning workspace"), mcplib.Required()),
			mcplib.WithString("project_id", mcplib.Description("Owning project")),
			mcplib.WithString("working_dir", mcplib.Description("Working directory for the spawned process")),
		),
		s.handleCreateSession,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("terminate_session",
			mcplib.WithDescription("Gracefully terminate a running session, escalating to a forced kill after the grace window"),
			mcplib.WithString("session_id", mcplib.Description("Session identifier"), mcplib.Required()),
		),
		s.handleTerminateSession,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("send_command",
			mcplib.WithDescription("Write a line to a running session's stdin"),
			mcplib.WithString("session_id", mcplib.Description("Session identifier"), mcplib.Required()),
			mcplib.WithString("command", mcplib.Description("Line to write to the process's stdin"), mcplib.Required()),
		),
		s.handleSendCommand,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("route_task",
			mcplib.WithDescription("Select a model and provider for a task given a workspace's enabled providers and routing preset"),
			mcplib.WithString("task_type", mcplib.Description("One of simple_chat, coding, planning, review, summarization, embedding, complex_reasoning"), mcplib.Required()),
			mcplib.WithString("workspace_id", mcplib.Description("Owning workspace"), mcplib.Required()),
			mcplib.WithString("enabled_providers", mcplib.Description("Comma-separated provider ids enabled for this workspace"), mcplib.Required()),
			mcplib.WithString("preset", mcplib.Description("One of auto, economy, quality, balanced")),
			mcplib.WithString("force_model", mcplib.Description("Skip selection and use this model id if its provider is enabled")),
			mcplib.WithString("force_provider", mcplib.Description("Restrict selection to this provider if enabled")),
		),
		s.handleRouteTask,
	)
}
