package mcp

import (
	"context"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/agentloom/orchestrator/internal/domain"
	"github.com/agentloom/orchestrator/internal/supervisor"
)

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		IsError: true,
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: msg}},
	}
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: text}},
	}
}

func (s *Server) handleCreateSession(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	req := supervisor.CreateSessionRequest{
		AgentID:     request.GetString("agent_id", ""),
		Task:        request.GetString("task", ""),
		WorkspaceID: request.GetString("workspace_id", ""),
		ProjectID:   request.GetString("project_id", ""),
		WorkingDir:  request.GetString("working_dir", ""),
	}

	session, err := s.sessions.CreateSession(ctx, req)
	if err != nil {
		s.logger.Warn("mcp create_session failed", "error", err)
		return errorResult(err.Error()), nil
	}

	return textResult(fmt.Sprintf(
		"session created: id=%s pid=%d status=%s",
		session.SessionID, session.PID, session.Status,
	)), nil
}

func (s *Server) handleTerminateSession(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	sessionID := request.GetString("session_id", "")
	if sessionID == "" {
		return errorResult("session_id is required"), nil
	}

	if err := s.sessions.TerminateSession(ctx, sessionID); err != nil {
		s.logger.Warn("mcp terminate_session failed", "sessionId", sessionID, "error", err)
		return errorResult(err.Error()), nil
	}

	return textResult(fmt.Sprintf("session %s terminated", sessionID)), nil
}

func (s *Server) handleSendCommand(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	sessionID := request.GetString("session_id", "")
	command := request.GetString("command", "")
	if sessionID == "" || command == "" {
		return errorResult("session_id and command are required"), nil
	}

	if err := s.sessions.SendCommand(ctx, sessionID, command); err != nil {
		s.logger.Warn("mcp send_command failed", "sessionId", sessionID, "error", err)
		return errorResult(err.Error()), nil
	}

	return textResult(fmt.Sprintf("command written to session %s", sessionID)), nil
}

func (s *Server) handleRouteTask(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	taskType := domain.TaskType(request.GetString("task_type", ""))
	if taskType == "" {
		return errorResult("task_type is required"), nil
	}

	providersRaw := request.GetString("enabled_providers", "")
	if strings.TrimSpace(providersRaw) == "" {
		return errorResult("enabled_providers is required"), nil
	}
	var enabled []domain.ProviderID
	for _, p := range strings.Split(providersRaw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			enabled = append(enabled, domain.ProviderID(p))
		}
	}

	cfg := domain.WorkspaceRoutingConfig{
		WorkspaceID:      request.GetString("workspace_id", ""),
		EnabledProviders: enabled,
		Preset:           domain.RoutingPreset(request.GetString("preset", string(domain.PresetAuto))),
	}

	routingReq := domain.TaskRoutingRequest{
		TaskType:      taskType,
		WorkspaceID:   cfg.WorkspaceID,
		ForceModel:    request.GetString("force_model", ""),
		ForceProvider: domain.ProviderID(request.GetString("force_provider", "")),
	}

	decision, err := s.router.Route(ctx, routingReq, cfg)
	if err != nil {
		s.logger.Info("mcp route_task found no candidate", "taskType", taskType, "error", err)
		return errorResult(err.Error()), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "selected=%s provider=%s reason=%q estimatedCost=%.6f\n",
		decision.SelectedModel, decision.Provider, decision.Reason, decision.EstimatedCost)
	for _, alt := range decision.Alternatives {
		fmt.Fprintf(&b, "rejected=%s provider=%s reason=%q estimatedCost=%.6f\n",
			alt.ModelID, alt.Provider, alt.RejectedReason, alt.EstimatedCost)
	}

	return textResult(b.String()), nil
}
