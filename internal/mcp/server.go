// Package mcp exposes the workflow engine to MCP clients so assistants can
// inspect and drive approvals.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"cflux/backend/internal/services"
)

type Server struct {
	mcpServer *server.MCPServer
	engine    *services.Engine
}

func NewServer(engine *services.Engine) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Workflow Engine",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		engine: engine,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_workflows",
			mcp.WithDescription("List all workflow definitions with their step catalogs"),
		),
		s.handleListWorkflows,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"pending_approvals",
			mcp.WithDescription("List the pending approval steps assigned to a user"),
			mcp.WithString("userId", mcp.Required(), mcp.Description("The user whose approval inbox to list")),
		),
		s.handlePendingApprovals,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"approve_step",
			mcp.WithDescription("Approve a pending workflow instance step"),
			mcp.WithString("instanceStepId", mcp.Required(), mcp.Description("The instance step to approve")),
			mcp.WithString("userId", mcp.Required(), mcp.Description("The approving user")),
			mcp.WithString("comment", mcp.Description("Optional approval comment")),
		),
		s.handleApproveStep,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"reject_step",
			mcp.WithDescription("Reject a pending workflow instance step; this rejects the whole instance"),
			mcp.WithString("instanceStepId", mcp.Required(), mcp.Description("The instance step to reject")),
			mcp.WithString("userId", mcp.Required(), mcp.Description("The rejecting user")),
			mcp.WithString("comment", mcp.Description("Optional rejection comment")),
		),
		s.handleRejectStep,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"test_run_workflow",
			mcp.WithDescription("Destructively replay a workflow against an entity: purges prior instances for the pair and starts a fresh one"),
			mcp.WithString("workflowId", mcp.Required(), mcp.Description("The workflow to run")),
			mcp.WithString("entityType", mcp.Required(), mcp.Description("The entity type, e.g. INVOICE")),
			mcp.WithString("entityId", mcp.Required(), mcp.Description("The entity id")),
		),
		s.handleTestRun,
	)
}

func stringArg(request mcp.CallToolRequest, name string) (string, bool) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return "", false
	}
	v, ok := args[name].(string)
	return v, ok && v != ""
}

func optionalStringArg(request mcp.CallToolRequest, name string) *string {
	if v, ok := stringArg(request, name); ok {
		return &v
	}
	return nil
}

func (s *Server) handleListWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflows, err := s.engine.ListWorkflows(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list workflows: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(workflows)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handlePendingApprovals(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, ok := stringArg(request, "userId")
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: userId"), nil
	}

	approvals, err := s.engine.PendingApprovals(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list pending approvals: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(approvals)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleApproveStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceStepID, ok := stringArg(request, "instanceStepId")
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: instanceStepId"), nil
	}
	userID, ok := stringArg(request, "userId")
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: userId"), nil
	}

	inst, err := s.engine.Approve(ctx, instanceStepID, userID, optionalStringArg(request, "comment"))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to approve: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(inst)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleRejectStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceStepID, ok := stringArg(request, "instanceStepId")
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: instanceStepId"), nil
	}
	userID, ok := stringArg(request, "userId")
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: userId"), nil
	}

	inst, err := s.engine.Reject(ctx, instanceStepID, userID, optionalStringArg(request, "comment"))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to reject: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(inst)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleTestRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, ok := stringArg(request, "workflowId")
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: workflowId"), nil
	}
	entityType, ok := stringArg(request, "entityType")
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: entityType"), nil
	}
	entityID, ok := stringArg(request, "entityId")
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: entityId"), nil
	}

	inst, err := s.engine.TestRun(ctx, workflowID, entityType, entityID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to test-run workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(inst)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
