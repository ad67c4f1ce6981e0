// Package mcp exposes the marketplace to agent tooling over the Model Context
// Protocol. Tools wrap the same lifecycle service the HTTP API uses, so every
// state guard applies identically.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"taskblitz-backend/services"
	store "taskblitz-backend/storage/marketplace"
)

// MCPServer wraps the mcp-go server with our business logic
type MCPServer struct {
	mcpServer *server.MCPServer
	store     store.Store
	lifecycle *services.LifecycleService
}

// NewMCPServer creates a new MCP server using the mcp-go library
func NewMCPServer(s store.Store, lifecycle *services.LifecycleService) *MCPServer {
	mcpServer := server.NewMCPServer(
		"TaskBlitz MCP Server",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	srv := &MCPServer{
		mcpServer: mcpServer,
		store:     s,
		lifecycle: lifecycle,
	}
	srv.registerTools()
	return srv
}

// GetMCPServer returns the underlying MCP server for transport setup
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio runs the server over stdin/stdout until EOF.
func (s *MCPServer) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// registerTools registers all MCP tools with the server
func (s *MCPServer) registerTools() {
	// Task tools
	s.registerListTasksTool()
	s.registerGetTaskTool()
	s.registerCreateTaskTool()
	s.registerCancelTaskTool()

	// Application tools
	s.registerApplyToTaskTool()
	s.registerReviewApplicationTool()

	// Submission tools
	s.registerSubmitWorkTool()
	s.registerListSubmissionsTool()
	s.registerReviewSubmissionTool()

	// Dispute tools
	s.registerOpenDisputeTool()
	s.registerResolveDisputeTool()

	// Settlement tool
	s.registerListTransactionsTool()
}
