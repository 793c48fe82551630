// Package mcp exposes the answer engine as MCP tools so assistants can
// call ask and route over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jllopis/ecomentor/pkg/core"
	"github.com/jllopis/ecomentor/pkg/errors"
	"github.com/jllopis/ecomentor/pkg/orchestrator"
	"github.com/jllopis/ecomentor/pkg/router"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Engine is the part of the orchestrator the tools call into.
type Engine interface {
	Ask(ctx context.Context, req orchestrator.AskRequest, sink core.EventSink) (*orchestrator.AskResponse, error)
	Route(ctx context.Context, req orchestrator.AskRequest) (router.Decision, error)
}

// Server wraps the mcp-go server with the ask and route tools registered.
type Server struct {
	mcpServer *server.MCPServer
	engine    Engine
	logger    *slog.Logger
}

// NewServer creates an MCP server backed by engine.
func NewServer(name, version string, engine Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcpServer: server.NewMCPServer(name, version, server.WithToolCapabilities(false)),
		engine:    engine,
		logger:    logger,
	}
	s.mcpServer.AddTool(askTool(), s.handleAsk)
	s.mcpServer.AddTool(routeTool(), s.handleRoute)
	return s
}

func askTool() mcp.Tool {
	return mcp.NewTool("ask",
		mcp.WithDescription("Answer an economics question with macro, firm and household perspectives. Returns summary cards as JSON."),
		mcp.WithString("q", mcp.Required(), mcp.Description("The question, Korean or English")),
		mcp.WithString("mode", mcp.Description("parallel or sequential; derived from the roles when omitted")),
		mcp.WithArray("roles", mcp.Description("Explicit roles: macro, firm, household")),
	)
}

func routeTool() mcp.Tool {
	return mcp.NewTool("route",
		mcp.WithDescription("Show which roles and execution mode a question would be routed to, without generating an answer."),
		mcp.WithString("q", mcp.Required(), mcp.Description("The question to route")),
	)
}

func (s *Server) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := askRequest(request)
	resp, err := s.engine.Ask(ctx, req, nil)
	if err != nil {
		s.logger.WarnContext(ctx, "mcp ask failed", "error", err)
		return mcp.NewToolResultError(toolError(err)), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleRoute(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	d, err := s.engine.Route(ctx, askRequest(request))
	if err != nil {
		return mcp.NewToolResultError(toolError(err)), nil
	}
	return jsonResult(d)
}

// ServeStdio serves the tools on stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func askRequest(request mcp.CallToolRequest) orchestrator.AskRequest {
	args, _ := request.Params.Arguments.(map[string]interface{})
	req := orchestrator.AskRequest{}
	req.Question, _ = args["q"].(string)
	req.Mode, _ = args["mode"].(string)
	switch roles := args["roles"].(type) {
	case []interface{}:
		for _, r := range roles {
			if s, ok := r.(string); ok {
				req.Roles = append(req.Roles, s)
			}
		}
	case string:
		for _, r := range strings.Split(roles, ",") {
			if r = strings.TrimSpace(r); r != "" {
				req.Roles = append(req.Roles, r)
			}
		}
	}
	return req
}

func toolError(err error) string {
	if e := errors.As(err); e != nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return err.Error()
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
