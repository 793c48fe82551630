package mcp

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/ecomentor/pkg/core"
	"github.com/jllopis/ecomentor/pkg/errors"
	"github.com/jllopis/ecomentor/pkg/orchestrator"
	"github.com/jllopis/ecomentor/pkg/router"
	"github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

type stubEngine struct {
	last orchestrator.AskRequest
	err  error
}

func (e *stubEngine) Ask(_ context.Context, req orchestrator.AskRequest, _ core.EventSink) (*orchestrator.AskResponse, error) {
	e.last = req
	if e.err != nil {
		return nil, e.err
	}
	return &orchestrator.AskResponse{
		Cards: []core.FinalCard{{Type: core.RoleMacro, Title: "거시 해석", Content: "금리 인하 기대"}},
		Meta:  orchestrator.Meta{RequestID: "req-1", Mode: string(core.ModeConcurrent)},
	}, nil
}

func (e *stubEngine) Route(_ context.Context, req orchestrator.AskRequest) (router.Decision, error) {
	e.last = req
	return router.Decision{Path: core.RolePath{core.RoleMacro}, Mode: core.ModeConcurrent, Source: router.SourceHeuristic, Confidence: 0.85}, nil
}

func callRequest(name string, args map[string]interface{}) mcpgo.CallToolRequest {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcpgo.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("empty tool result")
	}
	text, ok := res.Content[0].(mcpgo.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return text.Text
}

func TestAskToolReturnsCards(t *testing.T) {
	engine := &stubEngine{}
	s := NewServer("ecomentor", "test", engine, nil)

	res, err := s.handleAsk(context.Background(), callRequest("ask", map[string]interface{}{
		"q":     "GDP가 뭐야",
		"roles": []interface{}{"eco", "firm"},
		"mode":  "sequential",
	}))
	if err != nil {
		t.Fatalf("handleAsk: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error %v", resultText(t, res))
	}

	var resp orchestrator.AskResponse
	if err := json.Unmarshal([]byte(resultText(t, res)), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Cards) != 1 || resp.Meta.RequestID != "req-1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if engine.last.Question != "GDP가 뭐야" || engine.last.Mode != "sequential" || strings.Join(engine.last.Roles, ",") != "eco,firm" {
		t.Errorf("arguments not forwarded: %+v", engine.last)
	}
}

func TestAskToolAcceptsCommaSeparatedRoles(t *testing.T) {
	req := askRequest(callRequest("ask", map[string]interface{}{"q": "x", "roles": "macro, household"}))
	if strings.Join(req.Roles, ",") != "macro,household" {
		t.Fatalf("unexpected roles %v", req.Roles)
	}
}

func TestAskToolErrorResult(t *testing.T) {
	engine := &stubEngine{err: errors.New(errors.CodeNoDrafts, "no role produced a draft", nil)}
	s := NewServer("ecomentor", "test", engine, nil)

	res, err := s.handleAsk(context.Background(), callRequest("ask", map[string]interface{}{"q": "GDP"}))
	if err != nil {
		t.Fatalf("handleAsk: %v", err)
	}
	if !res.IsError || !strings.HasPrefix(resultText(t, res), "NO_DRAFTS") {
		t.Fatalf("expected NO_DRAFTS tool error, got %+v", res)
	}
}

func TestRouteTool(t *testing.T) {
	s := NewServer("ecomentor", "test", &stubEngine{}, nil)
	res, err := s.handleRoute(context.Background(), callRequest("route", map[string]interface{}{"q": "GDP가 뭐야"}))
	if err != nil {
		t.Fatalf("handleRoute: %v", err)
	}
	var d router.Decision
	if err := json.Unmarshal([]byte(resultText(t, res)), &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Source != router.SourceHeuristic || !d.Path.Equal(core.RolePath{core.RoleMacro}) {
		t.Fatalf("unexpected decision %+v", d)
	}
}

const stdioHelperEnv = "ECOMENTOR_MCP_STDIO_HELPER"

func TestHelperStdioServer(t *testing.T) {
	if os.Getenv(stdioHelperEnv) != "1" {
		return
	}
	if err := NewServer("ecomentor-test", "1.0.0", &stubEngine{}, nil).ServeStdio(); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func TestServeStdioListsAndCallsTools(t *testing.T) {
	t.Setenv(stdioHelperEnv, "1")
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}

	c, err := client.NewStdioMCPClient(exe, nil, "-test.run", "TestHelperStdioServer")
	if err != nil {
		t.Fatalf("NewStdioMCPClient: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	init := mcpgo.InitializeRequest{}
	init.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	init.Params.ClientInfo = mcpgo.Implementation{Name: "ecomentor-test-client", Version: "0.1.0"}
	if _, err := c.Initialize(ctx, init); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	tools, err := c.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	if !names["ask"] || !names["route"] {
		t.Fatalf("expected ask and route tools, got %v", names)
	}

	res, err := c.CallTool(ctx, callRequest("route", map[string]interface{}{"q": "GDP가 뭐야"}))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error %+v", res)
	}
}
