package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func schema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var (
	domainProp = map[string]any{"type": "string", "description": "Monitor domain (enrollment, traffic, stock, meetup)"}
	idProp     = map[string]any{"type": "string", "description": "Target id (course id, IP, ticker or meetup message id)"}
)

type toolArgs struct {
	Domain string `json:"domain"`
	ID     string `json:"id"`
	Limit  int    `json:"limit"`
}

// addTool registers fn as a tool whose result is returned as JSON text.
// Operation errors become tool errors, not protocol errors.
func addTool(srv *mcp.Server, tool *mcp.Tool, fn func(ctx context.Context, a toolArgs) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var a toolArgs
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &a); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("invalid arguments: %w", err))
				return &res, nil
			}
		}
		out, err := fn(ctx, a)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(err)
			return &res, nil
		}
		data, err := json.Marshal(out)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil
	})
}

// RegisterMCP adds the nbot_* tools to srv.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	addTool(srv, &mcp.Tool{
		Name:        "nbot_domains",
		Description: "List monitor domains with their schedule and counters.",
		InputSchema: schema(map[string]any{}),
	}, func(context.Context, toolArgs) (any, error) {
		return map[string]any{"domains": s.Domains()}, nil
	})

	addTool(srv, &mcp.Tool{
		Name:        "nbot_targets",
		Description: "List the watched targets of a domain with their last known status.",
		InputSchema: schema(map[string]any{"domain": domainProp}, "domain"),
	}, func(ctx context.Context, a toolArgs) (any, error) {
		t, err := s.Targets(ctx, a.Domain)
		return map[string]any{"targets": t}, err
	})

	addTool(srv, &mcp.Tool{
		Name:        "nbot_run_cycle",
		Description: "Run one poll cycle of a domain now and return its report.",
		InputSchema: schema(map[string]any{"domain": domainProp}, "domain"),
	}, func(ctx context.Context, a toolArgs) (any, error) {
		return s.Run(ctx, a.Domain)
	})

	addTool(srv, &mcp.Tool{
		Name:        "nbot_check",
		Description: "Check one target now. A state change is persisted and announced.",
		InputSchema: schema(map[string]any{"domain": domainProp, "id": idProp}, "domain", "id"),
	}, func(ctx context.Context, a toolArgs) (any, error) {
		return s.Check(ctx, a.Domain, a.ID)
	})

	addTool(srv, &mcp.Tool{
		Name:        "nbot_history",
		Description: "Recent poll cycles and notifications, newest first.",
		InputSchema: schema(map[string]any{
			"domain": domainProp,
			"limit":  map[string]any{"type": "integer", "description": "Max rows per table (default 50)"},
		}),
	}, func(ctx context.Context, a toolArgs) (any, error) {
		return s.History(ctx, a.Domain, a.Limit)
	})
}

// MCPServer returns an MCP server carrying the nbot tools.
func (s *Server) MCPServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "nbot", Version: s.cfg.Version}, nil)
	s.RegisterMCP(srv)
	return srv
}

// MCPHandler serves the tools over streamable HTTP.
func (s *Server) MCPHandler() http.Handler {
	srv := s.MCPServer()
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, &mcp.StreamableHTTPOptions{JSONResponse: true})
}
