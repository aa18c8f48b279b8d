package mcp

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jcdickinson/rsindex/internal/loader"
	"github.com/jcdickinson/rsindex/internal/markdown"
	"github.com/jcdickinson/rsindex/internal/rpc"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

//go:embed instructions.md
var instructions string

const implementorsURIPrefix = "rsindex://implementors/"

// Daemon is the subset of the daemon client used by the MCP server.
type Daemon interface {
	Implementors(ctx context.Context, trait string) (*rpc.ImplementorsResponse, error)
	Sidebar(ctx context.Context, module string) (*rpc.SidebarResponse, error)
	Status(ctx context.Context) (*rpc.StatusResponse, error)
	Load(ctx context.Context, req rpc.LoadRequest, onProgress func(string)) (*loader.Stats, error)
}

type Server struct {
	mcpServer *server.MCPServer
	client    Daemon
}

func NewServer(client Daemon) *Server {
	s := &Server{client: client}

	mcpServer := server.NewMCPServer(
		"rsindex",
		"0.1.0",
		server.WithInstructions(instructions),
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.mcpServer = mcpServer
	return s
}

func (s *Server) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(
		mcp.NewTool("list_implementors",
			mcp.WithDescription("List every crate's implementations of a trait, in the order they were merged. Returns nothing before the index is activated."),
			mcp.WithString("trait",
				mcp.Description("Full trait path, e.g. \"core::ops::bit::BitAnd\""),
				mcp.Required(),
			),
			mcp.WithString("format",
				mcp.Description("\"markdown\" (default) or \"json\""),
			),
		),
		s.handleListImplementors,
	)

	mcpServer.AddTool(
		mcp.NewTool("get_sidebar",
			mcp.WithDescription("List a module's items grouped by category (fn, struct, trait, ...)."),
			mcp.WithString("module",
				mcp.Description("Module path, e.g. \"style::str\""),
				mcp.Required(),
			),
			mcp.WithString("format",
				mcp.Description("\"markdown\" (default) or \"json\""),
			),
		),
		s.handleGetSidebar,
	)

	mcpServer.AddTool(
		mcp.NewTool("index_status",
			mcp.WithDescription("Report the index state (uninitialized, buffering, active), buffered fragment count, sizes and rejected conflicting registrations."),
		),
		s.handleIndexStatus,
	)

	mcpServer.AddTool(
		mcp.NewTool("load_docs",
			mcp.WithDescription("Load a rustdoc output directory into the index. Synchronous; returns load statistics."),
			mcp.WithString("root",
				mcp.Description("Path to the rustdoc output directory (usually target/doc)"),
				mcp.Required(),
			),
			mcp.WithBoolean("activate",
				mcp.Description("Activate the index after loading (default true)"),
			),
		),
		s.handleLoadDocs,
	)
}

func (s *Server) registerResources(mcpServer *server.MCPServer) {
	mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			implementorsURIPrefix+"{trait}",
			"Trait implementors",
			mcp.WithTemplateDescription("Markdown listing of a trait's implementors across all loaded crates."),
			mcp.WithTemplateMIMEType("text/markdown"),
		),
		s.handleReadResource,
	)
}

func wantsJSON(args map[string]any) bool {
	format, _ := args["format"].(string)
	return strings.EqualFold(format, "json")
}

func jsonResult(v any) *mcp.CallToolResult {
	resultJSON, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(resultJSON))
}

func (s *Server) handleListImplementors(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	trait, _ := args["trait"].(string)
	if trait == "" {
		return mcp.NewToolResultError("missing required parameter: trait"), nil
	}

	resp, err := s.client.Implementors(ctx, trait)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing implementors failed: %v", err)), nil
	}
	if wantsJSON(args) {
		return jsonResult(resp.Modules), nil
	}
	return mcp.NewToolResultText(markdown.RenderImplementors(resp.Trait, resp.Modules)), nil
}

func (s *Server) handleGetSidebar(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	module, _ := args["module"].(string)
	if module == "" {
		return mcp.NewToolResultError("missing required parameter: module"), nil
	}

	resp, err := s.client.Sidebar(ctx, module)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reading sidebar failed: %v", err)), nil
	}
	if wantsJSON(args) {
		return jsonResult(resp.Items), nil
	}
	return mcp.NewToolResultText(markdown.RenderSidebar(resp.Module, resp.Items)), nil
}

func (s *Server) handleIndexStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := s.client.Status(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status failed: %v", err)), nil
	}
	return jsonResult(resp), nil
}

func (s *Server) handleLoadDocs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	root, _ := args["root"].(string)
	if root == "" {
		return mcp.NewToolResultError("missing required parameter: root"), nil
	}
	activate := true
	if v, ok := args["activate"].(bool); ok {
		activate = v
	}

	stats, err := s.client.Load(ctx, rpc.LoadRequest{Root: root, Activate: activate}, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("load failed: %v", err)), nil
	}
	return jsonResult(stats), nil
}

func (s *Server) handleReadResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	trait := strings.TrimPrefix(uri, implementorsURIPrefix)
	if trait == uri || trait == "" {
		return nil, fmt.Errorf("invalid resource URI: %s", uri)
	}

	resp, err := s.client.Implementors(ctx, trait)
	if err != nil {
		return nil, fmt.Errorf("listing implementors: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/markdown",
			Text:     markdown.RenderImplementors(resp.Trait, resp.Modules),
		},
	}, nil
}

func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}
