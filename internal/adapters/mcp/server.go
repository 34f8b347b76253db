// Package mcp exposes the tool directory and pipeline store to MCP
// clients, so editor agents can browse tools, check compatibility, and
// pull saved pipelines.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/avannotate/pipechat/pkg/catalog"
	"github.com/avannotate/pipechat/pkg/ports"
	"github.com/avannotate/pipechat/pkg/validator"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const catalogResourceURI = "pipechat://catalog"

// Server wraps the directory and store as an MCP server.
type Server struct {
	directory *catalog.Directory
	store     ports.PipelineStore
	mcpServer *server.MCPServer
}

// NewServer creates the MCP server.
func NewServer(dir *catalog.Directory, store ports.PipelineStore, version string) *Server {
	s := &Server{
		directory: dir,
		store:     store,
		mcpServer: server.NewMCPServer("pipechat-mcp", version),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("search_tools",
		mcp.WithDescription("Search the tool directory by id or description."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search term, matched case-insensitively")),
	), s.handleSearchTools)

	s.mcpServer.AddTool(mcp.NewTool("inspect_tool",
		mcp.WithDescription("Return the full descriptor for one tool: inputs, outputs, and parameters."),
		mcp.WithString("tool_id", mcp.Required(), mcp.Description("Directory id of the tool")),
	), s.handleInspectTool)

	s.mcpServer.AddTool(mcp.NewTool("check_compatibility",
		mcp.WithDescription("Check whether the source tool's outputs satisfy the target tool's inputs."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Tool id producing the output")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Tool id consuming the input")),
	), s.handleCheckCompatibility)

	s.mcpServer.AddTool(mcp.NewTool("export_pipeline",
		mcp.WithDescription("Return a saved pipeline document as JSON."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Saved pipeline name")),
	), s.handleExportPipeline)

	s.mcpServer.AddTool(mcp.NewTool("list_pipelines",
		mcp.WithDescription("List the names of all saved pipelines."),
	), s.handleListPipelines)
}

func (s *Server) handleSearchTools(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results := s.directory.Search(query)
	jsonBytes, _ := json.Marshal(results)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleInspectTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("tool_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	td, err := s.directory.Resolve(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resolve failed: %v", err)), nil
	}
	jsonBytes, _ := json.Marshal(td)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleCheckCompatibility(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	srcID, err := request.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dstID, err := request.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	src, err := s.directory.Resolve(srcID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resolve source: %v", err)), nil
	}
	dst, err := s.directory.Resolve(dstID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resolve target: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(map[string]any{
		"source":     src.ID,
		"target":     dst.ID,
		"compatible": validator.Connectable(src, dst),
	})
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleExportPipeline(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.store.Load(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("load failed: %v", err)), nil
	}
	jsonBytes, err := doc.EncodeJSON()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleListPipelines(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names, err := s.store.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	jsonBytes, _ := json.Marshal(names)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(catalogResourceURI, "Tool Directory",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(s.directory.List())
		if err != nil {
			return nil, fmt.Errorf("failed to encode directory: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      catalogResourceURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
