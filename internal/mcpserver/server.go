// Package mcpserver exposes the server directory to LLM clients as an MCP
// (Model Context Protocol) server over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/HyServers/hyservers-web/internal/apperr"
	"github.com/HyServers/hyservers-web/internal/index"
	"github.com/HyServers/hyservers-web/internal/models"
	"github.com/HyServers/hyservers-web/internal/serverservice"
	"github.com/HyServers/hyservers-web/internal/store"
)

// SearchGuideURI is the resource URI of SearchGuide.
const SearchGuideURI = "hyservers://search-guide"

// Server wraps the MCP server with the directory tools.
type Server struct {
	mcp *server.MCPServer
	svc *serverservice.Service
}

// New creates an MCP server with every directory tool registered.
func New(svc *serverservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"HyServers",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_servers",
		mcp.WithDescription("Search the public game server directory. "+
			"Read the search guide (get_search_guide tool or "+SearchGuideURI+" resource) for filter semantics."),
		mcp.WithString("query", mcp.Description("Free text matched against name, description and tags")),
		mcp.WithString("gamemode", mcp.Description("Exact gamemode filter")),
		mcp.WithString("tags", mcp.Description("Comma-separated tags; any of them matches")),
		mcp.WithString("language", mcp.Description("Exact language filter")),
		mcp.WithString("region", mcp.Description("Exact region filter")),
		mcp.WithBoolean("online", mcp.Description("Only online (true) or offline (false) servers")),
		mcp.WithString("sort", mcp.Description("playerCount, name or createdAt")),
		mcp.WithString("order", mcp.Description("asc or desc")),
		mcp.WithNumber("page", mcp.Description("1-based page")),
		mcp.WithNumber("per_page", mcp.Description("Results per page, at most 100")),
	), s.searchServers)

	s.mcp.AddTool(mcp.NewTool("get_server",
		mcp.WithDescription("Read the full record of one server."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Server id from a search hit")),
	), s.getServer)

	s.mcp.AddTool(mcp.NewTool("server_stats",
		mcp.WithDescription("Player-count history of one server, newest first."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Server id")),
		mcp.WithNumber("limit", mcp.Description("Max snapshots, default 100")),
	), s.serverStats)

	s.mcp.AddTool(mcp.NewTool("get_search_guide",
		mcp.WithDescription("Returns the directory search guide."),
	), s.getSearchGuide)

	s.mcp.AddResource(
		mcp.NewResource(SearchGuideURI, "Search Guide",
			mcp.WithResourceDescription("How directory search, filters and facets behave."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readSearchGuide,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) searchServers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sr := index.SearchRequest{
		Query:   strings.TrimSpace(req.GetString("query", "")),
		Page:    req.GetInt("page", 1),
		PerPage: req.GetInt("per_page", index.DefaultPerPage),
		Filters: index.Filters{
			Gamemode: strings.TrimSpace(req.GetString("gamemode", "")),
			Tags:     models.ParseTags(req.GetString("tags", "")),
			Language: strings.TrimSpace(req.GetString("language", "")),
			Region:   strings.TrimSpace(req.GetString("region", "")),
		},
		SortBy:    req.GetString("sort", ""),
		SortOrder: req.GetString("order", ""),
	}
	if online, ok := req.GetArguments()["online"].(bool); ok {
		sr.Filters.Online = &online
	}
	res := s.svc.Search(ctx, sr)
	if res.Unavailable {
		return mcp.NewToolResultError("search service unavailable, try again later"), nil
	}
	return jsonResult(res)
}

func (s *Server) getServer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Get(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("server not found: %s", id)), nil
	}
	if err != nil {
		return nil, err
	}
	return jsonResult(res.Server)
}

func (s *Server) serverStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	stats, err := s.svc.Stats(ctx, id, store.StatsQuery{Limit: req.GetInt("limit", 0)})
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("server not found: %s", id)), nil
	}
	if err != nil {
		return nil, err
	}
	if len(stats) == 0 {
		return mcp.NewToolResultText("no stats recorded"), nil
	}
	return jsonResult(stats)
}

func (s *Server) getSearchGuide(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(SearchGuide), nil
}

func (s *Server) readSearchGuide(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "text/markdown",
			Text:     SearchGuide,
		},
	}, nil
}
