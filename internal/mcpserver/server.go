// Package mcpserver exposes the recall library to MCP clients over stdio,
// so an assistant can list sets, inspect due points, author points and read
// session summaries.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Jmemon/contextual-clarity-sub001/internal/catalog"
	"github.com/Jmemon/contextual-clarity-sub001/internal/store"
)

// Name is the server name announced during initialization.
const Name = "contextual-clarity"

// Server wires the catalog and store into MCP tools.
type Server struct {
	catalog *catalog.Catalog
	store   *store.Store
	logger  *slog.Logger
	mcp     *server.MCPServer
}

// New builds a server with every tool registered.
func New(cat *catalog.Catalog, st *store.Store, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		catalog: cat,
		store:   st,
		logger:  logger,
		mcp:     server.NewMCPServer(Name, version, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("list_sets",
		mcp.WithDescription("List recall sets with their point and due counts."),
	), s.listSets)

	s.mcp.AddTool(mcp.NewTool("list_due_points",
		mcp.WithDescription("List the points of a recall set that are due for review now."),
		mcp.WithString("set", mcp.Required(), mcp.Description("Set id or name")),
	), s.listDuePoints)

	s.mcp.AddTool(mcp.NewTool("add_recall_point",
		mcp.WithDescription("Add a fact to a recall set. The point is due immediately."),
		mcp.WithString("set", mcp.Required(), mcp.Description("Set id or name")),
		mcp.WithString("content", mcp.Required(), mcp.Description("The fact to remember")),
		mcp.WithString("context", mcp.Description("Background the tutor may use")),
	), s.addRecallPoint)

	s.mcp.AddTool(mcp.NewTool("session_summary",
		mcp.WithDescription("Return the metrics summary of a completed study session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	), s.sessionSummary)
}

// Serve speaks MCP on in/out until ctx ends or in closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	s.logger.Info("mcp: serving on stdio", "tools", 4)
	err := stdio.Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) listSets(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sets, err := s.catalog.ListSets(ctx)
	if err != nil {
		return s.failure("list_sets", err), nil
	}
	return jsonResult(sets)
}

func (s *Server) listDuePoints(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := req.RequireString("set")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	set, err := s.catalog.FindSet(ctx, ref)
	if err != nil {
		return s.failure("list_due_points", err), nil
	}
	points, err := s.catalog.DuePoints(ctx, set.ID)
	if err != nil {
		return s.failure("list_due_points", err), nil
	}
	type duePoint struct {
		ID      string `json:"id"`
		Content string `json:"content"`
		Due     string `json:"due"`
		Phase   string `json:"phase"`
	}
	out := make([]duePoint, 0, len(points))
	for _, p := range points {
		out = append(out, duePoint{
			ID:      p.ID,
			Content: p.Content,
			Due:     p.State.Due.UTC().Format("2006-01-02T15:04:05Z"),
			Phase:   string(p.State.Phase),
		})
	}
	return jsonResult(out)
}

func (s *Server) addRecallPoint(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := req.RequireString("set")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	set, err := s.catalog.FindSet(ctx, ref)
	if err != nil {
		return s.failure("add_recall_point", err), nil
	}
	p, err := s.catalog.AddPoint(ctx, set.ID, content, req.GetString("context", ""))
	if err != nil {
		return s.failure("add_recall_point", err), nil
	}
	s.logger.Info("mcp: point added", "set_id", set.ID, "point_id", p.ID)
	return jsonResult(p)
}

func (s *Server) sessionSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	summary, err := s.store.Metrics.FindBySession(ctx, id)
	if err != nil {
		return s.failure("session_summary", err), nil
	}
	return jsonResult(summary)
}

// failure reports err to the client as a tool error. Lookup misses are
// expected; anything else is logged.
func (s *Server) failure(tool string, err error) *mcp.CallToolResult {
	if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, catalog.ErrEmptyContent) {
		s.logger.Error("mcp: tool failed", "tool", tool, "error", err)
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
