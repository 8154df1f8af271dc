// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Ansuz tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/ingest"
	"github.com/starford/ansuz/internal/query"
	"github.com/starford/ansuz/internal/store"
)

// Server wraps the MCP server with Ansuz tools.
type Server struct {
	mcp    *server.MCPServer
	co     *ingest.Coordinator
	store  *store.DB
	idx    *index.DB
	engine *query.Engine
}

// New creates a new MCP server with all Ansuz tools registered.
func New(co *ingest.Coordinator, st *store.DB, idx *index.DB, engine *query.Engine) *Server {
	s := &Server{co: co, store: st, idx: idx, engine: engine}

	s.mcp = server.NewMCPServer(
		"Ansuz",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("ingest_note",
		mcp.WithDescription("Ingest raw note text under a stable source identity. "+
			"Re-ingesting the same source updates the same note. Content should follow "+
			"the Ansuz note format (see the ansuz://note-format resource)."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Stable source identity (e.g. inbox/idea-42)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Raw note text")),
	), s.ingestNote)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Free-text search across note titles, bodies, and tags, ranked by token overlap."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("get_note",
		mcp.WithDescription("Read the full record of a note by id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.getNote)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List notes, most recently touched first, optionally filtered by status or tag."),
		mcp.WithString("status", mcp.Description("Filter by status: draft, active, or archived")),
		mcp.WithString("tag", mcp.Description("Filter by exact tag")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all notes that link to the specified note."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Id of the note to find backlinks for")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("rebuild_index",
		mcp.WithDescription("Rebuild the entire search index from the note store."),
	), s.rebuildIndex)

	s.mcp.AddResource(
		mcp.NewResource("ansuz://note-format", "Note Format",
			mcp.WithResourceDescription("Header conventions recognized by the Ansuz parser."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) ingestNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	id, err := s.co.Ingest(ctx, source, []byte(content))
	if err != nil {
		if errors.Is(err, apperr.ErrIndexing) {
			return mcp.NewToolResultText(fmt.Sprintf("stored %s (id %s) but indexing failed; the note is not searchable yet", source, id)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("ingested %s as %s", source, id)), nil
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.engine.Search(ctx, query.Query{Kind: query.KindText, Text: q})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.store.Get(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	out, _ := json.MarshalIndent(n, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var f store.Filter
	if v, err := req.RequireString("status"); err == nil {
		f.Status = v
	}
	if v, err := req.RequireString("tag"); err == nil {
		f.Tag = v
	}

	notes, err := s.store.List(ctx, f)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var lines []string
	for _, n := range notes {
		lines = append(lines, fmt.Sprintf("%s\t%s\t%s\t%s", n.ID, n.Source, n.Status, n.Title))
	}
	if len(lines) == 0 {
		return mcp.NewToolResultText("no notes found"), nil
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.engine.Search(ctx, query.Query{Kind: query.KindLinks, NoteID: id, Direction: query.DirectionIn})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	var lines []string
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("%s\t%s\t%s", r.ID, r.Source, r.Title))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) rebuildIndex(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.co.Rebuild(ctx); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("index rebuilt"), nil
}

func (s *Server) readNoteFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "ansuz://note-format",
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}
