// Package mcptool provides an MCP (Model Context Protocol) server that
// exposes a converted vault to LLM agents via stdio transport. Every tool
// is read-only: the vault is regenerated by conversion runs, never edited
// through this surface.
package mcptool

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/notemill/notemill/internal/index"
	"github.com/notemill/notemill/internal/layout"
	"github.com/notemill/notemill/internal/report"
	"github.com/notemill/notemill/internal/vault"
)

const manifestURI = "notemill://manifest"

// Server wraps the MCP server with vault tools.
type Server struct {
	mcp      *server.MCPServer
	store    vault.Provider
	manifest *report.Manifest
	db       index.Querier
}

// New creates an MCP server with all vault tools registered. db may be nil;
// search_notes then reports the index as unavailable.
func New(store vault.Provider, manifest *report.Manifest, db index.Querier) *Server {
	s := &Server{store: store, manifest: manifest, db: db}

	s.mcp = server.NewMCPServer(
		"Notemill",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Full-text search through converted notes."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the full content of a converted Markdown note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative path to the note (e.g. Folder/Note.md)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List converted notes, optionally under one folder."),
		mcp.WithString("folder", mcp.Description("Optional folder to list (empty for all)")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("resolve_source_id",
		mcp.WithDescription("Map a source-native identifier (Joplin item ID, Evernote note ID, "+
			"source file path) to the converted vault path via the run manifest."),
		mcp.WithString("source_id", mcp.Required(), mcp.Description("Identifier from the original note collection")),
	), s.resolveSourceID)

	// Resource: the run manifest.
	s.mcp.AddResource(
		mcp.NewResource(manifestURI, "Conversion Manifest",
			mcp.WithResourceDescription("Identifier-to-path maps and failure records of the last conversion run."),
			mcp.WithMIMEType("application/json"),
		),
		s.readManifestResource,
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

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.db == nil {
		return mcp.NewToolResultError("search index not available; run the conversion with index.enabled"), nil
	}
	hits, err := s.db.Search(query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(hits) == 0 {
		return mcp.NewToolResultText("no matches"), nil
	}
	var b strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&b, "%s\t%s\n", h.Path, h.Title)
		if h.Snippet != "" {
			fmt.Fprintf(&b, "\t%s\n", h.Snippet)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.store.Read(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder := req.GetString("folder", "")

	files, err := s.store.List(folder)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	// Run artifacts and resource payloads are not notes.
	var paths []string
	for _, f := range files {
		if !strings.HasSuffix(f.Path, ".md") || strings.HasPrefix(f.Path, layout.MetaDirName+"/") {
			continue
		}
		paths = append(paths, f.Path)
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) resolveSourceID(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("source_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, ok := s.manifest.PathForSource(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unknown source id: %s", id)), nil
	}
	return mcp.NewToolResultText(path), nil
}

func (s *Server) readManifestResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, err := s.manifest.Encode()
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      manifestURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
