// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the companion's document and duplicate tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/granola-companion/internal/apperr"
	"github.com/starford/granola-companion/internal/models"
	"github.com/starford/granola-companion/internal/noteservice"
)

const contractURI = "granola://note-format"

// Server wraps the MCP server with the companion tools.
type Server struct {
	mcp *server.MCPServer
	svc *noteservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *noteservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Granola Companion",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a Markdown document. When a document of the same class "+
			"with the same granola_id already exists, nothing is written and the existing "+
			"path is returned. Read the contract first via get_note_contract or "+contractURI+"."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path for the new document (must end with .md)")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown content with a granola_id header")),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the full content of a Markdown document."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the document (e.g. Granola/Standup.md)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List Markdown documents, optionally only notes or only transcripts."),
		mcp.WithString("class", mcp.Description("Optional document class"), mcp.Enum("note", "transcript")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("find_by_sync_key",
		mcp.WithDescription("List every document holding a granola_id."),
		mcp.WithString("sync_key", mcp.Required(), mcp.Description("The granola_id value")),
	), s.findBySyncKey)

	s.mcp.AddTool(mcp.NewTool("duplicate_stats",
		mcp.WithDescription("Count groups of non-transcript documents sharing a granola_id."),
	), s.duplicateStats)

	s.mcp.AddTool(mcp.NewTool("get_note_contract",
		mcp.WithDescription("Returns the sync document contract. "+
			"Call this before creating documents so the duplicate guard can recognise them."),
	), s.getNoteContract)

	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Sync Document Contract",
			mcp.WithResourceDescription("How synced meeting documents are keyed and classified."),
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

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.svc.CreateNote(ctx, path, []byte(content))
	if err != nil {
		if errors.Is(err, apperr.ErrAlreadyExists) {
			return mcp.NewToolResultError(fmt.Sprintf("note already exists: %s", path)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	if res.Redirected {
		return mcp.NewToolResultText(fmt.Sprintf("duplicate prevented: %s already holds %s", res.Note.Path, res.Note.SyncKey)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", res.Note.Path)), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.GetNote(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return mcp.NewToolResultText(note.Content), nil
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var class models.DocClass
	if c, err := req.RequireString("class"); err == nil {
		class = models.DocClass(c)
	}

	var paths []string
	for offset := 0; ; {
		items, total := s.svc.ListNotes(ctx, 500, offset, class)
		for _, it := range items {
			paths = append(paths, it.Path)
		}
		offset += len(items)
		if len(items) == 0 || offset >= total {
			break
		}
	}
	if len(paths) == 0 {
		return mcp.NewToolResultText("no documents found"), nil
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) findBySyncKey(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("sync_key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	items := s.svc.FindBySyncKey(ctx, key)
	if len(items) == 0 {
		return mcp.NewToolResultText("no documents found"), nil
	}
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = fmt.Sprintf("%s (%s)", it.Path, it.Class)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) duplicateStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, _ := json.MarshalIndent(s.svc.DuplicateStats(ctx), "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getNoteContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readNoteFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}
