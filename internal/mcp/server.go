package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"runningnotes/internal/flowcells"
	"runningnotes/internal/middleware"
	"runningnotes/internal/notes"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates an MCP server with tools for running note operations. search may be nil,
// in which case the flowcell search tool is not offered.
func NewServer(svc *notes.Service, search *flowcells.Searcher) *server.MCPServer {
	s := server.NewMCPServer(
		"Running Notes",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("list_running_notes",
			mcp.WithDescription("List the running notes of a project, flowcell, workset or nanopore run, newest first."),
			mcp.WithString("partition_id",
				mcp.Required(),
				mcp.Description("Project id (e.g. 'P12345'), flowcell id, workset name or nanopore run name"),
			),
			mcp.WithBoolean("render_html",
				mcp.Description("Optional: return each note rendered from markdown to HTML"),
			),
		),
		handleListNotes(svc),
	)

	s.AddTool(
		mcp.NewTool("get_running_note",
			mcp.WithDescription("Get a single running note by its id ({partition}:{timestamp})."),
			mcp.WithString("id",
				mcp.Required(),
				mcp.Description("The note id"),
			),
		),
		handleGetNote(svc),
	)

	s.AddTool(
		mcp.NewTool("get_latest_sticky_note",
			mcp.WithDescription("Get the newest note of a partition carrying the Sticky category."),
			mcp.WithString("partition_id",
				mcp.Required(),
				mcp.Description("Project id, flowcell id, workset name or nanopore run name"),
			),
		),
		handleLatestSticky(svc),
	)

	s.AddTool(
		mcp.NewTool("create_running_note",
			mcp.WithDescription("File a running note as the user authenticated by the auth proxy. "+
				"Users tagged with @handle are notified, project notes also notify the project coordinator, and "+
				"flowcell, workset and nanopore notes are copied to every linked project."),
			mcp.WithString("partition_id",
				mcp.Required(),
				mcp.Description("Entity the note is filed on"),
			),
			mcp.WithString("note",
				mcp.Required(),
				mcp.Description("Markdown note text"),
			),
			mcp.WithString("note_type",
				mcp.Required(),
				mcp.Enum(string(notes.TypeProject), string(notes.TypeFlowcell), string(notes.TypeWorkset), string(notes.TypeFlowcellONT)),
				mcp.Description("Kind of entity partition_id names"),
			),
			mcp.WithArray("categories",
				mcp.WithStringItems(),
				mcp.Description("Optional: category labels, e.g. 'Sticky', 'Lab', 'Bioinformatics'"),
			),
		),
		handleCreateNote(svc),
	)

	if search != nil {
		s.AddTool(
			mcp.NewTool("search_flowcells",
				mcp.WithDescription("Find sequencing runs whose name contains the query."),
				mcp.WithString("query",
					mcp.Required(),
					mcp.Description("Part of a run name, e.g. a flowcell id"),
				),
			),
			handleSearchFlowcells(search),
		)
	}

	return s
}

// HTTPContext carries the proxy identity of an MCP HTTP request into tool calls.
func HTTPContext(ctx context.Context, r *http.Request) context.Context {
	if id, ok := middleware.IdentityFromHeaders(r); ok {
		return middleware.ContextWithIdentity(ctx, id)
	}
	return ctx
}

// RenderedNote is a note with its markdown converted to HTML.
type RenderedNote struct {
	CreatedAtUTC string `json:"created_at_utc"`
	User         string `json:"user"`
	HTML         string `json:"html"`
}

func handleListNotes(svc *notes.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		partition, err := req.RequireString("partition_id")
		if err != nil {
			return mcp.NewToolResultError("partition_id is required"), nil
		}

		timeline, err := svc.List(ctx, partition)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to list notes: %v", err)), nil
		}

		if !req.GetBool("render_html", false) {
			data, _ := json.MarshalIndent(timeline, "", "  ")
			return mcp.NewToolResultText(string(data)), nil
		}

		rendered := make([]RenderedNote, len(timeline))
		for i, n := range timeline {
			rendered[i] = RenderedNote{
				CreatedAtUTC: n.CreatedAtUTC,
				User:         n.User,
				HTML:         svc.RenderMarkdown(n.Note),
			}
		}
		data, _ := json.MarshalIndent(rendered, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	}
}

func handleGetNote(svc *notes.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError("id is required"), nil
		}

		note, err := svc.Get(ctx, id)
		if errors.Is(err, notes.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("note %s not found", id)), nil
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to get note: %v", err)), nil
		}

		data, _ := json.MarshalIndent(note, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	}
}

func handleLatestSticky(svc *notes.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		partition, err := req.RequireString("partition_id")
		if err != nil {
			return mcp.NewToolResultError("partition_id is required"), nil
		}

		timeline, err := svc.LatestSticky(ctx, partition)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to get sticky note: %v", err)), nil
		}

		data, _ := json.MarshalIndent(timeline, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	}
}

func handleCreateNote(svc *notes.Service) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		partition, err := req.RequireString("partition_id")
		if err != nil {
			return mcp.NewToolResultError("partition_id is required"), nil
		}
		text, err := req.RequireString("note")
		if err != nil || text == "" {
			return mcp.NewToolResultError("note is required"), nil
		}
		noteType, err := req.RequireString("note_type")
		if err != nil {
			return mcp.NewToolResultError("note_type is required"), nil
		}
		author, ok := middleware.IdentityFrom(ctx)
		if !ok {
			return mcp.NewToolResultError("no authenticated user"), nil
		}

		note, err := svc.Create(ctx, partition, notes.CreateNoteInput{
			Note:       text,
			Categories: req.GetStringSlice("categories", []string{}),
			NoteType:   noteType,
		}, notes.Author{Name: author.Name, Email: author.Email})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to create note: %v", err)), nil
		}

		data, _ := json.MarshalIndent(note, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	}
}

func handleSearchFlowcells(search *flowcells.Searcher) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError("query is required"), nil
		}

		results, err := search.Search(ctx, query)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to search flowcells: %v", err)), nil
		}

		data, _ := json.MarshalIndent(results, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	}
}
