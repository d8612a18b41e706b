package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/trackwatch/internal/store"
)

// defaultRunLimit caps trackwatch_recent_runs when no limit is given.
const defaultRunLimit = 10

// Server exposes trackwatch's sync state as MCP tools.
type Server struct {
	store    store.Store
	projects []string
	version  string
}

// NewServer creates the MCP server wrapper. projects are the configured
// tracker projects; they are listed even before their first sync.
func NewServer(s store.Store, projects []string, version string) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{store: s, projects: projects, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("trackwatch", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.watermarksTool())
	srv.AddTool(s.recentRunsTool())
	srv.AddTool(s.clearWatermarkTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

type watermarkOut struct {
	Project      string     `json:"project"`
	Configured   bool       `json:"configured"`
	SyncedAt     *time.Time `json:"synced_at,omitempty"`
	LastEventKey string     `json:"last_event_key,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

// trackwatch_watermarks
func (s *Server) watermarksTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trackwatch_watermarks",
		mcp.WithDescription("List the sync watermark of every project: the publish time of the newest feed event already notified. Projects that were never synced have no synced_at."),
	)
	return tool, s.handleWatermarks
}

func (s *Server) handleWatermarks(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stored, err := s.store.ListWatermarks(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list watermarks: %v", err)), nil
	}

	out := make([]watermarkOut, 0, len(stored)+len(s.projects))
	seen := make(map[string]bool, len(stored))
	for _, w := range stored {
		synced, updated := w.SyncedAt, w.UpdatedAt
		out = append(out, watermarkOut{
			Project:      w.Project,
			Configured:   slices.Contains(s.projects, w.Project),
			SyncedAt:     &synced,
			LastEventKey: w.LastEventKey,
			UpdatedAt:    &updated,
		})
		seen[w.Project] = true
	}
	for _, p := range s.projects {
		if !seen[p] {
			out = append(out, watermarkOut{Project: p, Configured: true})
		}
	}

	return jsonResult(out)
}

type runOut struct {
	ID         string     `json:"id"`
	Project    string     `json:"project"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	MinDate    time.Time  `json:"min_date"`
	Sessions   int        `json:"sessions"`
	Delivered  int        `json:"delivered"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
}

// trackwatch_recent_runs
func (s *Server) recentRunsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trackwatch_recent_runs",
		mcp.WithDescription("List recent polling cycles, newest first, with session counts and outcome (ok, partial, failed)."),
		mcp.WithString("project", mcp.Description("Only runs for this project")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 10)")),
	)
	return tool, s.handleRecentRuns
}

func (s *Server) handleRecentRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := request.GetString("project", "")
	limit := request.GetInt("limit", defaultRunLimit)
	if limit <= 0 {
		return mcp.NewToolResultError("limit must be positive"), nil
	}

	runs, err := s.store.ListPollRuns(ctx, project, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}

	out := make([]runOut, len(runs))
	for i, r := range runs {
		out[i] = runOut{
			ID:         r.ID,
			Project:    r.Project,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			MinDate:    r.MinDate,
			Sessions:   r.Sessions,
			Delivered:  r.Delivered,
			Status:     string(r.Status),
			Error:      r.Error,
		}
	}
	return jsonResult(out)
}

// trackwatch_clear_watermark
func (s *Server) clearWatermarkTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("trackwatch_clear_watermark",
		mcp.WithDescription("Forget a project's watermark so the next cycle re-reads the whole lookback window. Sessions inside the window are notified again."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project key, e.g. ABC")),
	)
	return tool, s.handleClearWatermark
}

func (s *Server) handleClearWatermark(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project, err := request.RequireString("project")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: project"), nil
	}

	prev, err := s.store.GetWatermark(ctx, project)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return mcp.NewToolResultText(fmt.Sprintf("project %s has no watermark", project)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to read watermark: %v", err)), nil
	}

	if err := s.store.DeleteWatermark(ctx, project); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to clear watermark: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("cleared watermark for %s (was %s)",
		project, prev.SyncedAt.Format(time.RFC3339))), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
