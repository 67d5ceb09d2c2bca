package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/tgxsync/internal/scheduler"
	"github.com/kalambet/tgxsync/internal/syncer"
)

// MCPRunner runs a sync synchronously. *scheduler.Scheduler implements it.
type MCPRunner interface {
	RunOnce(ctx context.Context) (syncer.Summary, error)
	Running() bool
}

var _ MCPRunner = (*scheduler.Scheduler)(nil)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store   StatusStore
	Runner  MCPRunner // optional; if nil, sync_now returns an error
	Version string
}

// SummaryView is the JSON form of a sync summary.
type SummaryView struct {
	RunID         string `json:"run_id"`
	Status        string `json:"status"`
	DurationMS    int64  `json:"duration_ms"`
	NotModified   bool   `json:"not_modified"`
	Lines         int    `json:"lines"`
	Records       int    `json:"records"`
	Skipped       int    `json:"skipped"`
	Inserted      int    `json:"inserted"`
	Deleted       int    `json:"deleted"`
	Batches       int    `json:"batches"`
	FailedBatches int    `json:"failed_batches"`
	Marker        string `json:"marker,omitempty"`
	Error         string `json:"error,omitempty"`
}

func NewSummaryView(s syncer.Summary, err error) SummaryView {
	v := SummaryView{
		RunID:         s.RunID,
		Status:        syncer.Status(s, err),
		DurationMS:    s.Duration().Milliseconds(),
		NotModified:   s.NotModified,
		Lines:         s.Lines,
		Records:       s.Records,
		Skipped:       s.Skipped,
		Inserted:      s.Inserted,
		Deleted:       s.Deleted,
		Batches:       s.Batches,
		FailedBatches: s.FailedBatches,
		Marker:        s.Marker,
	}
	if err != nil {
		v.Error = err.Error()
	}
	return v
}

// NewMCPServer creates an MCP server exposing sync status and control.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"tgxsync",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("tgxsync keeps a local copy of the torrent metadata dump in sync. Use these tools to inspect or trigger synchronization."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("sync_status",
			mcp.WithDescription("Show the number of stored torrents and the most recent sync runs."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of runs to return (default 5)")),
		),
		mcpSyncStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("sync_now",
			mcp.WithDescription("Run a synchronization now and return its summary."),
		),
		mcpSyncNow(deps),
	)

	s.AddTool(
		mcp.NewTool("torrent_count",
			mcp.WithDescription("Return the number of torrents in the local store."),
		),
		mcpTorrentCount(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"sync://runs/recent",
			"Recent Sync Runs",
			mcp.WithResourceDescription("Last 10 recorded sync runs as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentRuns(deps),
	)

	return s
}

func mcpSyncStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		count, err := deps.Store.CountTorrents(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to count torrents: %v", err)), nil
		}
		runs, err := deps.Store.RecentRuns(ctx, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list runs: %v", err)), nil
		}

		resp := StatusResponse{Version: deps.Version, Torrents: count, Runs: make([]RunView, len(runs))}
		if deps.Runner != nil {
			resp.Running = deps.Runner.Running()
		}
		for i, r := range runs {
			resp.Runs[i] = NewRunView(r)
		}

		b, err := json.Marshal(resp)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSyncNow(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Runner == nil {
			return mcpError("sync not available in this mode"), nil
		}

		summary, err := deps.Runner.RunOnce(ctx)
		if errors.Is(err, scheduler.ErrRunInProgress) {
			return mcpError("a sync run is already in progress"), nil
		}

		b, mErr := json.Marshal(NewSummaryView(summary, err))
		if mErr != nil {
			return mcpError(fmt.Sprintf("failed to marshal summary: %v", mErr)), nil
		}
		if err != nil {
			return mcpError(string(b)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpTorrentCount(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		count, err := deps.Store.CountTorrents(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to count torrents: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("%d", count)), nil
	}
}

func mcpResourceRecentRuns(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		runs, err := deps.Store.RecentRuns(ctx, defaultRunsLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}

		views := make([]RunView, len(runs))
		for i, r := range runs {
			views[i] = NewRunView(r)
		}
		b, err := json.Marshal(views)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal runs: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
