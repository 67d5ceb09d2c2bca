package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/tgxsync/internal/scheduler"
	"github.com/kalambet/tgxsync/internal/storage"
	"github.com/kalambet/tgxsync/internal/syncer"
)

// --- mocks ---

type mockRunner struct {
	running bool
	runFn   func(ctx context.Context) (syncer.Summary, error)
}

func (m *mockRunner) RunOnce(ctx context.Context) (syncer.Summary, error) {
	return m.runFn(ctx)
}

func (m *mockRunner) Running() bool { return m.running }

// --- helpers ---

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedStore(t *testing.T, store *storage.Store) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.InsertTorrents(ctx, []storage.Torrent{
		{InfoHash: "h1", Name: "n1", Category: "c"},
		{InfoHash: "h2", Name: "n2", Category: "c"},
	}); err != nil {
		t.Fatalf("seeding torrents: %v", err)
	}
	now := time.Now().UTC()
	if err := store.RecordRun(ctx, storage.Run{
		ID: "run-1", StartedAt: now.Add(-time.Second), FinishedAt: now,
		Status: storage.RunStatusOK, Records: 2, Inserted: 2,
	}); err != nil {
		t.Fatalf("seeding run: %v", err)
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// --- tests ---

func TestMCPTool_TorrentCount(t *testing.T) {
	store := newTestStore(t)
	seedStore(t, store)

	result, err := mcpTorrentCount(MCPDeps{Store: store})(context.Background(), makeCallToolRequest("torrent_count", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "2" {
		t.Fatalf("expected 2, got %s", got)
	}
}

func TestMCPTool_SyncStatus(t *testing.T) {
	store := newTestStore(t)
	seedStore(t, store)
	deps := MCPDeps{Store: store, Runner: &mockRunner{running: true}}

	result, err := mcpSyncStatus(deps)(context.Background(), makeCallToolRequest("sync_status", map[string]interface{}{"limit": 3}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var status StatusResponse
	if err := json.Unmarshal([]byte(toolText(t, result)), &status); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if status.Torrents != 2 || !status.Running {
		t.Errorf("status = %+v", status)
	}
	if len(status.Runs) != 1 || status.Runs[0].ID != "run-1" || status.Runs[0].DurationMS != 1000 {
		t.Errorf("runs = %+v", status.Runs)
	}
}

func TestMCPTool_SyncNow(t *testing.T) {
	store := newTestStore(t)
	deps := MCPDeps{Store: store, Runner: &mockRunner{runFn: func(context.Context) (syncer.Summary, error) {
		return syncer.Summary{RunID: "r", Lines: 6, Records: 5, Inserted: 4, Marker: "m"}, nil
	}}}

	result, err := mcpSyncNow(deps)(context.Background(), makeCallToolRequest("sync_now", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var view SummaryView
	if err := json.Unmarshal([]byte(toolText(t, result)), &view); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if view.Inserted != 4 || view.Lines != 6 || view.Status != storage.RunStatusOK {
		t.Errorf("summary = %+v", view)
	}
}

func TestMCPTool_SyncNow_Failure(t *testing.T) {
	deps := MCPDeps{Store: newTestStore(t), Runner: &mockRunner{runFn: func(context.Context) (syncer.Summary, error) {
		return syncer.Summary{RunID: "r"}, errors.New("fetching dump: status 502")
	}}}

	result, _ := mcpSyncNow(deps)(context.Background(), makeCallToolRequest("sync_now", nil))
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if text := toolText(t, result); !strings.Contains(text, "status 502") {
		t.Errorf("error text = %s", text)
	}
}

func TestMCPTool_SyncNow_InProgress(t *testing.T) {
	deps := MCPDeps{Store: newTestStore(t), Runner: &mockRunner{runFn: func(context.Context) (syncer.Summary, error) {
		return syncer.Summary{}, scheduler.ErrRunInProgress
	}}}

	result, _ := mcpSyncNow(deps)(context.Background(), makeCallToolRequest("sync_now", nil))
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if text := toolText(t, result); !strings.Contains(text, "already in progress") {
		t.Errorf("error text = %s", text)
	}
}

func TestMCPTool_SyncNow_NoRunner(t *testing.T) {
	result, _ := mcpSyncNow(MCPDeps{Store: newTestStore(t)})(context.Background(), makeCallToolRequest("sync_now", nil))
	if !result.IsError {
		t.Fatal("expected error result without a runner")
	}
}

func TestMCPResource_RecentRuns(t *testing.T) {
	store := newTestStore(t)
	seedStore(t, store)

	contents, err := mcpResourceRecentRuns(MCPDeps{Store: store})(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "sync://runs/recent"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var runs []RunView
	if err := json.Unmarshal([]byte(tc.Text), &runs); err != nil {
		t.Fatalf("failed to parse runs JSON: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != storage.RunStatusOK {
		t.Errorf("runs = %+v", runs)
	}
}
