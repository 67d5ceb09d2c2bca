package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/kalambet/tgxsync/internal/config"
	"github.com/kalambet/tgxsync/internal/marker"
	"github.com/kalambet/tgxsync/internal/storage"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestTriggerCommand_Accepted(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /sync": `{"status":"accepted"}`,
	})

	if err := ts.client().triggerSync(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Method != "POST" || ts.requests[0].Path != "/sync" {
		t.Errorf("request = %s %s", ts.requests[0].Method, ts.requests[0].Path)
	}
	if ts.requests[0].Auth != "Bearer test-token" {
		t.Errorf("auth = %q", ts.requests[0].Auth)
	}
}

func TestTriggerCommand_Conflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"message":"sync run already in progress","type":"conflict_error"}}`))
	}))
	defer srv.Close()

	client := &apiClient{baseURL: srv.URL, token: "t", httpClient: srv.Client()}
	err := client.triggerSync(ctx)
	if err == nil {
		t.Fatal("expected error for 409 response")
	}
	if !strings.Contains(err.Error(), "409") || !strings.Contains(err.Error(), "in progress") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestStatusCommand_Running(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
		"GET /status": `{"version":"1.0.0","torrents":42,"running":true,"runs":[{"id":"r1","status":"ok","records":42,"inserted":42}]}`,
	})

	client := ts.client()
	if !client.healthy(ctx) {
		t.Fatal("expected healthy server")
	}

	status, err := client.status(ctx, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Torrents != 42 || !status.Running || status.Version != "1.0.0" {
		t.Errorf("status = %+v", status)
	}
	if len(status.Runs) != 1 || status.Runs[0].ID != "r1" {
		t.Errorf("runs = %+v", status.Runs)
	}
	if got := ts.requests[len(ts.requests)-1].Path; got != "/status?limit=5" {
		t.Errorf("path = %q, want /status?limit=5", got)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	if client.healthy(ctx) {
		t.Fatal("stopped server reported healthy")
	}
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}
	if got := statusLabel("partial"); got != "partial" {
		t.Errorf("statusLabel = %q, want plain text", got)
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestAPIClientAuth(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = "my-secret-token"

	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Auth != "Bearer my-secret-token" {
		t.Errorf("auth = %q, want 'Bearer my-secret-token'", ts.requests[0].Auth)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"invalid or missing bearer token","type":"authentication_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.post(ctx, "/sync", nil)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want it to contain '401'", err.Error())
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4100
	cfg.Sync.BatchSize = 500

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "sync.batch_size" && k.Value == "500" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find sync.batch_size=500 in ShowAll output")
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "nested"))
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("expected error after removing PID file")
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	want := []string{"sync", "dedup", "marker", "runs", "trigger", "config", "start", "stop", "status", "mcp", "version"}
	have := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestConfigSetCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"config", "set", "sync.workers"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error for missing value argument")
	}
}

// --- sync wiring ---

const testLastModified = "Mon, 02 Jan 2006 15:04:05 GMT"

func dumpServer(t *testing.T, body string) (*httptest.Server, *int) {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(body))
	zw.Close()
	gz := buf.Bytes()

	served := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-Modified-Since") == testLastModified {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		served++
		w.Header().Set("Last-Modified", testLastModified)
		w.Write(gz)
	}))
	t.Cleanup(srv.Close)
	return srv, &served
}

func testConfig(t *testing.T, url string) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Source:  config.SourceConfig{URL: url, Timeout: "5s", UserAgent: "tgxsync-test"},
		Storage: config.StorageConfig{Backend: config.BackendSQLite, DataDir: dir},
		Sync: config.SyncConfig{
			BatchSize:  2,
			Workers:    2,
			Marker:     config.MarkerFile,
			MarkerFile: filepath.Join(dir, "lastFetch.txt"),
			Interval:   "1h",
		},
		Log: config.LogConfig{Level: "info"},
	}
}

func TestRunSync_EndToEnd(t *testing.T) {
	srv, served := dumpServer(t, "h1|Ubuntu|Software\nbroken line\nh2|Debian|Software\nh3|Movie|Video\n")
	cfg := testConfig(t, srv.URL)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}

	summary, err := runSync(ctx, cfg, false)
	if err != nil {
		t.Fatalf("runSync: %v", err)
	}
	if summary.Records != 3 || summary.Skipped != 1 || summary.Inserted != 3 {
		t.Errorf("summary = %+v", summary)
	}

	data, err := os.ReadFile(cfg.Sync.MarkerFile)
	if err != nil {
		t.Fatalf("reading marker: %v", err)
	}
	if strings.TrimSpace(string(data)) != testLastModified {
		t.Errorf("marker = %q, want %q", data, testLastModified)
	}

	summary, err = runSync(ctx, cfg, false)
	if err != nil {
		t.Fatalf("second runSync: %v", err)
	}
	if !summary.NotModified {
		t.Error("second run should be not modified")
	}
	if *served != 1 {
		t.Errorf("body served %d times, want 1", *served)
	}

	summary, err = runSync(ctx, cfg, true)
	if err != nil {
		t.Fatalf("forced runSync: %v", err)
	}
	if summary.NotModified || summary.Inserted != 0 || summary.Records != 3 {
		t.Errorf("forced summary = %+v", summary)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer store.Close()
	if n, _ := store.CountTorrents(ctx); n != 3 {
		t.Errorf("torrents = %d, want 3", n)
	}
	runs, err := store.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Errorf("recorded runs = %d, want 3", len(runs))
	}
}

func TestNewMarker_SelectsBackend(t *testing.T) {
	cfg := testConfig(t, "http://unused")
	store, err := openBackend(ctx, cfg)
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	defer store.Close()

	if _, ok := newMarker(cfg, store).(*marker.File); !ok {
		t.Errorf("marker for %q = %T, want *marker.File", cfg.Sync.Marker, newMarker(cfg, store))
	}

	cfg.Sync.Marker = config.MarkerState
	m := newMarker(cfg, store)
	if _, ok := m.(*marker.State); !ok {
		t.Fatalf("marker for %q = %T, want *marker.State", cfg.Sync.Marker, m)
	}
	if err := m.Write(ctx, testLastModified); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got, _ := m.Read(ctx); got != testLastModified {
		t.Errorf("Read = %q", got)
	}
}

func TestSetupLogging(t *testing.T) {
	defer setupLogging("info")

	setupLogging("debug")
	if !slog.Default().Enabled(ctx, slog.LevelDebug) {
		t.Error("debug level not enabled after setupLogging(debug)")
	}
	setupLogging("error")
	if slog.Default().Enabled(ctx, slog.LevelInfo) {
		t.Error("info level enabled after setupLogging(error)")
	}
}
