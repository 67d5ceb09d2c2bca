package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/tgxsync/internal/api"
	"github.com/kalambet/tgxsync/internal/config"
	"github.com/kalambet/tgxsync/internal/scheduler"
	"github.com/kalambet/tgxsync/internal/source"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the tgxsync daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running tgxsync daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon state, stored torrents and recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve sync tools over MCP (stdio transport)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "tgxsync.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func localClient(port int) *apiClient {
	return &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", port),
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "tgxsync version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Ensure API token exists in platform secret store.
	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Check if a daemon is already running via the health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	if localClient(cfg.Server.Port).healthy(context.Background()) {
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("tgxsync is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("tgxsync is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signalContext()
	defer stop()

	store, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	fetcher := source.NewBreaker(newSourceClient(cfg), source.BreakerSettings{Name: "source"})
	sched := scheduler.New(newSyncer(cfg, fetcher, store, false), cfg.SyncInterval())

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewHandler(api.ServerDeps{
			Store:     store,
			Scheduler: sched,
			Token:     apiToken,
			Version:   version,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()
	slog.Info("scheduler started", "interval", cfg.SyncInterval(), "url", cfg.Source.URL)

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "tgxsync listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	var serveErr error
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("server error: %w", err)
		}
		stop()
	}

	// Graceful shutdown with timeout. The in-flight run sees the cancelled
	// context and stops without writing the marker.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)
	<-schedDone

	if serveErr != nil {
		return serveErr
	}
	return shutdownErr
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("tgxsync is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop tgxsync (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to tgxsync (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := localClient(cfg.Server.Port)
	if !client.healthy(ctx) {
		printStatus("Server", "stopped")
		return showLocalStatus(ctx, cfg)
	}

	status, err := client.status(ctx, 5)
	if err != nil {
		printStatus("Server", "error (%v)", err)
		return nil
	}
	state := "idle"
	if status.Running {
		state = "syncing"
	}
	printStatus("Server", "running on port %d (%s, version %s)", cfg.Server.Port, state, status.Version)
	printStatus("Torrents", "%d", status.Torrents)
	printStatus("Source", "%s", cfg.Source.URL)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printRuns(status.Runs)
	return nil
}

// showLocalStatus reads the store directly when no daemon is running.
func showLocalStatus(ctx context.Context, cfg config.Config) error {
	store, err := openBackend(ctx, cfg)
	if err != nil {
		printStatus("Storage", "unavailable (%v)", err)
		return nil
	}
	defer closeStore(store)

	if count, err := store.CountTorrents(ctx); err == nil {
		printStatus("Torrents", "%d", count)
	}
	if m, err := newMarker(cfg, store).Read(ctx); err == nil && m != "" {
		printStatus("Marker", "%s", m)
	}
	printStatus("Source", "%s", cfg.Source.URL)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)

	runs, err := store.RecentRuns(ctx, 5)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	views := make([]api.RunView, len(runs))
	for i, r := range runs {
		views[i] = api.NewRunView(r)
	}
	printRuns(views)
	return nil
}

func runMCP() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	store, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	// No loop: the scheduler only serializes sync_now calls.
	sched := scheduler.New(newSyncer(cfg, newSourceClient(cfg), store, false), cfg.SyncInterval())
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:   store,
		Runner:  sched,
		Version: version,
	})

	slog.Info("MCP server started (stdio transport)")
	stdioSrv := server.NewStdioServer(mcpSrv)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
