package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/kalambet/tgxsync/internal/config"
	"github.com/kalambet/tgxsync/internal/marker"
	"github.com/kalambet/tgxsync/internal/source"
	"github.com/kalambet/tgxsync/internal/storage"
	"github.com/kalambet/tgxsync/internal/storage/postgres"
	"github.com/kalambet/tgxsync/internal/syncer"
)

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// openBackend opens the store selected by storage.backend.
func openBackend(ctx context.Context, cfg config.Config) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		store, err := postgres.Open(ctx, cfg.Storage.PostgresDSN, postgres.Options{MaxConns: cfg.Storage.PostgresMaxConns})
		if err != nil {
			return nil, fmt.Errorf("opening postgres storage: %w", err)
		}
		return store, nil
	default:
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		return store, nil
	}
}

func newMarker(cfg config.Config, store storage.Backend) marker.Store {
	if cfg.Sync.Marker == config.MarkerState {
		return marker.NewState(store)
	}
	return marker.NewFile(cfg.Sync.MarkerFile)
}

func newSourceClient(cfg config.Config) *source.Client {
	return source.New(source.Config{
		Timeout:   cfg.SourceTimeout(),
		UserAgent: cfg.Source.UserAgent,
	})
}

func newSyncer(cfg config.Config, src source.Fetcher, store storage.Backend, force bool) *syncer.Syncer {
	return syncer.New(src, store, newMarker(cfg, store), syncer.Options{
		URL:       cfg.Source.URL,
		BatchSize: cfg.Sync.BatchSize,
		Workers:   cfg.Sync.Workers,
		Force:     force,
	})
}

func closeStore(store storage.Backend) {
	if err := store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}
