package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/tgxsync/internal/api"
	"github.com/kalambet/tgxsync/internal/config"
	"github.com/kalambet/tgxsync/internal/ingest"
	"github.com/kalambet/tgxsync/internal/marker"
	"github.com/kalambet/tgxsync/internal/syncer"
)

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	setupLogging(cfg.Log.Level)
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one synchronization in the foreground",
	Long: `Run one synchronization in the foreground.

The dump is fetched conditionally: when it has not changed since the last
successful run nothing is downloaded.

Examples:
  tgxsync sync
  tgxsync sync --force
  tgxsync sync --url https://mirror.example.com/tgx24hdump.txt.gz`,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		url, _ := cmd.Flags().GetString("url")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if url != "" {
			cfg.Source.URL = url
		}

		ctx, stop := signalContext()
		defer stop()

		printStep("Syncing from %s", cfg.Source.URL)
		summary, err := runSync(ctx, cfg, force)
		printSummary(api.NewSummaryView(summary, err))
		if err != nil {
			printError("sync failed")
			return err
		}
		printSuccess("Sync complete")
		return nil
	},
}

func runSync(ctx context.Context, cfg config.Config, force bool) (syncer.Summary, error) {
	store, err := openBackend(ctx, cfg)
	if err != nil {
		return syncer.Summary{}, err
	}
	defer closeStore(store)

	return newSyncer(cfg, newSourceClient(cfg), store, force).Run(ctx)
}

func init() {
	syncCmd.Flags().Bool("force", false, "ignore the fetch marker and download unconditionally")
	syncCmd.Flags().String("url", "", "dump URL (overrides source.url)")
}

// --- dedup ---

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Remove duplicate torrents, keeping the earliest row per hash",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		deleted, err := ingest.NewDeduplicator(store).Deduplicate(ctx)
		if err != nil {
			return err
		}
		printSuccess("Removed %d duplicate rows", deleted)
		return nil
	},
}

// --- marker ---

var markerCmd = &cobra.Command{
	Use:   "marker",
	Short: "Inspect or reset the fetch marker",
}

var markerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the Last-Modified value of the last ingested dump",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMarker(func(ctx context.Context, cfg config.Config, m marker.Store) error {
			v, err := m.Read(ctx)
			if err != nil {
				return err
			}
			if v == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "(none)")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		})
	},
}

var markerResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the fetch marker so the next sync downloads the full dump",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMarker(func(ctx context.Context, cfg config.Config, m marker.Store) error {
			if err := m.Reset(ctx); err != nil {
				return err
			}
			printSuccess("Fetch marker cleared (%s)", cfg.Sync.Marker)
			return nil
		})
	},
}

func withMarker(fn func(ctx context.Context, cfg config.Config, m marker.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	store, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)

	return fn(ctx, cfg, newMarker(cfg, store))
}

func init() {
	markerCmd.AddCommand(markerShowCmd)
	markerCmd.AddCommand(markerResetCmd)
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent sync runs from the local store",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := context.Background()

		store, err := openBackend(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore(store)

		runs, err := store.RecentRuns(ctx, limit)
		if err != nil {
			return fmt.Errorf("listing runs: %w", err)
		}
		views := make([]api.RunView, len(runs))
		for i, r := range runs {
			views[i] = api.NewRunView(r)
		}
		printRuns(views)
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 10, "maximum number of runs to show")
}

// --- trigger ---

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Ask the running daemon to sync now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.triggerSync(cmd.Context()); err != nil {
			return err
		}
		printSuccess("Sync started; see `tgxsync status` for the result")
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

