package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key    string
	typ    keyType
	env    string
	secret bool
	// account is the keychain account consulted for secrets missing from env.
	account string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "source.url", typ: kString, env: "TGXSYNC_SOURCE_URL",
		apply:   func(cfg *Config, v any) { cfg.Source.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.URL },
	},
	{
		key: "source.timeout", typ: kString, env: "TGXSYNC_SOURCE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Source.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.Timeout },
	},
	{
		key: "source.user_agent", typ: kString, env: "TGXSYNC_SOURCE_USER_AGENT",
		apply:   func(cfg *Config, v any) { cfg.Source.UserAgent = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.UserAgent },
	},
	{
		key: "storage.backend", typ: kString, env: "TGXSYNC_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TGXSYNC_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.postgres_dsn", typ: kString, env: "TGXSYNC_POSTGRES_DSN",
		secret: true, account: "postgres_dsn",
		apply:   func(cfg *Config, v any) { cfg.Storage.PostgresDSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.PostgresDSN },
	},
	{
		key: "storage.postgres_max_conns", typ: kInt, env: "TGXSYNC_STORAGE_POSTGRES_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Storage.PostgresMaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.PostgresMaxConns },
	},
	{
		key: "sync.batch_size", typ: kInt, env: "TGXSYNC_SYNC_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Sync.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Sync.BatchSize },
	},
	{
		key: "sync.workers", typ: kInt, env: "TGXSYNC_SYNC_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Sync.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Sync.Workers },
	},
	{
		key: "sync.marker", typ: kString, env: "TGXSYNC_SYNC_MARKER",
		apply:   func(cfg *Config, v any) { cfg.Sync.Marker = v.(string) },
		extract: func(cfg Config) any { return cfg.Sync.Marker },
	},
	{
		key: "sync.marker_file", typ: kString, env: "TGXSYNC_SYNC_MARKER_FILE",
		apply:   func(cfg *Config, v any) { cfg.Sync.MarkerFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Sync.MarkerFile },
	},
	{
		key: "sync.interval", typ: kString, env: "TGXSYNC_SYNC_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Sync.Interval = v.(string) },
		extract: func(cfg Config) any { return cfg.Sync.Interval },
	},
	{
		key: "server.port", typ: kInt, env: "TGXSYNC_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "TGXSYNC_API_TOKEN",
		secret: true, account: apiTokenAccount,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "log.level", typ: kString, env: "TGXSYNC_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
