package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/tgxsync/internal/source"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"

	MarkerFile  = "file"
	MarkerState = "state"

	keychainService = "tgxsync"
	markerFileName  = "lastFetch.txt"
)

type Config struct {
	Source  SourceConfig
	Storage StorageConfig
	Sync    SyncConfig
	Server  ServerConfig
	Log     LogConfig
}

type SourceConfig struct {
	URL       string
	Timeout   string
	UserAgent string
}

type StorageConfig struct {
	Backend          string
	DataDir          string
	PostgresDSN      string
	PostgresMaxConns int
}

type SyncConfig struct {
	BatchSize  int
	Workers    int
	Marker     string
	MarkerFile string
	Interval   string
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Source: SourceConfig{
			URL:       source.DefaultURL,
			Timeout:   "60s",
			UserAgent: "tgxsync/1.0",
		},
		Storage: StorageConfig{
			Backend:          BackendSQLite,
			DataDir:          defaultDataDir(),
			PostgresMaxConns: 4,
		},
		Sync: SyncConfig{
			BatchSize: 500,
			Workers:   4,
			Marker:    MarkerFile,
			Interval:  "1h",
		},
		Server: ServerConfig{
			Port: 4100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.tgxsync.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/tgxsync/config.json
// and secrets come from environment variables or
// $XDG_DATA_HOME/tgxsync/secrets.json.
//
// Environment variables (TGXSYNC_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Secrets not provided via env fall back to the platform keychain.
	for _, s := range specs {
		if !s.secret || s.account == "" || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := kc.Get(keychainService, s.account); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if cfg.Sync.MarkerFile == "" {
		cfg.Sync.MarkerFile = filepath.Join(cfg.Storage.DataDir, markerFileName)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case BackendSQLite:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("missing required config: storage.postgres_dsn. "+
				"Set it via environment variable TGXSYNC_POSTGRES_DSN%s", secretHint("postgres_dsn")))
		}
		if c.Storage.PostgresMaxConns <= 0 {
			errs = append(errs, fmt.Errorf("storage.postgres_max_conns must be positive, got %d", c.Storage.PostgresMaxConns))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be %q or %q, got %q", BackendSQLite, BackendPostgres, c.Storage.Backend))
	}

	switch c.Sync.Marker {
	case MarkerFile, MarkerState:
	default:
		errs = append(errs, fmt.Errorf("sync.marker must be %q or %q, got %q", MarkerFile, MarkerState, c.Sync.Marker))
	}

	if c.Sync.BatchSize < 1 || c.Sync.BatchSize > 10000 {
		errs = append(errs, fmt.Errorf("sync.batch_size must be between 1 and 10000, got %d", c.Sync.BatchSize))
	}
	if c.Sync.Workers <= 0 {
		errs = append(errs, fmt.Errorf("sync.workers must be positive, got %d", c.Sync.Workers))
	}
	if c.Source.URL == "" {
		errs = append(errs, errors.New("source.url must not be empty"))
	}
	if _, err := parsePositiveDuration(c.Source.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("source.timeout: %w", err))
	}
	if _, err := parsePositiveDuration(c.Sync.Interval); err != nil {
		errs = append(errs, fmt.Errorf("sync.interval: %w", err))
	}

	return errors.Join(errs...)
}

// SourceTimeout returns source.timeout parsed. Call after Validate.
func (c Config) SourceTimeout() time.Duration {
	d, _ := parsePositiveDuration(c.Source.Timeout)
	return d
}

// SyncInterval returns sync.interval parsed. Call after Validate.
func (c Config) SyncInterval() time.Duration {
	d, _ := parsePositiveDuration(c.Sync.Interval)
	return d
}

func parsePositiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", s)
	}
	return d, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
