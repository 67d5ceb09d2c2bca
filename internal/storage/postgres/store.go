// Package postgres provides a Postgres-backed implementation of
// storage.Backend for deployments that keep the torrent table in a shared
// database instead of the embedded SQLite file.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kalambet/tgxsync/internal/storage"
)

var _ storage.Backend = (*Store)(nil)

// schema mirrors the SQLite migrations. Statements are idempotent and run on
// every Open.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS torrents (
		id        BIGSERIAL PRIMARY KEY,
		info_hash TEXT NOT NULL,
		name      TEXT NOT NULL,
		category  TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_torrents_name ON torrents (name)`,
	// Legacy rows predating the unique index: keep the lowest id per hash.
	deleteDuplicatesSQL,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_torrents_info_hash ON torrents (info_hash)`,
	`CREATE TABLE IF NOT EXISTS sync_state (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sync_runs (
		id             TEXT PRIMARY KEY,
		started_at     TIMESTAMPTZ NOT NULL,
		finished_at    TIMESTAMPTZ NOT NULL,
		status         TEXT NOT NULL,
		not_modified   BOOLEAN NOT NULL DEFAULT FALSE,
		records        INTEGER NOT NULL DEFAULT 0,
		skipped        INTEGER NOT NULL DEFAULT 0,
		inserted       INTEGER NOT NULL DEFAULT 0,
		deleted        INTEGER NOT NULL DEFAULT 0,
		failed_batches INTEGER NOT NULL DEFAULT 0,
		marker         TEXT NOT NULL DEFAULT '',
		error          TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs (started_at)`,
}

const deleteDuplicatesSQL = `DELETE FROM torrents t
	USING (
		SELECT info_hash, MIN(id) AS min_id
		FROM torrents
		GROUP BY info_hash
		HAVING COUNT(*) > 1
	) d
	WHERE t.info_hash = d.info_hash AND t.id > d.min_id`

// Options tunes the connection pool.
type Options struct {
	MaxConns int
	// SimpleProtocol disables prepared statements, required behind
	// transaction-pooling bouncers.
	SimpleProtocol bool
}

// Store implements storage.Backend on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, verifies the connection and ensures the schema.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 4
	}
	cfg.MaxConns = int32(opts.MaxConns)
	if opts.SimpleProtocol {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

// Close releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// buildInsert renders one multi-row INSERT ... ON CONFLICT DO NOTHING for
// batch together with its positional arguments.
func buildInsert(batch []storage.Torrent) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO torrents (info_hash, name, category) VALUES ")
	args := make([]any, 0, len(batch)*3)
	for i, t := range batch {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * 3
		fmt.Fprintf(&b, "($%d, $%d, $%d)", n+1, n+2, n+3)
		args = append(args, t.InfoHash, t.Name, t.Category)
	}
	b.WriteString(" ON CONFLICT (info_hash) DO NOTHING")
	return b.String(), args
}

func (s *Store) InsertTorrents(ctx context.Context, batch []storage.Torrent) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	query, args := buildInsert(batch)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) DeleteDuplicates(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, deleteDuplicatesSQL)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) CountTorrents(ctx context.Context) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM torrents").Scan(&n); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, "SELECT value FROM sync_state WHERE key = $1", key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	return value, err
}

func (s *Store) SetState(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_state (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, time.Now().UTC(),
	)
	return err
}

func (s *Store) DeleteState(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM sync_state WHERE key = $1", key)
	return err
}

func (s *Store) RecordRun(ctx context.Context, r storage.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_runs (id, started_at, finished_at, status, not_modified, records, skipped, inserted, deleted, failed_batches, marker, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.StartedAt.UTC(), r.FinishedAt.UTC(), r.Status, r.NotModified,
		r.Records, r.Skipped, r.Inserted, r.Deleted, r.FailedBatches, r.Marker, r.Error,
	)
	return err
}

func (s *Store) RecentRuns(ctx context.Context, limit int) ([]storage.Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, started_at, finished_at, status, not_modified, records, skipped, inserted, deleted, failed_batches, marker, error
		FROM sync_runs ORDER BY started_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []storage.Run
	for rows.Next() {
		var r storage.Run
		var records, skipped, inserted, deleted, failed int32
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.NotModified,
			&records, &skipped, &inserted, &deleted, &failed, &r.Marker, &r.Error); err != nil {
			return nil, err
		}
		r.Records, r.Skipped, r.Inserted, r.Deleted, r.FailedBatches =
			int(records), int(skipped), int(inserted), int(deleted), int(failed)
		results = append(results, r)
	}
	return results, rows.Err()
}
