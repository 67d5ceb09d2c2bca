package storage

import "context"

// StateKeyFetchMarker is the sync_state key holding the Last-Modified value
// of the last fully ingested snapshot.
const StateKeyFetchMarker = "fetch_marker"

// Backend is the set of store operations the sync pipeline and its
// surfaces need. *Store (SQLite) and *postgres.Store both implement it.
type Backend interface {
	InsertTorrents(ctx context.Context, batch []Torrent) (int, error)
	DeleteDuplicates(ctx context.Context) (int, error)
	CountTorrents(ctx context.Context) (int, error)

	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
	DeleteState(ctx context.Context, key string) error

	RecordRun(ctx context.Context, run Run) error
	RecentRuns(ctx context.Context, limit int) ([]Run, error)

	Close() error
}

var _ Backend = (*Store)(nil)
