package ingest

import (
	"context"
	"log/slog"
	"time"
)

// DuplicateDeleter removes every torrent row for which a row with the same
// info_hash and a smaller id exists.
type DuplicateDeleter interface {
	DeleteDuplicates(ctx context.Context) (int, error)
}

// DeduplicationError reports a failed deduplication pass. Rows written by the
// preceding upsert are unaffected.
type DeduplicationError struct {
	Err error
}

func (e *DeduplicationError) Error() string {
	return "deduplicating torrents: " + e.Err.Error()
}

func (e *DeduplicationError) Unwrap() error {
	return e.Err
}

// Deduplicator runs the post-ingest cleanup pass.
type Deduplicator struct {
	store  DuplicateDeleter
	logger *slog.Logger
}

func NewDeduplicator(store DuplicateDeleter) *Deduplicator {
	return &Deduplicator{store: store, logger: slog.Default()}
}

// Deduplicate deletes duplicate rows, keeping the lowest id per info_hash,
// and returns how many rows were removed.
func (d *Deduplicator) Deduplicate(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := d.store.DeleteDuplicates(ctx)
	if err != nil {
		return 0, &DeduplicationError{Err: err}
	}
	d.logger.Debug("deduplication finished", "deleted", n, "elapsed", time.Since(start))
	return n, nil
}
