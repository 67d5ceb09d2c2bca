// Package ingest writes parsed dump records into the store in batches and
// removes duplicate rows afterwards.
package ingest

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/tgxsync/internal/dump"
	"github.com/kalambet/tgxsync/internal/metrics"
	"github.com/kalambet/tgxsync/internal/storage"
)

const (
	DefaultBatchSize = 500
	DefaultWorkers   = 4
)

// BatchWriter inserts a batch of torrents, skipping rows whose info_hash
// already exists, and returns the number of rows actually inserted.
type BatchWriter interface {
	InsertTorrents(ctx context.Context, batch []storage.Torrent) (int, error)
}

// RecordSource is a pull-based record sequence such as *dump.Parser.
type RecordSource interface {
	Next() bool
	Record() dump.Record
	Err() error
}

var _ RecordSource = (*dump.Parser)(nil)

// BatchWriteError reports a batch the store rejected. Other batches of the
// same run are unaffected.
type BatchWriteError struct {
	// Batch is the 1-based sequence number of the batch within the run.
	Batch     int
	Size      int
	FirstHash string
	Err       error
}

func (e *BatchWriteError) Error() string {
	return fmt.Sprintf("writing batch %d (%d records, first %s): %v", e.Batch, e.Size, e.FirstHash, e.Err)
}

func (e *BatchWriteError) Unwrap() error {
	return e.Err
}

// UpsertResult summarizes one Upsert call.
type UpsertResult struct {
	Records  int
	Inserted int
	Batches  int
	// Failures is ordered by batch number.
	Failures []*BatchWriteError
}

// Upserter groups records into fixed-size batches and writes them with
// bounded concurrency.
type Upserter struct {
	store     BatchWriter
	batchSize int
	workers   int
	logger    *slog.Logger
}

// NewUpserter creates an Upserter. Non-positive batchSize or workers fall
// back to DefaultBatchSize and DefaultWorkers.
func NewUpserter(store BatchWriter, batchSize, workers int) *Upserter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Upserter{
		store:     store,
		batchSize: batchSize,
		workers:   workers,
		logger:    slog.Default(),
	}
}

// Upsert drains src into the store. A failed batch is recorded in the
// result and does not stop the run. An error from src or a cancelled ctx
// stops consumption; in-flight batches are awaited and the error returned.
// The trailing partial batch is only written when src ends cleanly.
func (u *Upserter) Upsert(ctx context.Context, src RecordSource) (UpsertResult, error) {
	var (
		g        errgroup.Group
		mu       sync.Mutex
		inserted int
		failures []*BatchWriteError
		records  int
		batches  int
	)
	g.SetLimit(u.workers)

	flush := func(batch []storage.Torrent) {
		batches++
		seq := batches
		// Go blocks while all workers are busy, which throttles the parser.
		g.Go(func() error {
			n, err := u.store.InsertTorrents(ctx, batch)
			metrics.RecordBatch(err == nil)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				bwe := &BatchWriteError{Batch: seq, Size: len(batch), FirstHash: batch[0].InfoHash, Err: err}
				u.logger.Warn("batch write failed", "batch", seq, "size", len(batch), "error", err)
				failures = append(failures, bwe)
				return nil
			}
			inserted += n
			return nil
		})
	}

	var fatal error
	batch := make([]storage.Torrent, 0, u.batchSize)
	for src.Next() {
		if err := ctx.Err(); err != nil {
			fatal = err
			break
		}
		rec := src.Record()
		batch = append(batch, storage.Torrent{InfoHash: rec.InfoHash, Name: rec.Name, Category: rec.Category})
		records++
		if len(batch) == u.batchSize {
			flush(batch)
			batch = make([]storage.Torrent, 0, u.batchSize)
		}
	}
	if fatal == nil {
		fatal = src.Err()
	}
	if fatal == nil {
		fatal = ctx.Err()
	}
	if fatal == nil && len(batch) > 0 {
		flush(batch)
	}
	g.Wait()

	slices.SortFunc(failures, func(a, b *BatchWriteError) int { return cmp.Compare(a.Batch, b.Batch) })
	return UpsertResult{
		Records:  records,
		Inserted: inserted,
		Batches:  batches,
		Failures: failures,
	}, fatal
}
