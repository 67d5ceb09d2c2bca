// Package syncer runs one end-to-end synchronization of the remote dump into
// the store: conditional fetch, decompression, parsing, batched upsert,
// marker update and deduplication.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/tgxsync/internal/dump"
	"github.com/kalambet/tgxsync/internal/ingest"
	"github.com/kalambet/tgxsync/internal/marker"
	"github.com/kalambet/tgxsync/internal/metrics"
	"github.com/kalambet/tgxsync/internal/source"
	"github.com/kalambet/tgxsync/internal/storage"
)

// Store is the part of storage.Backend a sync run writes to.
type Store interface {
	ingest.BatchWriter
	ingest.DuplicateDeleter
	RecordRun(ctx context.Context, r storage.Run) error
}

// Options configures a Syncer.
type Options struct {
	URL       string
	BatchSize int
	Workers   int
	// Force ignores the stored marker and fetches unconditionally.
	Force bool
}

// Summary describes a finished run.
type Summary struct {
	RunID         string
	StartedAt     time.Time
	FinishedAt    time.Time
	NotModified   bool
	Lines         int
	Records       int
	Skipped       int
	Inserted      int
	Deleted       int
	Batches       int
	FailedBatches int
	// Marker is the fetch marker in effect after the run.
	Marker string
}

// Duration returns the wall time of the run.
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Syncer orchestrates sync runs. It is not safe to call Run concurrently;
// scheduler.Scheduler serializes runs.
type Syncer struct {
	source   source.Fetcher
	store    Store
	marker   marker.Store
	upserter *ingest.Upserter
	dedup    *ingest.Deduplicator
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

func New(src source.Fetcher, store Store, m marker.Store, opts Options) *Syncer {
	if opts.URL == "" {
		opts.URL = source.DefaultURL
	}
	return &Syncer{
		source:   src,
		store:    store,
		marker:   m,
		upserter: ingest.NewUpserter(store, opts.BatchSize, opts.Workers),
		dedup:    ingest.NewDeduplicator(store),
		opts:     opts,
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// Run performs one sync. The summary is returned even when err is non-nil
// and reflects how far the run got.
//
// The marker is written only after the whole dump was upserted without
// failed batches. Failed batches and deduplication errors are reported after
// the remaining phases have run; fetch and decode errors abort immediately.
func (s *Syncer) Run(ctx context.Context) (Summary, error) {
	summary := Summary{RunID: uuid.NewString(), StartedAt: s.now()}
	s.logger.Info("sync started", "run_id", summary.RunID, "url", s.opts.URL, "force", s.opts.Force)

	err := s.run(ctx, &summary)
	summary.FinishedAt = s.now()
	s.finish(ctx, summary, err)
	return summary, err
}

func (s *Syncer) run(ctx context.Context, summary *Summary) error {
	prev, err := s.marker.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading fetch marker: %w", err)
	}
	summary.Marker = prev

	cond := prev
	if s.opts.Force {
		cond = ""
	}
	out, err := s.source.Fetch(ctx, s.opts.URL, cond)
	if err != nil {
		return err
	}
	if out.NotModified {
		summary.NotModified = true
		s.logger.Info("dump not modified since last fetch", "marker", prev)
		return nil
	}
	defer out.Body.Close()

	stream, err := dump.Decompress(out.Body)
	if err != nil {
		return err
	}
	defer stream.Close()

	parser := dump.NewParser(stream)
	res, err := s.upserter.Upsert(ctx, parser)
	summary.Records = res.Records
	summary.Lines = parser.Lines()
	summary.Skipped = parser.Skipped()
	summary.Inserted = res.Inserted
	summary.Batches = res.Batches
	summary.FailedBatches = len(res.Failures)
	if err != nil {
		return fmt.Errorf("ingesting dump: %w", err)
	}

	var batchErr error
	switch {
	case len(res.Failures) > 0:
		errs := make([]error, len(res.Failures))
		for i, f := range res.Failures {
			errs[i] = f
		}
		batchErr = errors.Join(errs...)
		s.logger.Warn("batch writes failed, fetch marker withheld", "failed_batches", len(res.Failures))
	case out.LastModified == "":
		s.logger.Warn("response has no Last-Modified, fetch marker unchanged")
	default:
		if err := s.marker.Write(ctx, out.LastModified); err != nil {
			return fmt.Errorf("writing fetch marker: %w", err)
		}
		summary.Marker = out.LastModified
	}

	deleted, err := s.dedup.Deduplicate(ctx)
	summary.Deleted = deleted
	if err != nil {
		return errors.Join(batchErr, err)
	}
	return batchErr
}

// Status classifies a finished run for history and metrics.
func Status(summary Summary, err error) string {
	var dedupErr *ingest.DeduplicationError
	switch {
	case err == nil && summary.NotModified:
		return storage.RunStatusNotModified
	case err == nil:
		return storage.RunStatusOK
	case !onlyPhaseErrors(err):
		return storage.RunStatusFailed
	case summary.FailedBatches > 0 || errors.As(err, &dedupErr):
		return storage.RunStatusPartial
	default:
		return storage.RunStatusFailed
	}
}

// onlyPhaseErrors reports whether every error joined in err is a failed
// batch or a deduplication failure, the two kinds a run survives.
func onlyPhaseErrors(err error) bool {
	errs := []error{err}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		errs = j.Unwrap()
	}
	for _, e := range errs {
		var batchErr *ingest.BatchWriteError
		var dedupErr *ingest.DeduplicationError
		if !errors.As(e, &batchErr) && !errors.As(e, &dedupErr) {
			return false
		}
	}
	return true
}

func (s *Syncer) finish(ctx context.Context, summary Summary, runErr error) {
	status := Status(summary, runErr)
	metrics.RecordRun(status, summary.Duration(), summary.Records, summary.Skipped, summary.Inserted, summary.Deleted)
	if runErr == nil {
		metrics.RecordSuccess(summary.FinishedAt)
	}

	run := storage.Run{
		ID:            summary.RunID,
		StartedAt:     summary.StartedAt,
		FinishedAt:    summary.FinishedAt,
		Status:        status,
		NotModified:   summary.NotModified,
		Records:       summary.Records,
		Skipped:       summary.Skipped,
		Inserted:      summary.Inserted,
		Deleted:       summary.Deleted,
		FailedBatches: summary.FailedBatches,
		Marker:        summary.Marker,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	// Record cancelled runs too.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.RecordRun(recCtx, run); err != nil {
		s.logger.Error("failed to record sync run", "run_id", summary.RunID, "error", err)
	}

	attrs := []any{
		"run_id", summary.RunID,
		"status", status,
		"lines", summary.Lines,
		"records", summary.Records,
		"skipped", summary.Skipped,
		"inserted", summary.Inserted,
		"deleted", summary.Deleted,
		"failed_batches", summary.FailedBatches,
		"elapsed", summary.Duration(),
	}
	if runErr != nil {
		s.logger.Error("sync finished with error", append(attrs, "error", runErr)...)
		return
	}
	s.logger.Info("sync finished", attrs...)
}
