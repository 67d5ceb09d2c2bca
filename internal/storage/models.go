package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Torrent is a row of the torrents table. InfoHash is the natural key
// supplied by the dump; ID is assigned by the store in insertion order.
type Torrent struct {
	ID       int64
	InfoHash string
	Name     string
	Category string
}

// Run status values stored in sync_runs.status.
const (
	RunStatusOK          = "ok"
	RunStatusNotModified = "not_modified"
	RunStatusPartial     = "partial" // some batches or the dedup pass failed
	RunStatusFailed      = "failed"
)

type Run struct {
	ID            string
	StartedAt     time.Time
	FinishedAt    time.Time
	Status        string
	NotModified   bool
	Records       int
	Skipped       int
	Inserted      int
	Deleted       int
	FailedBatches int
	Marker        string
	Error         string
}

// Duration reports how long the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
