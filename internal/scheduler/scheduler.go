// Package scheduler runs sync periodically and serializes runs within the
// process.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kalambet/tgxsync/internal/syncer"
)

// ErrRunInProgress is returned when a run is requested while another one is
// still executing.
var ErrRunInProgress = errors.New("sync run already in progress")

// Runner performs one sync run.
type Runner interface {
	Run(ctx context.Context) (syncer.Summary, error)
}

// Result is the outcome of the most recent run.
type Result struct {
	Summary syncer.Summary
	Err     error
}

// Scheduler drives a Runner on a fixed interval and on demand.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	trigger  chan struct{}
	running  atomic.Bool
	logger   *slog.Logger

	mu   sync.Mutex
	last *Result
}

// New creates a Scheduler. If interval is <= 0, it defaults to one hour.
func New(r Runner, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		runner:   r,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		logger:   slog.Default(),
	}
}

// Run syncs immediately, then after every interval or Trigger, until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
			s.logger.Error("scheduled sync failed", "error", err)
		}

		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-s.trigger:
			timer.Stop()
		}
	}
}

// RunOnce executes a single run synchronously. It returns ErrRunInProgress
// without running when another run holds the slot.
func (s *Scheduler) RunOnce(ctx context.Context) (syncer.Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return syncer.Summary{}, ErrRunInProgress
	}
	defer s.running.Store(false)

	summary, err := s.runner.Run(ctx)

	s.mu.Lock()
	s.last = &Result{Summary: summary, Err: err}
	s.mu.Unlock()
	return summary, err
}

// Trigger asks the Run loop to start a run now. It returns ErrRunInProgress
// when a run is executing or one is already pending.
func (s *Scheduler) Trigger() error {
	if s.running.Load() {
		return ErrRunInProgress
	}
	select {
	case s.trigger <- struct{}{}:
		return nil
	default:
		return ErrRunInProgress
	}
}

// Running reports whether a run is executing.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Last returns the most recent run result, if any.
func (s *Scheduler) Last() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}
