package source

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/kalambet/tgxsync/internal/metrics"
)

// Fetcher is implemented by Client and Breaker.
type Fetcher interface {
	Fetch(ctx context.Context, url, marker string) (Outcome, error)
}

var (
	_ Fetcher = (*Client)(nil)
	_ Fetcher = (*Breaker)(nil)
)

// BreakerSettings configures a Breaker.
type BreakerSettings struct {
	Name string
	// FailureThreshold is the number of consecutive failed fetches that
	// opens the circuit. Default: 3.
	FailureThreshold uint32
	// OpenTimeout is how long the circuit stays open before a probe fetch
	// is allowed. Default: 15m.
	OpenTimeout time.Duration
}

// Breaker stops hammering an unhealthy source: after repeated failures
// fetches are rejected without a request until OpenTimeout passes.
// Only the request phase is guarded; failures while streaming the body
// are not counted.
type Breaker struct {
	next Fetcher
	cb   *gobreaker.CircuitBreaker[Outcome]
	name string
}

func NewBreaker(next Fetcher, s BreakerSettings) *Breaker {
	if s.Name == "" {
		s.Name = "source"
	}
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 3
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 15 * time.Minute
	}
	threshold := s.FailureThreshold

	metrics.CircuitBreakerState.WithLabelValues(s.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[Outcome](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("source circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	return &Breaker{next: next, cb: cb, name: s.Name}
}

// Fetch delegates to the wrapped Fetcher unless the circuit is open, in
// which case it fails fast with a *FetchError wrapping the breaker error.
func (b *Breaker) Fetch(ctx context.Context, url, marker string) (Outcome, error) {
	out, err := b.cb.Execute(func() (Outcome, error) {
		return b.next.Fetch(ctx, url, marker)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.RecordFetch(metrics.FetchRejected)
		return Outcome{}, &FetchError{URL: url, Err: err}
	}
	return out, err
}

// State returns the breaker state: "closed", "half-open" or "open".
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
