package source

import (
	"context"
	"errors"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

type mockFetcher struct {
	calls   int
	fetchFn func(ctx context.Context, url, marker string) (Outcome, error)
}

func (m *mockFetcher) Fetch(ctx context.Context, url, marker string) (Outcome, error) {
	m.calls++
	return m.fetchFn(ctx, url, marker)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	errDown := &FetchError{URL: "u", StatusCode: 503}
	m := &mockFetcher{fetchFn: func(context.Context, string, string) (Outcome, error) {
		return Outcome{}, errDown
	}}
	b := NewBreaker(m, BreakerSettings{Name: "test-open", FailureThreshold: 2, OpenTimeout: time.Hour})

	for i := 0; i < 2; i++ {
		if _, err := b.Fetch(context.Background(), "u", ""); !errors.Is(err, errDown) {
			t.Fatalf("call %d: err = %v, want %v", i, err, errDown)
		}
	}
	if b.State() != "open" {
		t.Fatalf("State() = %q, want open", b.State())
	}

	_, err := b.Fetch(context.Background(), "u", "")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("err = %v, want ErrOpenState", err)
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Errorf("rejection should be a *FetchError, got %T", err)
	}
	if m.calls != 2 {
		t.Errorf("underlying calls = %d, want 2", m.calls)
	}
}

func TestBreaker_CancellationDoesNotTrip(t *testing.T) {
	m := &mockFetcher{fetchFn: func(context.Context, string, string) (Outcome, error) {
		return Outcome{}, &FetchError{URL: "u", Err: context.Canceled}
	}}
	b := NewBreaker(m, BreakerSettings{Name: "test-cancel", FailureThreshold: 1, OpenTimeout: time.Hour})

	for i := 0; i < 3; i++ {
		b.Fetch(context.Background(), "u", "")
	}
	if b.State() != "closed" {
		t.Errorf("State() = %q, want closed", b.State())
	}
	if m.calls != 3 {
		t.Errorf("underlying calls = %d, want 3", m.calls)
	}
}

func TestBreaker_PassesOutcomeThrough(t *testing.T) {
	m := &mockFetcher{fetchFn: func(_ context.Context, _, marker string) (Outcome, error) {
		if marker != "m" {
			t.Errorf("marker = %q, want m", marker)
		}
		return Outcome{NotModified: true, StatusCode: 304}, nil
	}}
	b := NewBreaker(m, BreakerSettings{})

	out, err := b.Fetch(context.Background(), "u", "m")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !out.NotModified {
		t.Error("NotModified = false, want true")
	}
}
