package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/tgxsync/internal/scheduler"
	"github.com/kalambet/tgxsync/internal/storage"
)

const defaultRunsLimit = 10

// StatusStore is the read side of the store used by the status endpoints.
type StatusStore interface {
	CountTorrents(ctx context.Context) (int, error)
	RecentRuns(ctx context.Context, limit int) ([]storage.Run, error)
}

// SyncTrigger starts runs on the daemon's scheduler.
type SyncTrigger interface {
	Trigger() error
	Running() bool
}

var _ SyncTrigger = (*scheduler.Scheduler)(nil)

type ServerDeps struct {
	Store     StatusStore
	Scheduler SyncTrigger
	// Token protects POST /sync. Empty disables auth.
	Token   string
	Version string
}

// RunView is the JSON form of a recorded run.
type RunView struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	DurationMS    int64     `json:"duration_ms"`
	Status        string    `json:"status"`
	NotModified   bool      `json:"not_modified"`
	Records       int       `json:"records"`
	Skipped       int       `json:"skipped"`
	Inserted      int       `json:"inserted"`
	Deleted       int       `json:"deleted"`
	FailedBatches int       `json:"failed_batches"`
	Marker        string    `json:"marker,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Version  string    `json:"version,omitempty"`
	Torrents int       `json:"torrents"`
	Running  bool      `json:"running"`
	Runs     []RunView `json:"runs"`
}

func NewRunView(r storage.Run) RunView {
	return RunView{
		ID:            r.ID,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		DurationMS:    r.Duration().Milliseconds(),
		Status:        r.Status,
		NotModified:   r.NotModified,
		Records:       r.Records,
		Skipped:       r.Skipped,
		Inserted:      r.Inserted,
		Deleted:       r.Deleted,
		FailedBatches: r.FailedBatches,
		Marker:        r.Marker,
		Error:         r.Error,
	}
}

// NewHandler returns the daemon's HTTP surface: health, status, on-demand
// sync and Prometheus metrics.
func NewHandler(deps ServerDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/status", handleStatus(deps))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/sync", handleSync(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleStatus(deps ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", defaultRunsLimit, 100)

		count, err := deps.Store.CountTorrents(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count torrents: %v", err)
			return
		}
		runs, err := deps.Store.RecentRuns(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}

		resp := StatusResponse{
			Version:  deps.Version,
			Torrents: count,
			Runs:     make([]RunView, len(runs)),
		}
		if deps.Scheduler != nil {
			resp.Running = deps.Scheduler.Running()
		}
		for i, run := range runs {
			resp.Runs[i] = NewRunView(run)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func handleSync(deps ServerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Scheduler == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "scheduler not running")
			return
		}
		if err := deps.Scheduler.Trigger(); err != nil {
			if errors.Is(err, scheduler.ErrRunInProgress) {
				httpError(w, http.StatusConflict, "conflict_error", "%v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to trigger sync: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
