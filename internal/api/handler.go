// Package api exposes the thin HTTP control surface: trigger a run or a
// single scan and observe scheduler and pool state. The pipeline itself
// never depends on this layer.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/etlwatch/ingestd/internal/core"
	"github.com/etlwatch/ingestd/internal/ftppool"
	"github.com/etlwatch/ingestd/internal/scheduler"
)

// Control is the scheduler surface the handlers drive.
type Control interface {
	Tick(ctx context.Context) error
	Drain(ctx context.Context) error
	Status() scheduler.Status
	Track(name string) []string
}

// PoolStats reports pool occupancy for status and health responses.
type PoolStats interface {
	Stats() ftppool.Stats
}

type Handler struct {
	sched      Control
	pool       PoolStats
	draining   atomic.Bool
	runTimeout time.Duration
}

func NewHandler(sched Control, pool PoolStats, runTimeout time.Duration) *Handler {
	if runTimeout <= 0 {
		runTimeout = time.Hour
	}
	return &Handler{sched: sched, pool: pool, runTimeout: runTimeout}
}

// TriggerRun starts a full drain-to-completion pass in the background.
// Only one run may be active at a time; every trigger path (HTTP, cron)
// goes through this gate so two runs can never reset each other mid-flight.
func (h *Handler) TriggerRun() (string, bool) {
	if !h.draining.CompareAndSwap(false, true) {
		return "", false
	}

	runID := uuid.NewString()
	go func() {
		defer h.draining.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), h.runTimeout)
		defer cancel()

		start := time.Now()
		if err := h.sched.Drain(ctx); err != nil {
			slog.Error("run failed", "run_id", runID, "error", err)
			return
		}
		slog.Info("run completed", "run_id", runID,
			"duration_ms", time.Since(start).Milliseconds())
	}()
	return runID, true
}

// Run starts a background run and returns immediately with its run ID.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.TriggerRun()
	if !ok {
		writeError(w, http.StatusConflict, errorBody{
			Code:    "conflict",
			Message: "a run is already in progress",
		})
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]any{
		"run_id": runID,
		"status": "draining",
	})
}

// Scan drives a single scheduler tick synchronously.
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	if err := h.sched.Tick(r.Context()); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"version":   core.Version,
		"scheduler": h.sched.Status(),
		"pool":      h.pool.Stats(),
	})
}

func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	WriteJSON(w, http.StatusOK, map[string]any{
		"name":  name,
		"lines": h.sched.Track(name),
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats := h.pool.Stats()
	status := "ok"
	code := http.StatusOK
	if stats.BreakerOpen {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, map[string]any{
		"status": status,
		"pool":   stats,
	})
}
