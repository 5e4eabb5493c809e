package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/etlwatch/ingestd/internal/api"
)

// NewRouter assembles the control surface.
func NewRouter(h *api.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(api.RequestID)
	r.Use(api.RequestLogger)
	r.Use(api.LimitBody)

	r.Post("/run", h.Run)
	r.Post("/scan", h.Scan)
	r.Get("/status", h.Status)
	r.Get("/track/{name}", h.Track)
	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
