package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes регистрирует маршруты сервера.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	route := func(pattern string, fn http.HandlerFunc) {
		chain := Chain(
			RequestID(),
			Recovery(h.logger),
			Logging(h.logger, pattern),
		)
		mux.Handle(pattern, chain(fn))
	}

	// Service
	mux.HandleFunc("GET /healthz", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Capabilities
	route("GET /api/v1/capabilities", h.GetCapabilities)
	route("GET /api/v1/workers", h.ListWorkers)
	route("GET /api/v1/workers/{id}", h.GetWorker)

	// Jobs
	if h.jobs != nil {
		route("GET /api/v1/jobs/{id}", h.GetJob)
	}
}
