package api

import (
	"net/http"
	"time"
)

// Health возвращает статус сервиса.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	status, code := "healthy", http.StatusOK
	if !h.isReady() {
		status, code = "starting", http.StatusServiceUnavailable
	}

	JSON(w, code, HealthResponse{
		Status:  status,
		Service: h.service,
		Version: "v1",
		Uptime:  time.Since(h.startedAt).Round(time.Second).String(),
	})
}

func (h *Handler) isReady() bool {
	if h.ready == nil {
		return true
	}
	select {
	case <-h.ready:
		return true
	default:
		return false
	}
}

// GetCapabilities возвращает количество воркеров и свободные слоты по типам задач.
// GET /api/v1/capabilities
func (h *Handler) GetCapabilities(w http.ResponseWriter, _ *http.Request) {
	agg := h.capabilities.Aggregate()

	caps := agg.Idle
	if caps == nil {
		caps = map[string]int{}
	}

	JSON(w, http.StatusOK, CapabilitiesResponse{
		NumWorkers:   agg.NumWorkers(),
		Capabilities: caps,
		WorkerCounts: h.capabilities.WorkerCountByTask(),
	})
}

// ListWorkers возвращает живых воркеров.
// GET /api/v1/workers?task_type=...&idle=true
func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	taskType := r.URL.Query().Get("task_type")

	var onlyIdle bool
	switch r.URL.Query().Get("idle") {
	case "", "false":
	case "true":
		onlyIdle = true
	default:
		BadRequest(w, "idle must be true or false")
		return
	}

	result := []WorkerResponse{}
	for _, c := range h.capabilities.Snapshot() {
		if taskType != "" && !c.Supports(taskType) {
			continue
		}
		if onlyIdle && !c.IsIdle() {
			continue
		}
		result = append(result, WorkerFromDomain(c))
	}

	List(w, result, len(result))
}

// GetWorker возвращает capability воркера.
// GET /api/v1/workers/{id}
func (h *Handler) GetWorker(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	for _, c := range h.capabilities.Snapshot() {
		if c.WorkerID == id {
			Success(w, WorkerFromDomain(c))
			return
		}
	}
	NotFound(w, "worker not found")
}
