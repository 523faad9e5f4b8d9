package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cloudonlanapps/cl-server-compute/internal/capability"
	"github.com/cloudonlanapps/cl-server-compute/internal/domain"
)

// CapabilityReader — чтение кэша возможностей (capability.Manager).
type CapabilityReader interface {
	Aggregate() capability.Aggregate
	Snapshot() []domain.WorkerCapability
	WorkerCountByTask() map[string]int
}

// JobReader — чтение jobs из хранилища.
type JobReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	capabilities CapabilityReader
	jobs         JobReader
	ready        <-chan struct{}
	service      string
	startedAt    time.Time
	logger       *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Capabilities CapabilityReader

	// Jobs — опционально; nil отключает /api/v1/jobs.
	Jobs JobReader

	// Ready закрывается, когда кэш подписан на топики воркеров.
	// До этого /healthz отвечает 503. nil — готов сразу.
	Ready <-chan struct{}

	// Service — имя сервиса в ответе /healthz (default: compute-server).
	Service string

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	service := cfg.Service
	if service == "" {
		service = "compute-server"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		capabilities: cfg.Capabilities,
		jobs:         cfg.Jobs,
		ready:        cfg.Ready,
		service:      service,
		startedAt:    time.Now(),
		logger:       logger,
	}
}
