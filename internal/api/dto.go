package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/cloudonlanapps/cl-server-compute/internal/domain"
)

// HealthResponse — ответ /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// Capability DTOs

// CapabilitiesResponse — агрегат свободных слотов по типам задач.
// WorkerCounts считает живых воркеров по типу задачи, включая занятых.
type CapabilitiesResponse struct {
	NumWorkers   int            `json:"num_workers"`
	Capabilities map[string]int `json:"capabilities"`
	WorkerCounts map[string]int `json:"worker_counts"`
}

// WorkerResponse — capability одного воркера.
type WorkerResponse struct {
	ID           string    `json:"id"`
	Capabilities []string  `json:"capabilities"`
	IdleCount    int       `json:"idle_count"`
	Timestamp    time.Time `json:"timestamp"`
	LastSeen     time.Time `json:"last_seen"`
}

// WorkerFromDomain конвертирует domain.WorkerCapability в WorkerResponse.
func WorkerFromDomain(c domain.WorkerCapability) WorkerResponse {
	caps := c.TaskTypes
	if caps == nil {
		caps = []string{}
	}
	return WorkerResponse{
		ID:           c.WorkerID,
		Capabilities: caps,
		IdleCount:    c.IdleCount,
		Timestamp:    c.Timestamp,
		LastSeen:     c.LastSeen,
	}
}

// Job DTOs

// JobResponse — ответ с job.
type JobResponse struct {
	ID         uuid.UUID        `json:"job_id"`
	TaskType   string           `json:"task_type"`
	Status     domain.JobStatus `json:"status"`
	Priority   int              `json:"priority"`
	Progress   float64          `json:"progress"`
	ClaimedBy  string           `json:"claimed_by,omitempty"`
	ClaimedAt  *time.Time       `json:"claimed_at,omitempty"`
	Params     map[string]any   `json:"params,omitempty"`
	Result     map[string]any   `json:"result,omitempty"`
	Error      *domain.JobError `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// JobFromDomain конвертирует domain.Job в JobResponse.
func JobFromDomain(j *domain.Job) JobResponse {
	return JobResponse{
		ID:         j.ID,
		TaskType:   j.TaskType,
		Status:     j.Status,
		Priority:   j.Priority,
		Progress:   j.Progress,
		ClaimedBy:  j.ClaimedBy,
		ClaimedAt:  j.ClaimedAt,
		Params:     j.Params,
		Result:     j.Result,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt,
		StartedAt:  j.StartedAt,
		FinishedAt: j.FinishedAt,
	}
}
