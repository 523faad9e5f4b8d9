package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Job — асинхронная вычислительная задача в общем хранилище.
//
// Job создаётся внешним API (submission path). Воркеры только захватывают
// pending jobs и пишут переходы статуса, прогресс и результат.
type Job struct {
	// ID — уникальный идентификатор job.
	ID uuid.UUID `json:"id"`

	// TaskType — тип задачи, по нему выбирается executor ("clip_embedding", "echo", ...).
	TaskType string `json:"task_type"`

	// Status — текущий статус.
	Status JobStatus `json:"status"`

	// Priority — приоритет (учитывается только при OrderPriority).
	Priority int `json:"priority"`

	// ClaimedBy — ID воркера, владеющего job. Пусто, пока job в pending.
	ClaimedBy string `json:"claimed_by,omitempty"`

	// ClaimedAt — время захвата.
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	// Progress — прогресс выполнения в диапазоне 0..1.
	Progress float64 `json:"progress"`

	// Params — входные параметры задачи. Формат определяет плагин.
	Params map[string]any `json:"params,omitempty"`

	// Result — результат выполнения (заполняется при succeeded).
	Result map[string]any `json:"result,omitempty"`

	// Error — структурированная ошибка (заполняется при failed).
	Error *JobError `json:"error,omitempty"`

	// StartedAt — время перехода в running.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время перехода в финальный статус.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJob создаёт pending job.
func NewJob(taskType string, params map[string]any) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.New(),
		TaskType:  taskType,
		Status:    JobStatusPending,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsFinished возвращает true, если job завершён.
func (j *Job) IsFinished() bool {
	return j.Status.IsTerminal()
}

// Duration возвращает продолжительность выполнения.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

// Apply применяет StatusUpdate к job в памяти.
// Хранилища используют его, чтобы одинаково трактовать поля обновления.
func (j *Job) Apply(u StatusUpdate, now time.Time) {
	if j.Status != u.Status {
		switch u.Status {
		case JobStatusRunning:
			j.StartedAt = &now
		case JobStatusSucceeded, JobStatusFailed:
			j.FinishedAt = &now
		}
	}

	j.Status = u.Status
	if u.Progress != nil {
		j.Progress = ClampProgress(*u.Progress)
	}
	if u.Result != nil {
		j.Result = u.Result
	}
	if u.Error != nil {
		j.Error = u.Error
	}
	j.UpdatedAt = now
}

// JobError — структурированная ошибка выполнения job.
type JobError struct {
	// Code — машинно-читаемый код ("task_error", "panic", "unknown_task_type", ...).
	Code string `json:"code"`

	// Message — текст ошибки.
	Message string `json:"message"`

	// Details — дополнительные данные от плагина.
	Details map[string]any `json:"details,omitempty"`
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// StatusUpdate — обновление job, которое пишет владелец claim.
type StatusUpdate struct {
	JobID    uuid.UUID
	WorkerID string
	Status   JobStatus

	// Progress — nil означает "не менять".
	Progress *float64

	Result map[string]any
	Error  *JobError
}

// ClampProgress ограничивает прогресс диапазоном 0..1. NaN считается 0.
func ClampProgress(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
