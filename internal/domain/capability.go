package domain

import (
	"slices"
	"time"
)

// WorkerCapability — снимок возможностей воркера из последнего broadcast.
//
// Запись неизменяема после создания: кэш заменяет её целиком,
// поэтому читатели никогда не видят частично обновлённую запись.
type WorkerCapability struct {
	// WorkerID — уникальный идентификатор воркера.
	WorkerID string `json:"worker_id"`

	// TaskTypes — поддерживаемые типы задач (отсортированы, без дублей).
	TaskTypes []string `json:"task_types"`

	// IdleCount — количество свободных слотов (0 — занят).
	IdleCount int `json:"idle_count"`

	// Timestamp — время broadcast по часам воркера.
	Timestamp time.Time `json:"timestamp"`

	// LastSeen — время последнего принятого broadcast; по нему считается TTL.
	LastSeen time.Time `json:"last_seen"`
}

// NewWorkerCapability нормализует входные данные broadcast.
func NewWorkerCapability(workerID string, taskTypes []string, idleCount int, ts time.Time) WorkerCapability {
	return WorkerCapability{
		WorkerID:  workerID,
		TaskTypes: NormalizeTaskTypes(taskTypes),
		IdleCount: max(idleCount, 0),
		Timestamp: ts,
		LastSeen:  ts,
	}
}

// IsIdle возвращает true, если у воркера есть свободный слот.
func (c WorkerCapability) IsIdle() bool {
	return c.IdleCount > 0
}

// IsStale проверяет, истёк ли TTL записи.
func (c WorkerCapability) IsStale(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.LastSeen) > ttl
}

// Supports проверяет поддержку типа задачи.
func (c WorkerCapability) Supports(taskType string) bool {
	_, found := slices.BinarySearch(c.TaskTypes, taskType)
	return found
}

// NormalizeTaskTypes сортирует список и удаляет пустые значения и дубли.
func NormalizeTaskTypes(types []string) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
