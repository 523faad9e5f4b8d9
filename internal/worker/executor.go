package worker

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/cloudonlanapps/cl-server-compute/internal/domain"
)

// Executor выполняет job конкретного типа задачи.
//
// job.Params содержит входные параметры. Формат определяет executor.
// Ошибка (в том числе *TaskExecutionError) записывается в job как failed.
// ctx отменяется только при принудительном завершении воркера.
type Executor interface {
	Execute(ctx context.Context, job *domain.Job, progress ProgressReporter) (*Result, error)
}

// Result — результат успешного выполнения.
type Result struct {
	// Output — выходные данные, записываются в job.Result.
	Output map[string]any
}

// ProgressReporter принимает прогресс выполнения в диапазоне 0..1.
// Частота записи в хранилище ограничивается вызывающей стороной.
type ProgressReporter interface {
	Report(fraction float64)
}

// ProgressFunc — адаптер функции к ProgressReporter.
type ProgressFunc func(fraction float64)

// Report вызывает f.
func (f ProgressFunc) Report(fraction float64) { f(fraction) }

// Registry — статический реестр executor'ов по типу задачи.
//
// Заполняется явными вызовами Register при старте процесса.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry создаёт реестр со встроенными executor'ами: echo, sleep, http.
func NewRegistry() *Registry {
	r := NewEmptyRegistry()
	r.Register("echo", &EchoExecutor{})
	r.Register("sleep", &SleepExecutor{})
	r.Register("http", &HTTPExecutor{})
	return r
}

// NewEmptyRegistry создаёт пустой реестр.
func NewEmptyRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register добавляет executor для типа задачи.
func (r *Registry) Register(taskType string, executor Executor) {
	r.executors[taskType] = executor
}

// Get возвращает executor для типа задачи.
func (r *Registry) Get(taskType string) (Executor, error) {
	executor, ok := r.executors[taskType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTaskType, taskType)
	}
	return executor, nil
}

// TaskTypes возвращает отсортированный список зарегистрированных типов.
func (r *Registry) TaskTypes() []string {
	return slices.Sorted(maps.Keys(r.executors))
}

// ActiveTaskTypes возвращает пересечение запрошенных и зарегистрированных типов.
// Пустой requested означает "все зарегистрированные".
func (r *Registry) ActiveTaskTypes(requested []string) ([]string, error) {
	available := r.TaskTypes()
	if len(requested) == 0 {
		requested = available
	}
	requested = domain.NormalizeTaskTypes(requested)

	var active []string
	for _, t := range requested {
		if _, ok := r.executors[t]; ok {
			active = append(active, t)
		}
	}
	if len(active) > 0 {
		return active, nil
	}

	switch {
	case len(requested) > 0 && len(available) == 0:
		return nil, ErrNoExecutors
	case len(requested) > 0:
		return nil, fmt.Errorf("%w: requested %v, available %v", ErrNoMatchingTasks, requested, available)
	default:
		return nil, ErrNoTasksSpecified
	}
}
