package worker

import (
	"context"
	"maps"

	"github.com/cloudonlanapps/cl-server-compute/internal/domain"
)

// EchoExecutor — executor для типа задачи "echo".
//
// Возвращает params как результат. Используется для проверки
// доставки jobs от API до воркера и обратно.
type EchoExecutor struct{}

// Execute возвращает копию params.
func (e *EchoExecutor) Execute(_ context.Context, job *domain.Job, _ ProgressReporter) (*Result, error) {
	output := maps.Clone(job.Params)
	if output == nil {
		output = make(map[string]any)
	}

	return &Result{Output: output}, nil
}
