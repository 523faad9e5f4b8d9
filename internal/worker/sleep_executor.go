package worker

import (
	"context"
	"time"

	"github.com/cloudonlanapps/cl-server-compute/internal/domain"
)

// sleepSteps — количество отчётов о прогрессе за время ожидания.
const sleepSteps = 10

// SleepExecutor — executor для типа задачи "sleep".
//
// Ожидает указанное количество секунд, сообщая прогресс. Поддерживает отмену через context.
//
// Params:
//   - duration_sec (number): длительность в секундах (default: 1)
type SleepExecutor struct{}

// Execute выполняет ожидание.
func (e *SleepExecutor) Execute(ctx context.Context, job *domain.Job, progress ProgressReporter) (*Result, error) {
	durationSec, err := secondsParam(job.Params, "duration_sec", 1)
	if err != nil {
		return nil, err
	}

	step := seconds(durationSec) / sleepSteps
	timer := time.NewTimer(step)
	defer timer.Stop()

	for i := 1; i <= sleepSteps; i++ {
		select {
		case <-timer.C:
			progress.Report(float64(i) / sleepSteps)
			timer.Reset(step)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return &Result{
		Output: map[string]any{"slept_sec": durationSec},
	}, nil
}
