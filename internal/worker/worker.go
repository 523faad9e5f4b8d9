package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cloudonlanapps/cl-server-compute/internal/backoff"
)

const defaultPollInterval = time.Second

// Worker — цикл воркера: захват и выполнение jobs по одному.
//
// Worker не хранит состояния между jobs, кроме флага занятости,
// который читает Broadcaster для idle_count.
type Worker struct {
	coord        *Coordinator
	pollInterval time.Duration
	onIdleChange func(idle bool)
	logger       *slog.Logger

	busy atomic.Bool
}

// Config — конфигурация Worker.
type Config struct {
	Coordinator *Coordinator

	// PollInterval — пауза, если подходящих jobs нет (default: 1s).
	PollInterval time.Duration

	// OnIdleChange вызывается при смене idle/busy (обычно Broadcaster.Trigger).
	OnIdleChange func(idle bool)

	Logger *slog.Logger
}

// New создаёт Worker.
func New(cfg Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	onIdleChange := cfg.OnIdleChange
	if onIdleChange == nil {
		onIdleChange = func(bool) {}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		coord:        cfg.Coordinator,
		pollInterval: pollInterval,
		onIdleChange: onIdleChange,
		logger:       logger.With("worker_id", cfg.Coordinator.WorkerID()),
	}
}

// Idle сообщает, свободен ли воркер. Безопасен для конкурентного вызова.
func (w *Worker) Idle() bool {
	return !w.busy.Load()
}

// IdleCount возвращает количество свободных слотов: 1 или 0.
func (w *Worker) IdleCount() int {
	if w.Idle() {
		return 1
	}
	return 0
}

// Run выполняет цикл до отмены loopCtx.
//
// loopCtx отменяется первым сигналом: новый job не захватывается, текущий
// дорабатывает. execCtx отменяется только принудительно и прерывает job,
// тогда Run возвращает ErrForcedShutdown.
func (w *Worker) Run(loopCtx, execCtx context.Context) error {
	w.logger.Info("worker loop started",
		"task_types", w.coord.TaskTypes(),
		"poll_interval", w.pollInterval,
	)

	for {
		if loopCtx.Err() != nil {
			w.logger.Info("worker loop stopped")
			return nil
		}

		// Claim идёт под execCtx: drain посреди запроса не должен
		// терять уже захваченный в хранилище job.
		job, err := w.coord.PollOnce(execCtx)
		if err != nil {
			if execCtx.Err() != nil {
				return ErrForcedShutdown
			}
			w.logger.Error("poll failed", "error", err)
		}

		if job == nil {
			if backoff.Sleep(loopCtx, w.pollInterval) != nil {
				w.logger.Info("worker loop stopped")
				return nil
			}
			continue
		}

		w.setBusy(true)
		err = w.coord.Process(execCtx, job)
		if errors.Is(err, ErrForcedShutdown) {
			return err
		}
		w.setBusy(false)

		if err != nil {
			w.logger.Error("job processing failed", "job_id", job.ID, "error", err)
		}
	}
}

func (w *Worker) setBusy(busy bool) {
	if w.busy.Swap(busy) != busy {
		w.onIdleChange(!busy)
	}
}
