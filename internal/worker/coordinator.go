package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/cloudonlanapps/cl-server-compute/internal/backoff"
	"github.com/cloudonlanapps/cl-server-compute/internal/domain"
	"github.com/cloudonlanapps/cl-server-compute/internal/mq"
	"github.com/cloudonlanapps/cl-server-compute/internal/repo"
	"github.com/cloudonlanapps/cl-server-compute/internal/telemetry"
)

// Default configuration values.
const (
	defaultRetryAttempts    = 5
	defaultProgressInterval = time.Second
	eventPublishTimeout     = 5 * time.Second
)

// JobStore — операции хранилища, которые нужны воркеру.
//
// Реализации: repo.JobRepo (Postgres), repo.RedisJobRepo, repo.MemoryJobRepo.
type JobStore interface {
	ClaimNext(ctx context.Context, workerID string, taskTypes []string) (*domain.Job, error)
	UpdateStatus(ctx context.Context, u domain.StatusUpdate) error
}

// EventPublisher публикует события жизненного цикла job (mq.Publisher).
type EventPublisher interface {
	PublishJobEvent(ctx context.Context, payload mq.JobEventPayload) error
}

// CoordinatorConfig — конфигурация Coordinator.
type CoordinatorConfig struct {
	WorkerID  string
	TaskTypes []string

	Store    JobStore
	Registry *Registry

	// Events — опционально; nil отключает публикацию событий.
	Events EventPublisher

	// RetryAttempts — попыток записи в хранилище (default: 5).
	RetryAttempts int

	// Backoff — задержка между попытками записи (default: backoff.Default()).
	Backoff backoff.Strategy

	// ProgressInterval — минимальный интервал между записями прогресса (default: 1s).
	ProgressInterval time.Duration

	Logger *slog.Logger
}

// Coordinator захватывает jobs и проводит их через жизненный цикл:
//
//	claimed → running → succeeded | failed
//
// Все записи статуса выполняет только владелец claim. Ошибки executor'ов
// записываются в job и никогда не прерывают работу воркера.
type Coordinator struct {
	workerID         string
	taskTypes        []string
	store            JobStore
	registry         *Registry
	events           EventPublisher
	retryAttempts    int
	backoff          backoff.Strategy
	progressInterval time.Duration
	logger           *slog.Logger
}

// NewCoordinator создаёт Coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	retryAttempts := cfg.RetryAttempts
	if retryAttempts <= 0 {
		retryAttempts = defaultRetryAttempts
	}

	strategy := cfg.Backoff
	if strategy == nil {
		strategy = backoff.Default()
	}

	progressInterval := cfg.ProgressInterval
	if progressInterval <= 0 {
		progressInterval = defaultProgressInterval
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		workerID:         cfg.WorkerID,
		taskTypes:        domain.NormalizeTaskTypes(cfg.TaskTypes),
		store:            cfg.Store,
		registry:         registry,
		events:           cfg.Events,
		retryAttempts:    retryAttempts,
		backoff:          strategy,
		progressInterval: progressInterval,
		logger:           telemetry.WithWorkerID(logger, cfg.WorkerID),
	}
}

// WorkerID возвращает ID воркера.
func (c *Coordinator) WorkerID() string {
	return c.workerID
}

// TaskTypes возвращает типы задач, которые захватывает воркер.
func (c *Coordinator) TaskTypes() []string {
	return c.taskTypes
}

// PollOnce пытается захватить один job.
//
// Возвращает nil, nil, если подходящих jobs нет или claim проигран
// другому воркеру (ErrClaimConflict не считается ошибкой).
func (c *Coordinator) PollOnce(ctx context.Context) (*domain.Job, error) {
	job, err := c.store.ClaimNext(ctx, c.workerID, c.taskTypes)
	switch {
	case errors.Is(err, repo.ErrClaimConflict):
		telemetry.ClaimAttempts.WithLabelValues("conflict").Inc()
		c.logger.Debug("claim lost to another worker")
		return nil, nil
	case err != nil:
		telemetry.ClaimAttempts.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("claim job: %w", err)
	case job == nil:
		telemetry.ClaimAttempts.WithLabelValues("empty").Inc()
		return nil, nil
	}

	telemetry.ClaimAttempts.WithLabelValues("claimed").Inc()
	c.logger.Info("job claimed", "job_id", job.ID, "task_type", job.TaskType)
	c.publishEvent(ctx, job, domain.JobStatusClaimed, nil, 0)
	return job, nil
}

// Process выполняет захваченный job и записывает финальный статус.
//
// ctx отменяется только при принудительном завершении: тогда выполнение
// прерывается, а статус больше не пишется (job остаётся claimed/running).
// Возвращает ErrForcedShutdown в этом случае и ErrStoreWrite, если
// запись не удалась после всех попыток.
func (c *Coordinator) Process(ctx context.Context, job *domain.Job) error {
	logger := telemetry.WithJobID(c.logger, job.ID.String(), job.TaskType)

	zero := 0.0
	if err := c.write(ctx, domain.StatusUpdate{
		JobID:    job.ID,
		WorkerID: c.workerID,
		Status:   domain.JobStatusRunning,
		Progress: &zero,
	}); err != nil {
		return c.handleWriteError(ctx, job, logger, err)
	}
	c.publishEvent(ctx, job, domain.JobStatusRunning, nil, 0)

	start := time.Now()
	result, taskErr := c.execute(ctx, job, logger)
	duration := time.Since(start)

	if ctx.Err() != nil {
		logger.Warn("forced shutdown, job left unfinished", "duration", duration)
		return ErrForcedShutdown
	}

	telemetry.JobDuration.WithLabelValues(job.TaskType).Observe(duration.Seconds())

	final := domain.StatusUpdate{JobID: job.ID, WorkerID: c.workerID}
	if taskErr != nil {
		final.Status = domain.JobStatusFailed
		final.Error = taskErr.JobError()
		logger.Warn("job failed", "error_code", taskErr.Code, "error", taskErr.Error(), "duration", duration)
	} else {
		one := 1.0
		final.Status = domain.JobStatusSucceeded
		final.Progress = &one
		final.Result = result
		logger.Info("job succeeded", "duration", duration)
	}

	if err := c.write(ctx, final); err != nil {
		return c.handleWriteError(ctx, job, logger, err)
	}

	telemetry.JobsProcessed.WithLabelValues(job.TaskType, string(final.Status)).Inc()
	c.publishEvent(ctx, job, final.Status, final.Error, duration)
	return nil
}

// execute запускает executor, превращая ошибки и panic в TaskExecutionError.
func (c *Coordinator) execute(ctx context.Context, job *domain.Job, logger *slog.Logger) (output map[string]any, taskErr *TaskExecutionError) {
	executor, err := c.registry.Get(job.TaskType)
	if err != nil {
		return nil, &TaskExecutionError{Code: CodeUnknownTaskType, Message: err.Error(), Err: err}
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("executor panicked", "panic", r)
			output = nil
			taskErr = NewTaskError(CodePanic, "executor panicked: %v", r)
		}
	}()

	result, err := executor.Execute(ctx, job, c.progressReporter(ctx, job, logger))
	if err != nil {
		return nil, asTaskError(err)
	}
	if result == nil {
		return map[string]any{}, nil
	}
	return result.Output, nil
}

// progressReporter возвращает ProgressReporter, который пишет прогресс
// не чаще progressInterval. Ошибки записи прогресса только логируются.
func (c *Coordinator) progressReporter(ctx context.Context, job *domain.Job, logger *slog.Logger) ProgressReporter {
	limiter := rate.NewLimiter(rate.Every(c.progressInterval), 1)

	return ProgressFunc(func(fraction float64) {
		if ctx.Err() != nil || !limiter.Allow() {
			return
		}

		p := domain.ClampProgress(fraction)
		err := c.store.UpdateStatus(ctx, domain.StatusUpdate{
			JobID:    job.ID,
			WorkerID: c.workerID,
			Status:   domain.JobStatusRunning,
			Progress: &p,
		})
		if err != nil && ctx.Err() == nil {
			logger.Warn("failed to write progress", "progress", p, "error", err)
		}
	})
}

// handleWriteError обрабатывает неудачную запись статуса.
//
// Если попытки исчерпаны, job помечается failed (store_write_failed)
// одной попыткой без retry.
func (c *Coordinator) handleWriteError(ctx context.Context, job *domain.Job, logger *slog.Logger, err error) error {
	if ctx.Err() != nil {
		logger.Warn("forced shutdown during status write", "error", err)
		return ErrForcedShutdown
	}

	if !errors.Is(err, ErrStoreWrite) {
		// Job больше не принадлежит воркеру или уже в другом статусе.
		logger.Error("status write rejected", "error", err)
		return err
	}

	logger.Error("status write failed after retries", "attempts", c.retryAttempts, "error", err)

	jobErr := &domain.JobError{Code: CodeStoreWriteFailed, Message: err.Error()}
	if ferr := c.store.UpdateStatus(ctx, domain.StatusUpdate{
		JobID:    job.ID,
		WorkerID: c.workerID,
		Status:   domain.JobStatusFailed,
		Error:    jobErr,
	}); ferr != nil {
		logger.Error("failed to mark job failed", "error", ferr)
	} else {
		c.publishEvent(ctx, job, domain.JobStatusFailed, jobErr, 0)
	}

	telemetry.JobsProcessed.WithLabelValues(job.TaskType, string(domain.JobStatusFailed)).Inc()
	return err
}

// publishEvent публикует событие job, если публикация включена.
// Ошибки не влияют на обработку job.
func (c *Coordinator) publishEvent(ctx context.Context, job *domain.Job, status domain.JobStatus, jobErr *domain.JobError, duration time.Duration) {
	if c.events == nil {
		return
	}

	payload := mq.JobEventPayload{
		JobID:      job.ID,
		TaskType:   job.TaskType,
		WorkerID:   c.workerID,
		Status:     string(status),
		DurationMs: duration.Milliseconds(),
	}
	if jobErr != nil {
		payload.ErrorCode = jobErr.Code
		payload.Error = jobErr.Message
	}

	ctx, cancel := context.WithTimeout(ctx, eventPublishTimeout)
	defer cancel()

	if err := c.events.PublishJobEvent(ctx, payload); err != nil {
		c.logger.Warn("failed to publish job event",
			"job_id", job.ID,
			"status", status,
			"error", err,
		)
	}
}
