package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// TaskFunc — периодическая задача обслуживания.
type TaskFunc func(ctx context.Context) error

type task struct {
	name string
	spec string
	fn   TaskFunc
}

// Config — конфигурация Scheduler.
type Config struct {
	Logger *slog.Logger
}

// Scheduler запускает задачи обслуживания сервера по cron-расписанию.
//
// Запуски одной задачи не перекрываются: если предыдущий ещё идёт,
// очередной пропускается. Ошибки задачи логируются и не останавливают
// расписание.
type Scheduler struct {
	tasks  []task
	logger *slog.Logger
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger}
}

// Add регистрирует задачу. Вызывается до Run.
func (s *Scheduler) Add(name, spec string, fn TaskFunc) error {
	if err := ValidateSpec(spec); err != nil {
		return fmt.Errorf("task %s: %w", name, err)
	}
	s.tasks = append(s.tasks, task{name: name, spec: spec, fn: fn})
	return nil
}

// Tick выполняет все задачи один раз, по порядку регистрации.
func (s *Scheduler) Tick(ctx context.Context) {
	for _, t := range s.tasks {
		s.runTask(ctx, t)
	}
}

// Run запускает расписание и блокируется до отмены ctx.
// После отмены дожидается завершения идущих задач.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	for _, t := range s.tasks {
		if _, err := c.AddFunc(t.spec, func() { s.runTask(ctx, t) }); err != nil {
			return fmt.Errorf("schedule task %s: %w", t.name, err)
		}
		s.logger.Info("maintenance task scheduled", "task", t.name, "spec", t.spec)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) runTask(ctx context.Context, t task) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	if err := t.fn(ctx); err != nil {
		s.logger.Error("maintenance task failed", "task", t.name, "error", err)
		return
	}
	s.logger.Debug("maintenance task completed", "task", t.name, "duration", time.Since(start))
}
