// Package shutdown реализует двухступенчатое завершение воркера.
//
//	Running ──1-й сигнал──▶ ShuttingDown ──2-й сигнал──▶ Terminated (exit 1)
//	                              └──────── Finish() ───────▶ Terminated (exit 0)
//
// Первый сигнал отменяет drain-контекст: новые jobs не захватываются,
// текущий дорабатывает, затем вызывающий код чистит retained-сообщение
// и вызывает Finish. Второй сигнал отменяет force-контекст и немедленно
// вызывает exit hook без какой-либо очистки.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

// State — состояние контроллера.
type State int

const (
	StateRunning State = iota
	StateShuttingDown
	StateTerminated
)

// String возвращает имя состояния.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ForcedExitCode — код выхода при принудительном завершении.
const ForcedExitCode = 1

// Config — конфигурация Controller.
type Config struct {
	// Exit вызывается при принудительном завершении (default: os.Exit).
	Exit func(code int)

	Logger *slog.Logger
}

// Controller — конечный автомат завершения процесса.
type Controller struct {
	exit   func(code int)
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	drainCancel context.CancelFunc
	forceCancel context.CancelFunc
	forced      bool
}

// New создаёт Controller в состоянии Running.
func New(cfg Config) *Controller {
	exit := cfg.Exit
	if exit == nil {
		exit = os.Exit
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		exit:   exit,
		logger: logger,
		state:  StateRunning,
	}
}

// Contexts возвращает контексты, которыми управляет контроллер.
//
// drain отменяется первым сигналом: по нему цикл воркера перестаёт брать jobs.
// force отменяется вторым сигналом: по нему прерывается выполнение job.
// drain производен от force, поэтому force всегда отменяет и drain.
func (c *Controller) Contexts(parent context.Context) (drain, force context.Context) {
	force, forceCancel := context.WithCancel(parent)
	drain, drainCancel := context.WithCancel(force)

	c.mu.Lock()
	c.forceCancel = forceCancel
	c.drainCancel = drainCancel
	c.mu.Unlock()

	return drain, force
}

// Signal обрабатывает запрос на завершение и возвращает новое состояние.
func (c *Controller) Signal() State {
	c.mu.Lock()

	switch c.state {
	case StateRunning:
		c.state = StateShuttingDown
		cancel := c.drainCancel
		c.mu.Unlock()

		c.logger.Info("shutdown requested, finishing current job; signal again to force exit")
		if cancel != nil {
			cancel()
		}
		return StateShuttingDown

	case StateShuttingDown:
		c.state = StateTerminated
		c.forced = true
		cancel := c.forceCancel
		c.mu.Unlock()

		c.logger.Warn("second signal received, forcing exit", "exit_code", ForcedExitCode)
		if cancel != nil {
			cancel()
		}
		c.exit(ForcedExitCode)
		return StateTerminated

	default:
		c.mu.Unlock()
		return StateTerminated
	}
}

// Finish переводит контроллер в Terminated после штатной очистки.
// Возвращает false, если процесс уже завершается принудительно.
func (c *Controller) Finish() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateTerminated {
		return !c.forced
	}
	c.state = StateTerminated
	if c.drainCancel != nil {
		c.drainCancel()
	}
	return true
}

// State возвращает текущее состояние.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Forced сообщает, было ли завершение принудительным.
func (c *Controller) Forced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forced
}

// Watch передаёт сигналы из sigs в Signal до отмены ctx.
func (c *Controller) Watch(ctx context.Context, sigs <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-sigs:
			if !ok {
				return
			}
			c.logger.Info("received signal", "signal", sig.String(), "state", c.State().String())
			c.Signal()
		}
	}
}
