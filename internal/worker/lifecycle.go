package worker

import (
	"context"
	"errors"
	"time"

	"github.com/cloudonlanapps/cl-server-compute/internal/shutdown"
)

const defaultCleanupTimeout = 10 * time.Second

// Broadcaster — публикация capability (capability.Broadcaster).
type Broadcaster interface {
	Run(ctx context.Context) error
	Trigger()
	Shutdown(ctx context.Context) error
}

// Serve запускает воркер и broadcaster и управляет их завершением.
//
// Штатно (первый сигнал или отмена ctx): цикл дорабатывает текущий job,
// broadcaster останавливается, retained-сообщение очищается, транспорт
// закрывается, ctrl переходит в Terminated. Возвращает nil.
// Отмена ctx равносильна первому сигналу и не прерывает текущий job.
//
// Принудительно (второй сигнал): очистка не выполняется, возвращается
// ErrForcedShutdown. Exit-hook к этому моменту уже вызван контроллером.
func Serve(ctx context.Context, w *Worker, b Broadcaster, ctrl *shutdown.Controller) error {
	drainCtx, forceCtx := ctrl.Contexts(context.WithoutCancel(ctx))

	stopParent := context.AfterFunc(ctx, func() { ctrl.Signal() })
	defer stopParent()

	// Heartbeat продолжается, пока дорабатывает текущий job.
	bctx, stopBroadcast := context.WithCancel(forceCtx)
	defer stopBroadcast()

	bdone := make(chan struct{})
	go func() {
		defer close(bdone)
		if err := b.Run(bctx); err != nil {
			w.logger.Error("broadcaster stopped", "error", err)
		}
	}()

	runErr := w.Run(drainCtx, forceCtx)

	stopBroadcast()
	<-bdone

	if errors.Is(runErr, ErrForcedShutdown) || ctrl.Forced() {
		return ErrForcedShutdown
	}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultCleanupTimeout)
	defer cancel()

	if err := b.Shutdown(cleanupCtx); err != nil {
		w.logger.Warn("broadcaster shutdown failed", "error", err)
	}

	if !ctrl.Finish() {
		return ErrForcedShutdown
	}

	w.logger.Info("worker shut down gracefully")
	return runErr
}
