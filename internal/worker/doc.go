// Package worker захватывает и выполняет compute jobs.
//
// # Обзор
//
// Воркер — процесс, который забирает pending jobs из общего хранилища
// (Postgres, Redis или память), выполняет их зарегистрированным executor'ом
// и записывает результат. Одновременно выполняется не более одного job.
//
//	Worker.Run ── PollOnce ── Process ── PollOnce ── ...
//	                 │           │
//	                 ▼           ▼
//	            ClaimNext   running → succeeded | failed
//
// Свободен ли воркер, видно через Idle/IdleCount: это состояние публикует
// capability.Broadcaster, а OnIdleChange запрашивает внеочередную публикацию.
//
// # Executor
//
//	type Executor interface {
//	    Execute(ctx context.Context, job *domain.Job, progress ProgressReporter) (*Result, error)
//	}
//
// Встроенные executor'ы (NewRegistry): echo, sleep, http. Плагины
// регистрируются явно через Registry.Register до старта.
//
// # Ошибки
//
// Ошибка или panic executor'а записывается в job как failed с кодом
// (task_error, panic, unknown_task_type, ...) и не прерывает цикл.
// Запись статуса повторяется с backoff; после исчерпания попыток job
// помечается failed с кодом store_write_failed.
//
// # Завершение
//
// Serve связывает Worker, Broadcaster и shutdown.Controller: первый сигнал
// дорабатывает текущий job и очищает retained capability, второй прерывает
// всё без очистки.
package worker
