// Package scheduler запускает периодические задачи обслуживания compute-сервера.
//
// Структура:
//   - scheduler.go — Scheduler (Add, Run, Tick)
//   - cron.go      — разбор cron-выражений
//
// Использование:
//
//	sched := scheduler.New(scheduler.Config{Logger: logger})
//	if err := sched.Add("evict_stale_workers", "@every 5s", func(context.Context) error {
//	    manager.EvictStale(time.Now())
//	    return nil
//	}); err != nil {
//	    return err
//	}
//	go sched.Run(ctx)
package scheduler
