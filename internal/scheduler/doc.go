// Package scheduler публикует сообщения обновления для очередей с расписанием.
//
// Структура:
//   - scheduler.go — Scheduler: записи из queue.Registry.Scheduled, Tick, Run
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//   - leader.go    — лидерство через pg_try_advisory_lock
//
// Использование:
//
//	sched, err := scheduler.New(scheduler.Config{
//	    Publisher: publisher,
//	    Exchange:  cfg.RabbitMQ.Exchange,
//	    Bindings:  registry.Scheduled(),
//	    Timezone:  cfg.Scheduler.Timezone,
//	    Logger:    logger,
//	})
//
//	lock := scheduler.NewAdvisoryLock(pool, lockKey, logger)
//	defer lock.Release(context.Background())
//	sched.Run(ctx, cfg.Scheduler.Tick, lock)
//
// Tick вызывается только лидером, поэтому в кластере одно сообщение
// на срабатывание.
package scheduler
