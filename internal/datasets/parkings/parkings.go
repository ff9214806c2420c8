// Package parkings — модуль датасета парковок.
//
// Очереди:
//   - refreshDataInDB   — по расписанию загружает парковки, сохраняет текущее
//     состояние и публикует saveDataToHistory и updateDistrict
//   - saveDataToHistory — сохраняет снимок занятости в историю и кэш
//   - updateDistrict    — пересчитывает район одной парковки
//
// Настройки: datasets.parkings.{url, headers, results_path, timeout, cron,
// cache_ttl, districts_table}.
package parkings

import (
	"time"

	"github.com/shaiso/Citydata/internal/config"
	"github.com/shaiso/Citydata/internal/module"
	"github.com/shaiso/Citydata/internal/queue"
	"github.com/shaiso/Citydata/internal/worker"
)

// Имена модуля, воркера и очередей.
const (
	Name       = "parkings"
	WorkerName = "ParkingsWorker"

	QueueRefresh  = "refreshDataInDB"
	QueueHistory  = "saveDataToHistory"
	QueueDistrict = "updateDistrict"
)

const defaultCron = "*/5 * * * *"

func init() {
	module.Register(module.Module{
		Name:             Name,
		QueueDefinitions: QueueDefinitions,
		Workers:          []worker.Factory{NewWorker},
	})
}

// QueueDefinitions возвращает очереди модуля.
func QueueDefinitions(cfg *config.Config) []queue.Definition {
	ds := cfg.Dataset(Name)

	return []queue.Definition{{
		Name:        Name,
		QueuePrefix: queue.Prefix(cfg.RabbitMQ.Exchange, Name),
		Queues: []queue.Queue{
			{
				Name:   QueueRefresh,
				Worker: WorkerName,
				Method: QueueRefresh,
				Options: queue.Options{
					Cron: ds.String("cron", defaultCron),
					// Устаревший запуск не нужен, следующий придёт по расписанию
					MessageTTL: 4 * time.Minute,
					DeadLetter: true,
				},
			},
			{
				Name:    QueueHistory,
				Worker:  WorkerName,
				Method:  QueueHistory,
				Options: queue.Options{Durable: true, DeadLetter: true},
			},
			{
				Name:    QueueDistrict,
				Worker:  WorkerName,
				Method:  QueueDistrict,
				Options: queue.Options{Durable: true, DeadLetter: true, Prefetch: 20},
			},
		},
	}}
}
