// Package meteosensors — модуль датасета метеостанций на дорогах.
//
// Единственная очередь refreshDataInDB полностью заменяет таблицу
// метеостанций: запись идёт в staging копию, затем копия переключается
// в основную таблицу одной транзакцией. Запуск по расписанию берёт
// данные за текущий день, ручной запуск может передать заголовок date.
package meteosensors

import (
	"time"

	"github.com/shaiso/Citydata/internal/config"
	"github.com/shaiso/Citydata/internal/module"
	"github.com/shaiso/Citydata/internal/queue"
	"github.com/shaiso/Citydata/internal/worker"
)

const (
	Name       = "meteosensors"
	WorkerName = "MeteosensorsWorker"

	QueueRefresh = "refreshDataInDB"

	// HeaderDate — заголовок сообщения с датой выгрузки (YYYY-MM-DD).
	HeaderDate = "date"
)

const defaultCron = "*/10 * * * *"

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
		Queues: []queue.Queue{{
			Name:   QueueRefresh,
			Worker: WorkerName,
			Method: QueueRefresh,
			Options: queue.Options{
				Cron:       ds.String("cron", defaultCron),
				MessageTTL: 9 * time.Minute,
				DeadLetter: true,
			},
		}},
	}}
}
