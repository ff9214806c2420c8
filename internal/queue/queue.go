// Package queue описывает привязку очередей брокера к методам воркеров.
//
// Каждый модуль датасета экспортирует упорядоченный список Definition.
// Registry собирает их в плоский список Binding, пропуская очереди из
// blacklist, и на старте процесса резолвит каждую привязку в mq.Handler.
//
// Именование (topic exchange):
//
//	prefix       <exchange>.<module>
//	queue        <prefix>.<queue>
//	binding key  *.<prefix>.<queue>
//	routing key  <origin>.<prefix>.<queue>, origin: workers | cron | manual
package queue

import (
	"strings"
	"time"

	"github.com/shaiso/Citydata/internal/mq"
)

// Источники сообщений (первый сегмент routing key).
const (
	OriginWorkers = "workers"
	OriginCron    = "cron"
	OriginManual  = "manual"
)

// Definition — набор очередей одного модуля.
type Definition struct {
	// Name — имя группы (обычно имя модуля).
	Name string

	// QueuePrefix — пространство имён очередей модуля, см. Prefix.
	QueuePrefix string

	Queues []Queue
}

// Queue — очередь, привязанная к методу воркера.
type Queue struct {
	// Name — короткое имя очереди внутри модуля.
	Name string

	Options Options

	// Worker — имя воркера.
	Worker string

	// Method — имя метода воркера.
	Method string

	// CustomProcess заменяет метод воркера, если задан.
	CustomProcess mq.Handler
}

// Options — параметры очереди.
type Options struct {
	Durable bool

	// Prefetch — 0 означает значение из конфигурации процесса.
	Prefetch int

	// Cron — расписание обновления (5 полей). Пусто — очередь только по сообщениям.
	Cron string

	// MessageTTL — время жизни сообщения в очереди.
	MessageTTL time.Duration

	// DeadLetter — отклонённые сообщения уходят в dead-letter exchange.
	DeadLetter bool
}

// Prefix возвращает префикс очередей модуля.
func Prefix(exchange, module string) string {
	return exchange + "." + strings.ToLower(module)
}

// QueueName возвращает полное имя очереди.
func QueueName(prefix, queue string) string {
	return prefix + "." + queue
}

// BindingKey возвращает шаблон привязки: сообщения из любого источника.
func BindingKey(prefix, queue string) string {
	return "*." + QueueName(prefix, queue)
}

// RoutingKey возвращает ключ публикации в очередь.
func RoutingKey(origin, prefix, queue string) string {
	return origin + "." + QueueName(prefix, queue)
}
