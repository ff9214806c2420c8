package worker

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/shaiso/Citydata/internal/config"
	"github.com/shaiso/Citydata/internal/errs"
	"github.com/shaiso/Citydata/internal/mq"
	"github.com/shaiso/Citydata/internal/queue"
	"github.com/shaiso/Citydata/internal/repo"
	"github.com/shaiso/Citydata/internal/telemetry"
)

// Publisher — публикация JSON сообщений в exchange.
type Publisher interface {
	PublishJSON(ctx context.Context, exchange, routingKey string, payload any, headers map[string]any) error
}

// Deps — общие ресурсы процесса.
type Deps struct {
	Config    *config.Config
	Pool      repo.DB
	Redis     redis.UniversalClient
	Publisher Publisher
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics
}

// Worker — воркер датасета с именованными методами.
type Worker interface {
	Name() string

	// Methods возвращает методы, на которые ссылаются queue.Queue.Method.
	Methods() map[string]mq.Handler
}

// Factory создаёт воркер из общих ресурсов.
type Factory func(Deps) (Worker, error)

// Base — общая часть воркеров датасетов.
type Base struct {
	name      string
	prefix    string
	exchange  string
	publisher Publisher
	logger    *slog.Logger
	metrics   *telemetry.Metrics
}

// NewBase создаёт Base. prefix — префикс очередей модуля (queue.Prefix).
func NewBase(name, prefix string, deps Deps) *Base {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var exchange string
	if deps.Config != nil {
		exchange = deps.Config.RabbitMQ.Exchange
	}

	return &Base{
		name:      name,
		prefix:    prefix,
		exchange:  exchange,
		publisher: deps.Publisher,
		logger:    logger.With("worker", name),
		metrics:   deps.Metrics,
	}
}

// Name возвращает имя воркера.
func (b *Base) Name() string {
	return b.name
}

// Prefix возвращает префикс очередей воркера.
func (b *Base) Prefix() string {
	return b.prefix
}

// Logger возвращает логгер воркера.
func (b *Base) Logger() *slog.Logger {
	return b.logger
}

// Metrics возвращает метрики процесса (может быть nil).
func (b *Base) Metrics() *telemetry.Metrics {
	return b.metrics
}

// SendMessageToExchange публикует payload в очередь своего модуля
// с routing key workers.<prefix>.<queue>. Ошибка помечается именем воркера.
func (b *Base) SendMessageToExchange(ctx context.Context, queueName string, payload any, headers map[string]any) error {
	if b.exchange == "" {
		return errs.Fatal(b.name, errs.CodeExchange, "exchange name is not configured", nil)
	}
	if b.publisher == nil {
		return errs.Fatal(b.name, errs.CodePublish, "publisher is not configured", nil)
	}

	key := queue.RoutingKey(queue.OriginWorkers, b.prefix, queueName)
	if err := b.publisher.PublishJSON(ctx, b.exchange, key, payload, headers); err != nil {
		return errs.Wrap(err, b.name, errs.CodePublish, "send message to "+queueName)
	}

	b.logger.Debug("message sent", "routing_key", key)
	return nil
}
