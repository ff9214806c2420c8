package mq

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cast"

	"github.com/shaiso/Citydata/internal/errs"
)

// Handler — метод воркера, привязанный к очереди.
type Handler func(ctx context.Context, d *Delivery) error

// Delivery — входящее сообщение: тело, заголовки и routing key.
type Delivery struct {
	Body       []byte
	Headers    amqp.Table
	RoutingKey string

	// Raw — сырое AMQP сообщение.
	Raw amqp.Delivery
}

// NewDelivery оборачивает AMQP сообщение.
func NewDelivery(raw amqp.Delivery) *Delivery {
	return &Delivery{
		Body:       raw.Body,
		Headers:    raw.Headers,
		RoutingKey: raw.RoutingKey,
		Raw:        raw,
	}
}

// Header возвращает заголовок строкой. Отсутствующий заголовок — "".
func (d *Delivery) Header(name string) string {
	if d == nil || d.Headers == nil {
		return ""
	}
	v, ok := d.Headers[name]
	if !ok || v == nil {
		return ""
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return cast.ToString(v)
}

// Outcome — решение по сообщению после обработки.
type Outcome int

const (
	// OutcomeAck — подтвердить.
	OutcomeAck Outcome = iota
	// OutcomeRequeue — вернуть в очередь для повтора.
	OutcomeRequeue
	// OutcomeReject — отклонить без повтора, брокер отправит в DLX.
	OutcomeReject
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeRequeue:
		return "requeue"
	case OutcomeReject:
		return "reject"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Decide выбирает исход по ошибке обработчика.
func Decide(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeAck
	case errs.IsRetryable(err):
		return OutcomeRequeue
	default:
		return OutcomeReject
	}
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Queue — полное имя очереди.
	Queue string

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — сколько неподтверждённых сообщений держит consumer. Default: 1.
	Prefetch int

	// OnFatal получает ошибки KindFatal (сообщение при этом отклоняется).
	OnFatal func(queue string, err error)
}

// Consumer читает одну очередь и применяет политику ack/nack.
type Consumer struct {
	conn   *Connection
	logger *slog.Logger
	cfg    ConsumerConfig
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	return &Consumer{
		conn:   conn,
		logger: logger.With("queue", cfg.Queue),
		cfg:    cfg,
	}
}

// Start потребляет сообщения до отмены ctx. Переподключается после разрыва.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Подписываемся на переподключение до открытия канала
		reconnected := c.conn.ReconnectNotify()

		ch, deliveries, err := c.setupConsume()
		if err != nil {
			c.logger.Error("failed to setup consume", "error", err)
		} else {
			c.logger.Info("consumer started", "prefetch", c.cfg.Prefetch)
			c.processDeliveries(ctx, deliveries)
			ch.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries channel closed, waiting for reconnect")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reconnected:
		}
	}
}

func (c *Consumer) setupConsume() (*amqp.Channel, <-chan amqp.Delivery, error) {
	ch, err := c.conn.OpenChannel()
	if err != nil {
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		c.cfg.Queue, // queue
		"",          // consumer tag (auto-generated)
		false,       // auto-ack (мы ack вручную)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("consume: %w", err)
	}
	return ch, deliveries, nil
}

func (c *Consumer) processDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-deliveries:
			if !ok {
				return
			}
			c.handleDelivery(ctx, raw)
		}
	}
}

// handleDelivery вызывает обработчик и подтверждает сообщение по Decide.
func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) Outcome {
	err := c.cfg.Handler(ctx, NewDelivery(raw))
	outcome := Decide(err)

	var ackErr error
	switch outcome {
	case OutcomeAck:
		ackErr = raw.Ack(false)
	case OutcomeRequeue:
		c.logger.Warn("handler failed, requeue",
			"routing_key", raw.RoutingKey,
			"redelivered", raw.Redelivered,
			"error", err,
		)
		ackErr = raw.Nack(false, true)
	case OutcomeReject:
		c.logger.Error("handler failed, reject",
			"routing_key", raw.RoutingKey,
			"error", err,
		)
		ackErr = raw.Nack(false, false)
	}
	if ackErr != nil {
		c.logger.Error("failed to settle delivery", "outcome", outcome.String(), "error", ackErr)
	}

	if errs.IsKind(err, errs.KindFatal) && c.cfg.OnFatal != nil {
		c.cfg.OnFatal(c.cfg.Queue, err)
	}
	return outcome
}
