package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Citydata/internal/errs"
	"github.com/shaiso/Citydata/internal/telemetry"
)

// ExchangeKind — тип общего обменника.
const ExchangeKind = amqp.ExchangeTopic

const publisherComponent = "publisher"

// PublishOptions — свойства публикуемого сообщения.
type PublishOptions struct {
	// Headers — AMQP заголовки (например, date для параметризованных загрузок).
	Headers map[string]any

	// ContentType — Default: application/json.
	ContentType string

	// Persistent — сообщение переживёт рестарт брокера.
	Persistent bool
}

// Publisher публикует сообщения в topic exchange.
//
// Перед первой публикацией в exchange он объявляется (идемпотентно).
// Ошибка публикации всегда retryable.
type Publisher struct {
	ch      ChannelProvider
	logger  *slog.Logger
	metrics *telemetry.Metrics
	durable bool

	mu       sync.Mutex
	declared map[string]bool
}

// PublisherOption — опция Publisher.
type PublisherOption func(*Publisher)

// WithDurableExchange объявляет exchange как durable.
func WithDurableExchange(durable bool) PublisherOption {
	return func(p *Publisher) { p.durable = durable }
}

// WithPublisherMetrics включает метрики публикаций.
func WithPublisherMetrics(m *telemetry.Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// NewPublisher создаёт Publisher.
func NewPublisher(ch ChannelProvider, logger *slog.Logger, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		ch:       ch,
		logger:   logger,
		declared: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish отправляет body в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, body []byte, opts PublishOptions) error {
	if exchange == "" {
		return errs.Fatal(publisherComponent, errs.CodeExchange, "exchange name is empty", nil)
	}

	err := p.ch.WithChannel(ctx, func(ch AMQPChannel) error {
		if err := p.ensureExchange(ch, exchange); err != nil {
			return err
		}

		msg := amqp.Publishing{
			Headers:     amqp.Table(opts.Headers),
			ContentType: opts.ContentType,
			MessageId:   uuid.NewString(),
			Timestamp:   time.Now().UTC(),
			Body:        body,
		}
		if msg.ContentType == "" {
			msg.ContentType = "application/json"
		}
		if opts.Persistent {
			msg.DeliveryMode = amqp.Persistent
		}

		if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
			// Канал мог быть пересоздан, объявим exchange заново
			p.forget(exchange)
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.MessageId,
		)
		return nil
	})

	p.metrics.ObservePublish(exchange, err)
	if err != nil {
		return errs.Transient(publisherComponent, errs.CodePublish, "publish message", err)
	}
	return nil
}

// PublishJSON сериализует payload в JSON и публикует его.
func (p *Publisher) PublishJSON(ctx context.Context, exchange, routingKey string, payload any, headers map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errs.New(errs.KindValidation, publisherComponent, errs.CodePublish, "marshal payload", false, err)
	}
	return p.Publish(ctx, exchange, routingKey, body, PublishOptions{Headers: headers})
}

func (p *Publisher) ensureExchange(ch AMQPChannel, exchange string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.declared[exchange] {
		return nil
	}
	if err := DeclareExchange(ch, exchange, p.durable); err != nil {
		return err
	}
	p.declared[exchange] = true
	return nil
}

func (p *Publisher) forget(exchange string) {
	p.mu.Lock()
	delete(p.declared, exchange)
	p.mu.Unlock()
}
