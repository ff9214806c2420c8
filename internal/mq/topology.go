package mq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueSpec — описание очереди и её привязки к exchange.
type QueueSpec struct {
	// Name — полное имя очереди.
	Name string

	// Exchange — exchange, к которому привязывается очередь.
	Exchange string

	// BindingKey — шаблон routing key (topic).
	BindingKey string

	Durable bool

	// DeadLetterExchange — куда брокер отправляет отклонённые сообщения.
	DeadLetterExchange string

	// MessageTTL — время жизни сообщения в очереди. 0 — без TTL.
	MessageTTL time.Duration

	// DeliveryLimit — x-delivery-limit (только quorum очереди).
	DeliveryLimit int

	// Quorum — объявить quorum очередь (требует Durable).
	Quorum bool
}

// Args возвращает аргументы QueueDeclare.
func (s QueueSpec) Args() amqp.Table {
	args := amqp.Table{}
	if s.DeadLetterExchange != "" {
		args["x-dead-letter-exchange"] = s.DeadLetterExchange
	}
	if s.MessageTTL > 0 {
		args["x-message-ttl"] = s.MessageTTL.Milliseconds()
	}
	if s.Quorum && s.Durable {
		args["x-queue-type"] = "quorum"
		if s.DeliveryLimit > 0 {
			args["x-delivery-limit"] = s.DeliveryLimit
		}
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// DeclareExchange объявляет topic exchange. Повторное объявление идемпотентно.
func DeclareExchange(ch AMQPChannel, name string, durable bool) error {
	err := ch.ExchangeDeclare(
		name,         // name
		ExchangeKind, // type
		durable,      // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	return nil
}

// DeclareQueue объявляет очередь и привязывает её к exchange.
func DeclareQueue(ch AMQPChannel, spec QueueSpec) error {
	_, err := ch.QueueDeclare(
		spec.Name,    // name
		spec.Durable, // durable
		false,        // delete when unused
		false,        // exclusive
		false,        // no-wait
		spec.Args(),  // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", spec.Name, err)
	}

	if err := ch.QueueBind(spec.Name, spec.BindingKey, spec.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", spec.Name, spec.Exchange, err)
	}
	return nil
}

// Topology — exchange, очереди и dead-letter exchange процесса.
type Topology struct {
	Exchange        string
	ExchangeDurable bool

	// DeadLetterExchange — объявляется вместе с очередью-накопителем того же имени.
	DeadLetterExchange string

	Queues []QueueSpec
}

// Declare объявляет всю топологию на общем канале.
func (t Topology) Declare(ctx context.Context, p ChannelProvider) error {
	return p.WithChannel(ctx, func(ch AMQPChannel) error {
		if err := DeclareExchange(ch, t.Exchange, t.ExchangeDurable); err != nil {
			return err
		}

		if t.DeadLetterExchange != "" {
			if err := DeclareExchange(ch, t.DeadLetterExchange, true); err != nil {
				return err
			}
			dlq := QueueSpec{
				Name:       t.DeadLetterExchange,
				Exchange:   t.DeadLetterExchange,
				BindingKey: "#",
				Durable:    true,
			}
			if err := DeclareQueue(ch, dlq); err != nil {
				return err
			}
		}

		for _, q := range t.Queues {
			if err := DeclareQueue(ch, q); err != nil {
				return err
			}
		}
		return nil
	})
}
