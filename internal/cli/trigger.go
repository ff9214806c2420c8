package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/Citydata/internal/config"
	"github.com/shaiso/Citydata/internal/mq"
	"github.com/shaiso/Citydata/internal/queue"
)

// Publisher — публикация сырого сообщения в exchange.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte, opts mq.PublishOptions) error
}

// PublisherFactory открывает соединение с брокером. close освобождает его.
type PublisherFactory func(ctx context.Context, cfg *config.Config) (p Publisher, closeFn func() error, err error)

// NewTriggerCmd создаёт команду trigger MODULE QUEUE.
func NewTriggerCmd(envFn func() (*Env, error), outputFn func() *Output, publisherFn PublisherFactory) *cobra.Command {
	var (
		payload string
		headers []string
	)

	cmd := &cobra.Command{
		Use:   "trigger MODULE QUEUE",
		Short: "Publish a manual message to a module queue",
		Example: `  citydata trigger parkings refreshDataInDB
  citydata trigger meteosensors refreshDataInDB --header date=2024-03-05`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !json.Valid([]byte(payload)) {
				return fmt.Errorf("--payload is not valid JSON")
			}
			hdrs, err := parseHeaders(headers)
			if err != nil {
				return err
			}

			env, err := envFn()
			if err != nil {
				return err
			}
			registry, err := env.Registry()
			if err != nil {
				return err
			}

			b, ok := registry.Lookup(args[0], args[1])
			if !ok {
				return fmt.Errorf("queue %s of module %s is not bound (disabled or blacklisted?)", args[1], args[0])
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			p, closeFn, err := publisherFn(ctx, env.Config)
			if err != nil {
				return err
			}
			defer closeFn()

			key := queue.RoutingKey(queue.OriginManual, b.Prefix, b.Queue.Name)
			err = p.Publish(ctx, env.Config.RabbitMQ.Exchange, key, []byte(payload), mq.PublishOptions{
				Headers:     hdrs,
				ContentType: "application/json",
				Persistent:  b.Queue.Options.Durable,
			})
			if err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Published to %s (routing key %s)", env.Config.RabbitMQ.Exchange, key))
			return nil
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "{}", "Message body (JSON)")
	cmd.Flags().StringArrayVar(&headers, "header", nil, "Message header key=value (repeatable)")

	return cmd
}

func parseHeaders(raw []string) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid header %q, expected key=value", kv)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}
