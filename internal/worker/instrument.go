package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/Citydata/internal/errs"
	"github.com/shaiso/Citydata/internal/mq"
	"github.com/shaiso/Citydata/internal/queue"
	"github.com/shaiso/Citydata/internal/telemetry"
)

// Instrument оборачивает метод воркера логами и метриками.
// Логгер с worker/method кладётся в context обработчика.
func Instrument(logger *slog.Logger, metrics *telemetry.Metrics, worker, method string, h mq.Handler) mq.Handler {
	log := telemetry.WithWorker(logger, worker, method)

	return func(ctx context.Context, d *mq.Delivery) error {
		start := time.Now()
		ctx = telemetry.WithLogger(ctx, log)

		err := h(ctx, d)
		elapsed := time.Since(start)

		status := telemetry.StatusOK
		switch {
		case err == nil:
			log.Info("message processed", "routing_key", d.RoutingKey, "duration", elapsed)
		case errs.IsRetryable(err):
			status = telemetry.StatusRetryable
			log.Warn("message failed, will be redelivered", "routing_key", d.RoutingKey, "duration", elapsed, "error", err)
		default:
			status = telemetry.StatusFailed
			log.Error("message failed", "routing_key", d.RoutingKey, "duration", elapsed, "error", err)
		}

		metrics.ObserveInvocation(worker, method, status, elapsed)
		return err
	}
}

// Wrapper возвращает queue.Wrapper, инструментирующий каждую привязку.
func Wrapper(logger *slog.Logger, metrics *telemetry.Metrics) queue.Wrapper {
	return func(b queue.Binding, h mq.Handler) mq.Handler {
		worker, method := b.Queue.Worker, b.Queue.Method
		if b.Queue.CustomProcess != nil {
			worker, method = b.Definition, b.Queue.Name
		}
		return Instrument(logger, metrics, worker, method, h)
	}
}
